package cron

import (
	"Atrium/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine   *cron.Cron
	purgeJob *job.ConversationPurgeJob
}

func NewCronManager(purgeJob *job.ConversationPurgeJob) *Manager {
	return &Manager{
		engine:   cron.New(cron.WithSeconds()),
		purgeJob: purgeJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob("@hourly", s.purgeJob); err != nil {
		return err
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动")
	s.engine.Start()
}

func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	s.engine.Stop()
}

// InitCron 注册并启动全部定时任务
func InitCron(m *Manager) error {
	if err := m.RegisterJobs(); err != nil {
		return err
	}
	m.Start()
	return nil
}
