package job

import (
	"Atrium/internal/repository"
	"context"
	log "log/slog"
	"time"
)

// ConversationPurgeJob 定期物理清理双方都已删除的会话及其消息
type ConversationPurgeJob struct {
	convRepo repository.ConversationRepo
}

func NewConversationPurgeJob(convRepo repository.ConversationRepo) *ConversationPurgeJob {
	return &ConversationPurgeJob{convRepo: convRepo}
}

// Run 实现 cron.Job
func (s *ConversationPurgeJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	purged, err := s.convRepo.PurgeDeletedByBoth(ctx)
	if err != nil {
		log.Error("会话清理任务失败", "err", err)
		return
	}
	if purged > 0 {
		log.Info("会话清理任务完成", "purged", purged)
	}
}
