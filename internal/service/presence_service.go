package service

import (
	"Atrium/internal/api/dto"
	"Atrium/internal/hub"
	"Atrium/internal/pkg/consts"
	"Atrium/internal/pkg/redis"
	"Atrium/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"
)

// PresenceService 在线状态：Redis 连接计数，0→1 / 1→0 跃迁时
// 向所有与该用户有会话的对手方广播上下线事件
type PresenceService interface {
	UserConnected(ctx context.Context, userID uint64)
	UserDisconnected(ctx context.Context, userID uint64)
	GetOnlineStatus(ctx context.Context, userID uint64) (*dto.OnlineStatusDTO, error)
}

type presenceServiceImpl struct {
	convRepo repository.ConversationRepo
	pusher   EventPusher
}

func NewPresenceService(convRepo repository.ConversationRepo, pusher EventPusher) PresenceService {
	return &presenceServiceImpl{convRepo: convRepo, pusher: pusher}
}

func onlineKey(userID uint64) string {
	return consts.IMOnlineKey + strconv.FormatUint(userID, 10)
}

func (s *presenceServiceImpl) UserConnected(ctx context.Context, userID uint64) {
	n, err := redis.Incr(ctx, onlineKey(userID))
	if err != nil {
		log.Error("在线计数自增失败", "userID", userID, "err", err)
		return
	}
	if n == 1 {
		s.broadcast(ctx, userID, true)
	}
}

func (s *presenceServiceImpl) UserDisconnected(ctx context.Context, userID uint64) {
	n, err := redis.DecrFloor(ctx, onlineKey(userID))
	if err != nil {
		log.Error("在线计数自减失败", "userID", userID, "err", err)
		return
	}
	if n == 0 {
		s.broadcast(ctx, userID, false)
	}
}

// GetOnlineStatus 按需查询，客户端首次打开会话时调用
func (s *presenceServiceImpl) GetOnlineStatus(ctx context.Context, userID uint64) (*dto.OnlineStatusDTO, error) {
	n, err := redis.GetInt(ctx, onlineKey(userID))
	if err != nil {
		return nil, err
	}
	return &dto.OnlineStatusDTO{
		UserID:    userID,
		IsOnline:  n > 0,
		Timestamp: time.Now(),
	}, nil
}

func (s *presenceServiceImpl) broadcast(ctx context.Context, userID uint64, online bool) {
	peers, err := s.convRepo.ListPeerIDs(ctx, userID)
	if err != nil {
		log.Error("查询会话对手方失败", "userID", userID, "err", err)
		return
	}

	payload := &dto.PresenceUpdateDTO{
		UserID:    userID,
		IsOnline:  online,
		Timestamp: time.Now(),
	}
	for _, peer := range peers {
		if err := s.pusher.Push(ctx, peer, hub.EventUserPresenceUpdate, payload); err != nil {
			log.Warn("上下线广播失败", "peer", peer, "err", err)
		}
	}
}
