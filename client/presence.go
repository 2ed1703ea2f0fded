package client

import (
	"context"
	"sync"
	"time"
)

// PresenceTracker 纯内存在线状态：首查走 REST，其后靠推送维护。
// 不落盘，新会话期一律从未知（离线）起步，重连后重置
type PresenceTracker struct {
	transport Transport

	mu     sync.RWMutex
	online map[uint64]bool
	seenAt map[uint64]time.Time
}

func NewPresenceTracker(transport Transport) *PresenceTracker {
	return &PresenceTracker{
		transport: transport,
		online:    make(map[uint64]bool),
		seenAt:    make(map[uint64]time.Time),
	}
}

// CheckUserOnlineStatus 首次打开会话时的 REST 兜底查询，结果种入内存
func (t *PresenceTracker) CheckUserOnlineStatus(ctx context.Context, userID uint64) (bool, error) {
	status, err := t.transport.CheckUserOnlineStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	if status.Timestamp.After(t.seenAt[userID]) {
		t.online[userID] = status.IsOnline
		t.seenAt[userID] = status.Timestamp
	}
	online := t.online[userID]
	t.mu.Unlock()
	return online, nil
}

// IsOnline 未知用户视为离线
func (t *PresenceTracker) IsOnline(userID uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// HandlePresenceUpdate 推送更新，时间戳旧于已知状态的忽略
func (t *PresenceTracker) HandlePresenceUpdate(update *PresenceUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if update.Timestamp.Before(t.seenAt[update.UserID]) {
		return
	}
	t.online[update.UserID] = update.IsOnline
	t.seenAt[update.UserID] = update.Timestamp
}

// Reset 断线期间可能漏掉跃迁事件，重连成功后清空重来
func (t *PresenceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[uint64]bool)
	t.seenAt = make(map[uint64]time.Time)
}

// Attach 接入推送与重连重置
func (t *PresenceTracker) Attach(hc *HubClient) {
	hc.OnUserPresenceUpdate(t.HandlePresenceUpdate)
	hc.OnStateChange(func(s ConnState) {
		if s == StateConnected {
			t.Reset()
		}
	})
}
