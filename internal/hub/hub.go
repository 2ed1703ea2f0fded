package hub

import (
	"Atrium/internal/pkg/consts"
	"Atrium/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Dispatcher 处理客户端经 WS 发起的调用，由业务层实现。
// userID 一律取自连接鉴权结果，不信任客户端上报。
type Dispatcher interface {
	MarkMessageAsRead(ctx context.Context, userID, messageID uint64) error
	DeleteMessage(ctx context.Context, userID, messageID uint64) error
}

// PresenceNotifier 连接数 0→1 / 1→0 跃迁时由 Hub 回调
type PresenceNotifier interface {
	UserConnected(ctx context.Context, userID uint64)
	UserDisconnected(ctx context.Context, userID uint64)
}

// Hub 维护本实例的用户连接组，并经 Redis Pub/Sub 与其他实例互通。
// 同一用户的多端连接在同一组内，每个事件对组内全部连接各推一次。
type Hub struct {
	mu     sync.RWMutex
	groups map[uint64]map[*Client]struct{}

	dispatcher Dispatcher
	notifier   PresenceNotifier
}

func NewHub() *Hub {
	return &Hub{
		groups: make(map[uint64]map[*Client]struct{}),
	}
}

// Bind 注入业务回调，wire 阶段调用一次
func (h *Hub) Bind(d Dispatcher, n PresenceNotifier) {
	h.dispatcher = d
	h.notifier = n
}

// Push 向指定用户的所有在线会话推送事件。
// 统一走 Redis 总线，本实例与其他实例的订阅端各自投递本地连接。
func (h *Hub) Push(ctx context.Context, userID uint64, event string, payload interface{}) error {
	data, err := json.Marshal(&Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	channel := consts.IMUserKey + strconv.FormatUint(userID, 10)
	return redis.Publish(ctx, channel, data)
}

// Run 订阅用户频道并向本地连接投递，随 ctx 退出
func (h *Hub) Run(ctx context.Context) error {
	pubsub := redis.PSubscribe(ctx, consts.IMUserKey+"*")
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, consts.IMUserKey), 10, 64)
			if err != nil {
				log.Warn("WS 总线频道名异常", "channel", msg.Channel)
				continue
			}
			h.deliverLocal(userID, []byte(msg.Payload))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// deliverLocal 向本实例上该用户的全部连接投递。
// 至多一次：发送缓冲已满的连接直接丢弃本条，由客户端下次加载时经 REST 对账。
// 发送全程持读锁，与 drop 中的 close 互斥。
func (h *Hub) deliverLocal(userID uint64, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.groups[userID] {
		select {
		case c.send <- raw:
		default:
			log.Warn("WS 发送缓冲已满，丢弃事件", "userID", userID)
		}
	}
}

// join 将连接加入用户组
func (h *Hub) join(c *Client) {
	h.mu.Lock()
	group, ok := h.groups[c.userID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[c.userID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	if h.notifier != nil {
		h.notifier.UserConnected(context.Background(), c.userID)
	}
	log.Info("WS 用户加入分组", "userID", c.userID)
}

// leave 显式退组，连接保持打开，之后可重新加入
func (h *Hub) leave(c *Client) {
	if !h.removeLocked(c, false) {
		return
	}

	if h.notifier != nil {
		h.notifier.UserDisconnected(context.Background(), c.userID)
	}
	log.Info("WS 用户离开分组", "userID", c.userID)
}

// drop 连接终止时的清理：退组并关闭发送通道
func (h *Hub) drop(c *Client, wasJoined bool) {
	h.removeLocked(c, true)

	if wasJoined && h.notifier != nil {
		h.notifier.UserDisconnected(context.Background(), c.userID)
	}
}

func (h *Hub) removeLocked(c *Client, closeSend bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := false
	if group, ok := h.groups[c.userID]; ok {
		if _, ok = group[c]; ok {
			delete(group, c)
			removed = true
			if len(group) == 0 {
				delete(h.groups, c.userID)
			}
		}
	}
	if closeSend && !c.sendClosed {
		close(c.send)
		c.sendClosed = true
	}
	return removed
}
