package client

import (
	"context"
	"fmt"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// 连接状态机
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Disconnected"
	}
}

// 重连退避表，走完后停在末项循环
var reconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// 服务端事件名，与 Hub 侧一致
const (
	eventReceiveMessage      = "ReceiveMessage"
	eventConversationUpdated = "ConversationUpdated"
	eventUserPresenceUpdate  = "UserPresenceUpdate"
	eventMessageRead         = "MessageRead"
	eventMessageDeleted      = "MessageDeleted"
	eventInvokeError         = "InvokeError"
)

const (
	actionJoinUserGroup     = "JoinUserGroup"
	actionLeaveUserGroup    = "LeaveUserGroup"
	actionMarkMessageAsRead = "MarkMessageAsRead"
	actionDeleteMessage     = "DeleteMessage"
)

type hubEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type hubInvocation struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data"`
}

type invocationPayload struct {
	UserID    uint64 `json:"userId"`
	MessageID uint64 `json:"messageId"`
}

// InvokeError RPC 调用失败回执
type InvokeError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// HubClient 长连接客户端：断线按退避表自动重连，重连成功后重新入组。
// 事件按单连接到达顺序串行分发给订阅者
type HubClient struct {
	baseURL string
	token   string
	userID  uint64

	mu      sync.RWMutex
	writeMu sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	closed  bool

	subs   *subscriptions
	cancel context.CancelFunc
	done   chan struct{}
}

type subscriptions struct {
	mu              sync.RWMutex
	nextID          int
	receiveMessage  map[int]func(*Message)
	convUpdated     map[int]func(*ConversationUpdate)
	presenceUpdate  map[int]func(*PresenceUpdate)
	messageRead     map[int]func(*MessageRead)
	messageDeleted  map[int]func(*MessageDeleted)
	invokeError     map[int]func(*InvokeError)
	stateTransition map[int]func(ConnState)
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		receiveMessage:  make(map[int]func(*Message)),
		convUpdated:     make(map[int]func(*ConversationUpdate)),
		presenceUpdate:  make(map[int]func(*PresenceUpdate)),
		messageRead:     make(map[int]func(*MessageRead)),
		messageDeleted:  make(map[int]func(*MessageDeleted)),
		invokeError:     make(map[int]func(*InvokeError)),
		stateTransition: make(map[int]func(ConnState)),
	}
}

// NewHubClient baseURL 形如 ws://host:port
func NewHubClient(baseURL, token string, userID uint64) *HubClient {
	return &HubClient{
		baseURL: baseURL,
		token:   token,
		userID:  userID,
		state:   StateDisconnected,
		subs:    newSubscriptions(),
	}
}

// State 当前连接状态
func (c *HubClient) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *HubClient) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.subs.mu.RLock()
	for _, fn := range c.subs.stateTransition {
		fn(s)
	}
	c.subs.mu.RUnlock()
}

// Start 建立连接并保持，内部循环按退避表重连，直到 Close 或 ctx 取消
func (c *HubClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("hub client 已关闭")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *HubClient) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	reconnect := false
	for {
		if reconnect {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		delay := reconnectDelays[min(attempt, len(reconnectDelays)-1)]
		if delay > 0 {
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Warn("Hub 连接失败", "attempt", attempt, "err", err)
			attempt++
			reconnect = true
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)

		// 组成员关系不跨连接存活，每次连上都重新入组
		if err = c.invoke(actionJoinUserGroup, invocationPayload{UserID: c.userID}); err != nil {
			log.Warn("入组失败，断开重试", "err", err)
			_ = conn.Close()
			attempt++
			reconnect = true
			continue
		}
		attempt = 0

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		// 掉线后首次重连不等待，之后才按退避表递增
		attempt = 0
		reconnect = true
	}
}

func (c *HubClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/api/ws/connect")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return conn, err
}

// readLoop 单连接内事件有序，逐条同步分发
func (c *HubClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() {
				log.Warn("Hub 连接断开", "err", err)
			}
			return
		}
		var env hubEnvelope
		if err = json.Unmarshal(raw, &env); err != nil {
			log.Warn("事件解析失败", "err", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *HubClient) dispatch(env *hubEnvelope) {
	switch env.Event {
	case eventReceiveMessage:
		var msg Message
		if json.Unmarshal(env.Data, &msg) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.receiveMessage {
					fn(&msg)
				}
			})
		}
	case eventConversationUpdated:
		var update ConversationUpdate
		if json.Unmarshal(env.Data, &update) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.convUpdated {
					fn(&update)
				}
			})
		}
	case eventUserPresenceUpdate:
		var update PresenceUpdate
		if json.Unmarshal(env.Data, &update) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.presenceUpdate {
					fn(&update)
				}
			})
		}
	case eventMessageRead:
		var read MessageRead
		if json.Unmarshal(env.Data, &read) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.messageRead {
					fn(&read)
				}
			})
		}
	case eventMessageDeleted:
		var deleted MessageDeleted
		if json.Unmarshal(env.Data, &deleted) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.messageDeleted {
					fn(&deleted)
				}
			})
		}
	case eventInvokeError:
		var invokeErr InvokeError
		if json.Unmarshal(env.Data, &invokeErr) == nil {
			c.subs.each(func(s *subscriptions) {
				for _, fn := range s.invokeError {
					fn(&invokeErr)
				}
			})
		}
	default:
		log.Debug("未知事件", "event", env.Event)
	}
}

func (s *subscriptions) each(fn func(*subscriptions)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

func (s *subscriptions) add(register func(id int)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	register(id)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.receiveMessage, id)
		delete(s.convUpdated, id)
		delete(s.presenceUpdate, id)
		delete(s.messageRead, id)
		delete(s.messageDeleted, id)
		delete(s.invokeError, id)
		delete(s.stateTransition, id)
		s.mu.Unlock()
	}
}

// OnReceiveMessage 订阅新消息推送，返回取消订阅函数
func (c *HubClient) OnReceiveMessage(fn func(*Message)) func() {
	return c.subs.add(func(id int) { c.subs.receiveMessage[id] = fn })
}

// OnConversationUpdated 订阅会话预览推送
func (c *HubClient) OnConversationUpdated(fn func(*ConversationUpdate)) func() {
	return c.subs.add(func(id int) { c.subs.convUpdated[id] = fn })
}

// OnUserPresenceUpdate 订阅上下线推送
func (c *HubClient) OnUserPresenceUpdate(fn func(*PresenceUpdate)) func() {
	return c.subs.add(func(id int) { c.subs.presenceUpdate[id] = fn })
}

// OnMessageRead 订阅已读回执推送
func (c *HubClient) OnMessageRead(fn func(*MessageRead)) func() {
	return c.subs.add(func(id int) { c.subs.messageRead[id] = fn })
}

// OnMessageDeleted 订阅消息删除推送
func (c *HubClient) OnMessageDeleted(fn func(*MessageDeleted)) func() {
	return c.subs.add(func(id int) { c.subs.messageDeleted[id] = fn })
}

// OnInvokeError 订阅 RPC 失败回执
func (c *HubClient) OnInvokeError(fn func(*InvokeError)) func() {
	return c.subs.add(func(id int) { c.subs.invokeError[id] = fn })
}

// OnStateChange 订阅连接状态跃迁
func (c *HubClient) OnStateChange(fn func(ConnState)) func() {
	return c.subs.add(func(id int) { c.subs.stateTransition[id] = fn })
}

func (c *HubClient) invoke(action string, payload invocationPayload) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("未连接")
	}
	raw, err := json.Marshal(hubInvocation{Action: action, Data: payload})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// MarkMessageAsRead 连接内 RPC 标记单条已读
func (c *HubClient) MarkMessageAsRead(messageID uint64) error {
	return c.invoke(actionMarkMessageAsRead, invocationPayload{UserID: c.userID, MessageID: messageID})
}

// DeleteMessage 连接内 RPC 删除消息
func (c *HubClient) DeleteMessage(messageID uint64) error {
	return c.invoke(actionDeleteMessage, invocationPayload{UserID: c.userID, MessageID: messageID})
}

func (c *HubClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close 登出时调用：先显式退组再关闭，不再重连
func (c *HubClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		_ = c.invoke(actionLeaveUserGroup, invocationPayload{UserID: c.userID})
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}
