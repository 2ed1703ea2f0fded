package hub

import (
	"context"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // 写超时
	pongWait       = 60 * time.Second    // 等待pong的最大时间
	pingPeriod     = (pongWait * 9) / 10 // 发送ping的周期
	maxMessageSize = 4096                // 入站消息最大长度
	sendBufferSize = 256
)

// Client 一条已鉴权的 WS 连接
type Client struct {
	userID uint64
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	// joined 为真表示连接已加入用户组；组成员资格不跨连接存活，
	// 断线重连后客户端必须重新 JoinUserGroup
	joined     bool
	sendClosed bool
}

func NewClient(userID uint64, conn *websocket.Conn, h *Hub) *Client {
	return &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		hub:    h,
	}
}

// ReadPump 读循环：解析客户端调用并分发，连接断开时清理组成员
func (c *Client) ReadPump() {
	defer func() {
		c.hub.drop(c, c.joined)
		c.joined = false
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WS 连接异常断开", "userID", c.userID, "err", err)
			}
			return
		}
		c.handleInvocation(raw)
	}
}

// WritePump 写循环：推送事件并保活
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Warn("WS 推送失败", "userID", c.userID, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleInvocation 处理单次客户端调用；调用失败回发 InvokeError，连接不中断
func (c *Client) handleInvocation(raw []byte) {
	var inv Invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		c.replyError("", "请求格式错误")
		return
	}

	var payload InvocationPayload
	if len(inv.Data) > 0 {
		if err := json.Unmarshal(inv.Data, &payload); err != nil {
			c.replyError(inv.Action, "参数错误")
			return
		}
	}

	// 客户端上报的 userId 只做对账，与连接身份不符直接拒绝
	if payload.UserID != 0 && payload.UserID != c.userID {
		c.replyError(inv.Action, "权限不足")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch inv.Action {
	case ActionJoinUserGroup:
		if !c.joined {
			c.hub.join(c)
			c.joined = true
		}
	case ActionLeaveUserGroup:
		if c.joined {
			c.hub.leave(c)
			c.joined = false
		}
	case ActionMarkMessageAsRead:
		err = c.hub.dispatcher.MarkMessageAsRead(ctx, c.userID, payload.MessageID)
	case ActionDeleteMessage:
		err = c.hub.dispatcher.DeleteMessage(ctx, c.userID, payload.MessageID)
	default:
		c.replyError(inv.Action, "未知操作")
		return
	}

	if err != nil {
		log.Warn("WS 调用失败", "action", inv.Action, "userID", c.userID, "err", err)
		c.replyError(inv.Action, err.Error())
	}
}

func (c *Client) replyError(action, message string) {
	data, err := json.Marshal(&Envelope{
		Event: EventInvokeError,
		Data:  &InvokeErrorData{Action: action, Message: message},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
