package client

import "time"

// Message 客户端侧消息，content 为服务端透传的密文
type Message struct {
	ID               uint64    `json:"id"`
	ConversationID   uint64    `json:"conversationId"`
	SenderID         uint64    `json:"senderId"`
	ReceiverID       uint64    `json:"receiverId"`
	Content          string    `json:"content"`
	MessageType      int8      `json:"messageType"`
	ReplyToMessageID *uint64   `json:"replyToMessageId"`
	IsRead           bool      `json:"isRead"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Conversation 客户端侧会话列表项
type Conversation struct {
	ID            uint64    `json:"id"`
	InitiatorID   uint64    `json:"initiatorId"`
	ReceiverID    uint64    `json:"receiverId"`
	PeerID        uint64    `json:"peerId"`
	LastMessage   *Message  `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int64     `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// PagedMessages 分页消息结果，最新在前
type PagedMessages struct {
	Items       []*Message `json:"items"`
	Page        int        `json:"page"`
	PageSize    int        `json:"pageSize"`
	TotalItems  int64      `json:"totalItems"`
	TotalPages  int        `json:"totalPages"`
	HasNext     bool       `json:"hasNext"`
	HasPrevious bool       `json:"hasPrevious"`
}

// OnlineStatus 在线状态查询结果
type OnlineStatus struct {
	UserID    uint64    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationUpdate 会话预览推送
type ConversationUpdate struct {
	ConversationID uint64    `json:"conversationId"`
	LastMessage    *Message  `json:"lastMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PresenceUpdate 上下线推送
type PresenceUpdate struct {
	UserID    uint64    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageRead 已读回执推送
type MessageRead struct {
	MessageID      uint64    `json:"messageId"`
	ConversationID uint64    `json:"conversationId"`
	ReadByUserID   uint64    `json:"readByUserId"`
	ReadAt         time.Time `json:"readAt"`
}

// MessageDeleted 消息删除推送
type MessageDeleted struct {
	MessageID      uint64 `json:"messageId"`
	ConversationID uint64 `json:"conversationId"`
}

// MarkReadResult 会话级已读结果
type MarkReadResult struct {
	MarkedCount int `json:"markedCount"`
}

// ReportResult 举报受理结果
type ReportResult struct {
	ReportID   string    `json:"reportId"`
	ReportedAt time.Time `json:"reportedAt"`
}
