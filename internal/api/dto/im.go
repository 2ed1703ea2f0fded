package dto

import "time"

// CreateConversationReq 创建会话请求体，同一对用户重复创建返回已有会话
type CreateConversationReq struct {
	InitiatorID uint64 `json:"initiatorId" binding:"required"`
	ReceiverID  uint64 `json:"receiverId" binding:"required"`
}

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID   uint64  `json:"conversationId" binding:"required"`
	SenderID         uint64  `json:"senderId" binding:"required"`
	Content          string  `json:"content" binding:"required"`
	MessageType      int8    `json:"messageType"`
	ReplyToMessageID *uint64 `json:"replyToMessageId"`
}

// MarkReadReq 会话级已读请求
type MarkReadReq struct {
	ConversationID uint64 `json:"conversationId" binding:"required"`
	UserID         uint64 `json:"userId" binding:"required"`
}

// MarkSingleReadReq 单条消息已读请求
type MarkSingleReadReq struct {
	UserID uint64 `json:"userId" binding:"required"`
}

// ReportMessageReq 举报消息请求
type ReportMessageReq struct {
	ReportedByUserID uint64 `json:"reportedByUserId" binding:"required"`
	Reason           string `json:"reason" binding:"required,max=2000"`
}

// MessageDTO 消息明细响应，content 为密文原样透传
type MessageDTO struct {
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

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ID            uint64      `json:"id"`
	InitiatorID   uint64      `json:"initiatorId"`
	ReceiverID    uint64      `json:"receiverId"`
	PeerID        uint64      `json:"peerId"`
	LastMessage   *MessageDTO `json:"lastMessage"`
	LastMessageAt time.Time   `json:"lastMessageAt"`
	UnreadCount   int64       `json:"unreadCount"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// PagedMessagesDTO 分页消息响应，按创建时间倒序（最新在前）
type PagedMessagesDTO struct {
	Items       []*MessageDTO `json:"items"`
	Page        int           `json:"page"`
	PageSize    int           `json:"pageSize"`
	TotalItems  int64         `json:"totalItems"`
	TotalPages  int           `json:"totalPages"`
	HasNext     bool          `json:"hasNext"`
	HasPrevious bool          `json:"hasPrevious"`
}

// MarkReadResultDTO 会话级已读结果
type MarkReadResultDTO struct {
	MarkedCount int `json:"markedCount"`
}

// SingleReadResultDTO 单条已读结果
type SingleReadResultDTO struct {
	MessageID uint64    `json:"messageId"`
	IsRead    bool      `json:"isRead"`
	ReadAt    time.Time `json:"readAt"`
}

// DeleteMessageResultDTO 删除消息确认
type DeleteMessageResultDTO struct {
	MessageID uint64    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ReportResultDTO 举报受理结果
type ReportResultDTO struct {
	ReportID   string    `json:"reportId"`
	ReportedAt time.Time `json:"reportedAt"`
}

// OnlineStatusDTO 在线状态查询结果
type OnlineStatusDTO struct {
	UserID    uint64    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationUpdateDTO 会话预览推送，客户端免拉取即可刷新列表项
type ConversationUpdateDTO struct {
	ConversationID uint64      `json:"conversationId"`
	LastMessage    *MessageDTO `json:"lastMessage"`
	LastMessageAt  time.Time   `json:"lastMessageAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// PresenceUpdateDTO 上下线推送
type PresenceUpdateDTO struct {
	UserID    uint64    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageReadDTO 已读回执推送，发给原消息的发送方
type MessageReadDTO struct {
	MessageID      uint64    `json:"messageId"`
	ConversationID uint64    `json:"conversationId"`
	ReadByUserID   uint64    `json:"readByUserId"`
	ReadAt         time.Time `json:"readAt"`
}

// MessageDeletedDTO 消息删除推送，双方都会收到
type MessageDeletedDTO struct {
	MessageID      uint64 `json:"messageId"`
	ConversationID uint64 `json:"conversationId"`
}
