package model

import "time"

// 消息类型
const (
	MsgTypeText   int8 = 1
	MsgTypeImage  int8 = 2
	MsgTypeFile   int8 = 3
	MsgTypeAudio  int8 = 4
	MsgTypeVideo  int8 = 5
	MsgTypeSystem int8 = 6
)

// Message 消息表，content 存客户端加密后的密文
type Message struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64 `gorm:"not null;index:idx_conv_created" json:"conversationId"`
	SenderID       uint64 `gorm:"not null;index" json:"senderId"`
	ReceiverID     uint64 `gorm:"not null;index" json:"receiverId"`
	Content        string `gorm:"type:text;not null" json:"content"`
	MsgType        int8   `gorm:"not null;default:1" json:"messageType"`
	// 弱引用同会话内被回复的消息，无级联约束
	ReplyToMessageID *uint64 `json:"replyToMessageId"`
	// 只允许 false -> true 单向翻转
	IsRead bool `gorm:"not null;default:false;index" json:"isRead"`

	CreatedAt time.Time  `gorm:"index:idx_conv_created" json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `gorm:"index" json:"-"`
}

func (Message) TableName() string { return "messages" }

// ValidMsgType 校验消息类型枚举
func ValidMsgType(t int8) bool {
	return t >= MsgTypeText && t <= MsgTypeSystem
}
