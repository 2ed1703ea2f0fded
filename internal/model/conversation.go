package model

import "time"

// Conversation 会话主表：固定两名参与者的单聊会话
type Conversation struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	InitiatorID uint64 `gorm:"not null;index" json:"initiatorId"`
	ReceiverID  uint64 `gorm:"not null;index" json:"receiverId"`
	// PairKey uid小_uid大，唯一索引保证同一对用户并发创建时至多一行
	PairKey string `gorm:"uniqueIndex;type:varchar(64);not null" json:"-"`

	// 弱引用最近一条消息，仅用于会话列表预览
	LastMessageID *uint64   `gorm:"index" json:"lastMessageId"`
	LastMessageAt time.Time `gorm:"index" json:"lastMessageAt"`

	// 双方各自独立的软删除标记
	InitiatorDeletedAt *time.Time `json:"initiatorDeletedAt"`
	ReceiverDeletedAt  *time.Time `json:"receiverDeletedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `gorm:"index" json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant 判断用户是否是会话参与者
func (c *Conversation) HasParticipant(userID uint64) bool {
	return c.InitiatorID == userID || c.ReceiverID == userID
}

// PeerOf 返回对手方用户 ID
func (c *Conversation) PeerOf(userID uint64) uint64 {
	if c.InitiatorID == userID {
		return c.ReceiverID
	}
	return c.InitiatorID
}

// DeletedBy 返回指定参与者的软删除标记
func (c *Conversation) DeletedBy(userID uint64) *time.Time {
	if c.InitiatorID == userID {
		return c.InitiatorDeletedAt
	}
	return c.ReceiverDeletedAt
}

// IsDeletedByBothUsers 双方都删除后才允许物理清理
func (c *Conversation) IsDeletedByBothUsers() bool {
	return c.InitiatorDeletedAt != nil && c.ReceiverDeletedAt != nil
}
