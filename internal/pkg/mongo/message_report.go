package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageReport 消息举报流水，只追加不修改
type MessageReport struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MessageID        uint64             `bson:"message_id" json:"messageId"`
	ConversationID   uint64             `bson:"conversation_id" json:"conversationId"`
	ReportedByUserID uint64             `bson:"reported_by_user_id" json:"reportedByUserId"`
	Reason           string             `bson:"reason" json:"reason"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
}
