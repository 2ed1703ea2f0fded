package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageReportRepo interface {
	SaveReport(ctx context.Context, report *MessageReport) error
	ListByMessage(ctx context.Context, messageID uint64, limit int) ([]*MessageReport, error)
}

type messageReportRepoImpl struct {
	col *mongo.Collection
}

func NewMessageReportRepo(db *mongo.Database) MessageReportRepo {
	return &messageReportRepoImpl{
		col: db.Collection("message_report"),
	}
}

// SaveReport 追加一条举报记录，重复举报同一消息不做去重
func (s *messageReportRepoImpl) SaveReport(ctx context.Context, report *MessageReport) error {
	_, err := s.col.InsertOne(ctx, report)
	return err
}

// ListByMessage 按时间倒序拉取某条消息的举报记录
func (s *messageReportRepoImpl) ListByMessage(ctx context.Context, messageID uint64, limit int) ([]*MessageReport, error) {
	filter := bson.M{"message_id": messageID}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var reports []*MessageReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, err
	}

	return reports, nil
}
