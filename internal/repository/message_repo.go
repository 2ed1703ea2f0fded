package repository

import (
	"Atrium/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
)

type MessageRepo interface {
	// CreateInConversation 消息落库并同步会话预览字段，同一事务
	CreateInConversation(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, msgID uint64) (*model.Message, error)
	GetByIDs(ctx context.Context, msgIDs []uint64) (map[uint64]*model.Message, error)
	ListPage(ctx context.Context, convID uint64, page, pageSize int) ([]*model.Message, int64, error)

	MarkConversationRead(ctx context.Context, convID, receiverID uint64) ([]uint64, error)
	MarkRead(ctx context.Context, msgID uint64) error
	SoftDelete(ctx context.Context, msgID uint64, at time.Time) error
	CountUnreadByConversations(ctx context.Context, convIDs []uint64, receiverID uint64) (map[uint64]int64, error)
}

type messageRepoImpl struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) MessageRepo {
	return &messageRepoImpl{db: db}
}

// CreateInConversation 插入消息并更新会话的 last_message 指针与活跃时间。
// 两个写入要么同时生效要么同时失败；发消息同时唤醒双方的软删除标记，
// 让被单边删除的会话重新浮现。
func (s *messageRepoImpl) CreateInConversation(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]interface{}{
				"last_message_id":      msg.ID,
				"last_message_at":      msg.CreatedAt,
				"updated_at":           msg.CreatedAt,
				"initiator_deleted_at": nil,
				"receiver_deleted_at":  nil,
			}).Error
	})
}

func (s *messageRepoImpl) GetByID(ctx context.Context, msgID uint64) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("deleted_at IS NULL").First(&msg, msgID).Error
	return &msg, err
}

func (s *messageRepoImpl) GetByIDs(ctx context.Context, msgIDs []uint64) (map[uint64]*model.Message, error) {
	if len(msgIDs) == 0 {
		return map[uint64]*model.Message{}, nil
	}
	var msgs []*model.Message
	err := s.db.WithContext(ctx).Where("id IN ?", msgIDs).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	res := make(map[uint64]*model.Message, len(msgs))
	for _, m := range msgs {
		res[m.ID] = m
	}
	return res, nil
}

// ListPage 按创建时间倒序分页（最新在前），软删除的消息不返回
func (s *messageRepoImpl) ListPage(ctx context.Context, convID uint64, page, pageSize int) ([]*model.Message, int64, error) {
	base := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND deleted_at IS NULL", convID)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []*model.Message
	err := base.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&msgs).Error
	return msgs, total, err
}

// MarkConversationRead 批量翻转已读位，返回本次翻转的消息 ID。
// 先查后改放在事务里，保证返回的 ID 集与实际更新行一致；重复调用返回空集。
func (s *messageRepoImpl) MarkConversationRead(ctx context.Context, convID, receiverID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Message{}).
			Select("id").
			Where("conversation_id = ? AND receiver_id = ? AND is_read = ? AND deleted_at IS NULL",
				convID, receiverID, false).
			Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&model.Message{}).
			Where("id IN ?", ids).
			Update("is_read", true).Error
	})
	return ids, err
}

func (s *messageRepoImpl) MarkRead(ctx context.Context, msgID uint64) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", msgID).
		Update("is_read", true).Error
}

func (s *messageRepoImpl) SoftDelete(ctx context.Context, msgID uint64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND deleted_at IS NULL", msgID).
		Update("deleted_at", at).Error
}

// CountUnreadByConversations 会话列表的未读角标，一次分组查询带出
func (s *messageRepoImpl) CountUnreadByConversations(ctx context.Context, convIDs []uint64, receiverID uint64) (map[uint64]int64, error) {
	if len(convIDs) == 0 {
		return map[uint64]int64{}, nil
	}

	type row struct {
		ConversationID uint64
		Cnt            int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Select("conversation_id, COUNT(*) AS cnt").
		Where("conversation_id IN ? AND receiver_id = ? AND is_read = ? AND deleted_at IS NULL",
			convIDs, receiverID, false).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	res := make(map[uint64]int64, len(rows))
	for _, r := range rows {
		res[r.ConversationID] = r.Cnt
	}
	return res, nil
}
