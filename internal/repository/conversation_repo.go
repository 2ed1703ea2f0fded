package repository

import (
	"Atrium/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
)

type ConversationRepo interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetByID(ctx context.Context, convID uint64) (*model.Conversation, error)
	GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error)
	ListVisibleByUser(ctx context.Context, userID uint64) ([]*model.Conversation, error)
	ListPeerIDs(ctx context.Context, userID uint64) ([]uint64, error)

	MarkDeletedBy(ctx context.Context, convID uint64, initiatorSide bool, at time.Time) error
	ClearDeletedBy(ctx context.Context, convID uint64, initiatorSide bool) error
	PurgeDeletedByBoth(ctx context.Context) (int64, error)
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

func (s *conversationRepoImpl) Create(ctx context.Context, conv *model.Conversation) error {
	// PairKey 唯一索引在并发创建时只允许一行落库，冲突由上层回读兜底
	return s.db.WithContext(ctx).Create(conv).Error
}

func (s *conversationRepoImpl) GetByID(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	return &conv, err
}

func (s *conversationRepoImpl) GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("pair_key = ?", pairKey).First(&conv).Error
	return &conv, err
}

// ListVisibleByUser 查询用户可见会话，按最近活跃倒序
func (s *conversationRepoImpl) ListVisibleByUser(ctx context.Context, userID uint64) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := s.db.WithContext(ctx).
		Where("(initiator_id = ? AND initiator_deleted_at IS NULL) OR (receiver_id = ? AND receiver_deleted_at IS NULL)",
			userID, userID).
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// ListPeerIDs 返回与该用户存在可见会话的所有对手方 ID，用于上下线广播。
// 只算对手方自己未删除的会话，已删除一侧的用户收不到广播
func (s *conversationRepoImpl) ListPeerIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	var peers []uint64
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Select("CASE WHEN initiator_id = ? THEN receiver_id ELSE initiator_id END", userID).
		Where("(initiator_id = ? AND receiver_deleted_at IS NULL) OR (receiver_id = ? AND initiator_deleted_at IS NULL)",
			userID, userID).
		Scan(&peers).Error
	return peers, err
}

func (s *conversationRepoImpl) MarkDeletedBy(ctx context.Context, convID uint64, initiatorSide bool, at time.Time) error {
	column := "receiver_deleted_at"
	if initiatorSide {
		column = "initiator_deleted_at"
	}
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update(column, at).Error
}

func (s *conversationRepoImpl) ClearDeletedBy(ctx context.Context, convID uint64, initiatorSide bool) error {
	column := "receiver_deleted_at"
	if initiatorSide {
		column = "initiator_deleted_at"
	}
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update(column, nil).Error
}

// PurgeDeletedByBoth 物理清理双方都已删除的会话及其全部消息
func (s *conversationRepoImpl) PurgeDeletedByBoth(ctx context.Context) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&model.Conversation{}).
			Select("id").
			Where("initiator_deleted_at IS NOT NULL AND receiver_deleted_at IS NOT NULL").
			Scan(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("conversation_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Conversation{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}
