package service

import (
	"Atrium/internal/api/dto"
	"Atrium/internal/hub"
	"Atrium/internal/model"
	"Atrium/internal/pkg/kafka"
	"Atrium/internal/pkg/mongo"
	"Atrium/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

// EventPusher 实时推送出口，由 hub 实现
type EventPusher interface {
	Push(ctx context.Context, userID uint64, event string, payload interface{}) error
}

// ChatService 即时通讯业务接口
type ChatService interface {
	GetOrCreateConversation(ctx context.Context, initiatorID, receiverID uint64) (*dto.ConversationDTO, error)
	GetConversation(ctx context.Context, userID, convID uint64) (*dto.ConversationDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	DeleteConversation(ctx context.Context, convID, userID uint64) error

	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetMessages(ctx context.Context, userID, convID uint64, page, pageSize int) (*dto.PagedMessagesDTO, error)
	MarkMessagesRead(ctx context.Context, convID, userID uint64) (*dto.MarkReadResultDTO, error)
	MarkMessageRead(ctx context.Context, msgID, userID uint64) (*dto.SingleReadResultDTO, error)
	DeleteMessage(ctx context.Context, msgID, userID uint64) (*dto.DeleteMessageResultDTO, error)
	ReportMessage(ctx context.Context, msgID, userID uint64, reason string) (*dto.ReportResultDTO, error)
}

type chatServiceImpl struct {
	convRepo   repository.ConversationRepo
	msgRepo    repository.MessageRepo
	reportRepo mongo.MessageReportRepo
	pusher     EventPusher
	producer   kafka.EventProducer
}

func NewChatService(
	convRepo repository.ConversationRepo,
	msgRepo repository.MessageRepo,
	reportRepo mongo.MessageReportRepo,
	pusher EventPusher,
	producer kafka.EventProducer,
) ChatService {
	return &chatServiceImpl{
		convRepo:   convRepo,
		msgRepo:    msgRepo,
		reportRepo: reportRepo,
		pusher:     pusher,
		producer:   producer,
	}
}

// pairKey uid小_uid大，与无序用户对一一对应
func pairKey(a, b uint64) string {
	if a < b {
		return fmt.Sprintf("%d_%d", a, b)
	}
	return fmt.Sprintf("%d_%d", b, a)
}

// GetOrCreateConversation 查找或创建单聊会话。
// 唯一索引兜底并发：双方同时发起时只有一方插入成功，失败方回读胜者。
// 发起方此前删除过该会话时，重新打开会清掉自己的删除标记。
func (s *chatServiceImpl) GetOrCreateConversation(ctx context.Context, initiatorID, receiverID uint64) (*dto.ConversationDTO, error) {
	if initiatorID == 0 || receiverID == 0 {
		return nil, ErrParamInvalid
	}
	if initiatorID == receiverID {
		return nil, ErrSameUserConversation
	}

	key := pairKey(initiatorID, receiverID)

	conv, err := s.convRepo.GetByPairKey(ctx, key)
	if err == nil {
		return s.reopenIfDeleted(ctx, conv, initiatorID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	newConv := &model.Conversation{
		InitiatorID:   initiatorID,
		ReceiverID:    receiverID,
		PairKey:       key,
		LastMessageAt: now,
	}
	if err = s.convRepo.Create(ctx, newConv); err != nil {
		// 大概率是并发创建撞了唯一索引，回读并返回胜者
		winner, readErr := s.convRepo.GetByPairKey(ctx, key)
		if readErr != nil {
			return nil, err
		}
		return s.reopenIfDeleted(ctx, winner, initiatorID)
	}

	return s.toConversationDTO(ctx, newConv, initiatorID)
}

func (s *chatServiceImpl) reopenIfDeleted(ctx context.Context, conv *model.Conversation, userID uint64) (*dto.ConversationDTO, error) {
	if conv.DeletedBy(userID) != nil {
		if err := s.convRepo.ClearDeletedBy(ctx, conv.ID, conv.InitiatorID == userID); err != nil {
			return nil, err
		}
		if conv.InitiatorID == userID {
			conv.InitiatorDeletedAt = nil
		} else {
			conv.ReceiverDeletedAt = nil
		}
	}
	return s.toConversationDTO(ctx, conv, userID)
}

func (s *chatServiceImpl) GetConversation(ctx context.Context, userID, convID uint64) (*dto.ConversationDTO, error) {
	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.toConversationDTO(ctx, conv, userID)
}

// GetConversationList 当前用户可见会话，按 updatedAt 倒序，带未读角标与预览
func (s *chatServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	convs, err := s.convRepo.ListVisibleByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	convIDs := make([]uint64, 0, len(convs))
	lastMsgIDs := make([]uint64, 0, len(convs))
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		if c.LastMessageID != nil {
			lastMsgIDs = append(lastMsgIDs, *c.LastMessageID)
		}
	}

	unread, err := s.msgRepo.CountUnreadByConversations(ctx, convIDs, userID)
	if err != nil {
		return nil, err
	}
	lastMsgs, err := s.msgRepo.GetByIDs(ctx, lastMsgIDs)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ConversationDTO, 0, len(convs))
	for _, c := range convs {
		d := s.baseConversationDTO(c, userID)
		d.UnreadCount = unread[c.ID]
		if c.LastMessageID != nil {
			if m, ok := lastMsgs[*c.LastMessageID]; ok {
				d.LastMessage = toMessageDTO(m)
			}
		}
		res = append(res, d)
	}
	return res, nil
}

// DeleteConversation 单边软删除，对方视角不受影响，消息全部保留
func (s *chatServiceImpl) DeleteConversation(ctx context.Context, convID, userID uint64) error {
	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return ErrNotParticipant
	}
	if conv.DeletedBy(userID) != nil {
		return ErrConversationDeleted
	}
	return s.convRepo.MarkDeletedBy(ctx, convID, conv.InitiatorID == userID, time.Now())
}

// SendMessage 发送消息：校验参与者身份与内容，消息与会话预览同事务落库，
// 然后向双方分组推送 ReceiveMessage 与 ConversationUpdated
func (s *chatServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	msgType := req.MessageType
	if msgType == 0 {
		msgType = model.MsgTypeText
	}
	if !model.ValidMsgType(msgType) {
		return nil, ErrMsgTypeInvalid
	}

	conv, err := s.getConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	if req.ReplyToMessageID != nil {
		replied, err := s.msgRepo.GetByID(ctx, *req.ReplyToMessageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrReplyToNotInConversation
			}
			return nil, err
		}
		if replied.ConversationID != conv.ID {
			return nil, ErrReplyToNotInConversation
		}
	}

	now := time.Now()
	msg := &model.Message{
		ConversationID:   conv.ID,
		SenderID:         senderID,
		ReceiverID:       conv.PeerOf(senderID),
		Content:          req.Content,
		MsgType:          msgType,
		ReplyToMessageID: req.ReplyToMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err = s.msgRepo.CreateInConversation(ctx, msg); err != nil {
		return nil, err
	}

	msgDTO := toMessageDTO(msg)
	update := &dto.ConversationUpdateDTO{
		ConversationID: conv.ID,
		LastMessage:    msgDTO,
		LastMessageAt:  msg.CreatedAt,
		UpdatedAt:      msg.CreatedAt,
	}
	s.pushToBoth(conv, hub.EventReceiveMessage, msgDTO)
	s.pushToBoth(conv, hub.EventConversationUpdated, update)

	s.produceEvent(&kafka.MessageEvent{
		Type:           kafka.EventMessageCreated,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		OccurredAt:     msg.CreatedAt,
	})

	return msgDTO, nil
}

// GetMessages 分页拉取会话消息，最新在前
func (s *chatServiceImpl) GetMessages(ctx context.Context, userID, convID uint64, page, pageSize int) (*dto.PagedMessagesDTO, error) {
	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	msgs, total, err := s.msgRepo.ListPage(ctx, convID, page, pageSize)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	items := make([]*dto.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toMessageDTO(m))
	}

	return &dto.PagedMessagesDTO{
		Items:       items,
		Page:        page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

// MarkMessagesRead 会话级已读：翻转所有发给该用户的未读消息并逐条回执。
// 幂等，重复调用 markedCount 为 0。
func (s *chatServiceImpl) MarkMessagesRead(ctx context.Context, convID, userID uint64) (*dto.MarkReadResultDTO, error) {
	conv, err := s.getConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	ids, err := s.msgRepo.MarkConversationRead(ctx, convID, userID)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		readAt := time.Now()
		peer := conv.PeerOf(userID)
		for _, id := range ids {
			s.pushAsync(peer, hub.EventMessageRead, &dto.MessageReadDTO{
				MessageID:      id,
				ConversationID: convID,
				ReadByUserID:   userID,
				ReadAt:         readAt,
			})
			s.produceEvent(&kafka.MessageEvent{
				Type:           kafka.EventMessageRead,
				MessageID:      id,
				ConversationID: convID,
				SenderID:       peer,
				ReceiverID:     userID,
				OccurredAt:     readAt,
			})
		}
	}

	return &dto.MarkReadResultDTO{MarkedCount: len(ids)}, nil
}

// MarkMessageRead 单条已读；消息的接收者不是该用户时按不存在处理
func (s *chatServiceImpl) MarkMessageRead(ctx context.Context, msgID, userID uint64) (*dto.SingleReadResultDTO, error) {
	msg, err := s.getMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != userID {
		return nil, ErrNotMessageReceiver
	}

	readAt := time.Now()
	if !msg.IsRead {
		if err = s.msgRepo.MarkRead(ctx, msgID); err != nil {
			return nil, err
		}
		s.pushAsync(msg.SenderID, hub.EventMessageRead, &dto.MessageReadDTO{
			MessageID:      msgID,
			ConversationID: msg.ConversationID,
			ReadByUserID:   userID,
			ReadAt:         readAt,
		})
		s.produceEvent(&kafka.MessageEvent{
			Type:           kafka.EventMessageRead,
			MessageID:      msgID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			ReceiverID:     userID,
			OccurredAt:     readAt,
		})
	}

	return &dto.SingleReadResultDTO{MessageID: msgID, IsRead: true, ReadAt: readAt}, nil
}

// DeleteMessage 软删除，仅发送者本人可删，双方收到 MessageDeleted
func (s *chatServiceImpl) DeleteMessage(ctx context.Context, msgID, userID uint64) (*dto.DeleteMessageResultDTO, error) {
	msg, err := s.getMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, ErrNotMessageSender
	}

	deletedAt := time.Now()
	if err = s.msgRepo.SoftDelete(ctx, msgID, deletedAt); err != nil {
		return nil, err
	}

	deleted := &dto.MessageDeletedDTO{MessageID: msgID, ConversationID: msg.ConversationID}
	s.pushAsync(msg.SenderID, hub.EventMessageDeleted, deleted)
	s.pushAsync(msg.ReceiverID, hub.EventMessageDeleted, deleted)
	s.produceEvent(&kafka.MessageEvent{
		Type:           kafka.EventMessageDeleted,
		MessageID:      msgID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		OccurredAt:     deletedAt,
	})

	return &dto.DeleteMessageResultDTO{MessageID: msgID, DeletedAt: deletedAt}, nil
}

// ReportMessage 追加举报流水，允许重复举报
func (s *chatServiceImpl) ReportMessage(ctx context.Context, msgID, userID uint64, reason string) (*dto.ReportResultDTO, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrParamInvalid
	}

	msg, err := s.getMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}

	report := &mongo.MessageReport{
		ID:               primitive.NewObjectID(),
		MessageID:        msgID,
		ConversationID:   msg.ConversationID,
		ReportedByUserID: userID,
		Reason:           reason,
		CreatedAt:        time.Now(),
	}
	if err = s.reportRepo.SaveReport(ctx, report); err != nil {
		return nil, err
	}

	return &dto.ReportResultDTO{ReportID: report.ID.Hex(), ReportedAt: report.CreatedAt}, nil
}

func (s *chatServiceImpl) getConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

func (s *chatServiceImpl) getMessage(ctx context.Context, msgID uint64) (*model.Message, error) {
	msg, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// pushToBoth 向会话双方分组各推一次
func (s *chatServiceImpl) pushToBoth(conv *model.Conversation, event string, payload interface{}) {
	s.pushAsync(conv.InitiatorID, event, payload)
	s.pushAsync(conv.ReceiverID, event, payload)
}

// pushAsync 尽力而为的推送：失败只记日志，离线客户端靠下次 REST 加载对账
func (s *chatServiceImpl) pushAsync(userID uint64, event string, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.pusher.Push(ctx, userID, event, payload); err != nil {
		log.Warn("推送事件失败", "event", event, "userID", userID, "err", err)
	}
}

func (s *chatServiceImpl) produceEvent(evt *kafka.MessageEvent) {
	if s.producer == nil {
		return
	}
	go func() {
		if err := s.producer.PublishMessageEvent(evt); err != nil {
			log.Warn("Kafka 事件发送失败", "type", evt.Type, "err", err)
		}
	}()
}

func (s *chatServiceImpl) baseConversationDTO(conv *model.Conversation, viewerID uint64) *dto.ConversationDTO {
	d := &dto.ConversationDTO{}
	_ = copier.Copy(d, conv)
	d.PeerID = conv.PeerOf(viewerID)
	return d
}

func (s *chatServiceImpl) toConversationDTO(ctx context.Context, conv *model.Conversation, viewerID uint64) (*dto.ConversationDTO, error) {
	d := s.baseConversationDTO(conv, viewerID)

	unread, err := s.msgRepo.CountUnreadByConversations(ctx, []uint64{conv.ID}, viewerID)
	if err != nil {
		return nil, err
	}
	d.UnreadCount = unread[conv.ID]

	if conv.LastMessageID != nil {
		msgs, err := s.msgRepo.GetByIDs(ctx, []uint64{*conv.LastMessageID})
		if err != nil {
			return nil, err
		}
		if m, ok := msgs[*conv.LastMessageID]; ok {
			d.LastMessage = toMessageDTO(m)
		}
	}
	return d, nil
}

func toMessageDTO(m *model.Message) *dto.MessageDTO {
	d := &dto.MessageDTO{}
	_ = copier.Copy(d, m)
	d.MessageType = m.MsgType
	return d
}
