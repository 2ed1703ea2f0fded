package service

import (
	"Atrium/internal/api/dto"
	"Atrium/internal/hub"
	"Atrium/internal/model"
	"Atrium/internal/pkg/mongo"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 内存版会话仓库，唯一索引语义用 pairKey map 模拟
type fakeConvRepo struct {
	mu       sync.Mutex
	nextID   uint64
	byID     map[uint64]*model.Conversation
	byPair   map[string]*model.Conversation
	onCreate func() // 并发竞态注入点
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byID:   make(map[uint64]*model.Conversation),
		byPair: make(map[string]*model.Conversation),
	}
}

func (r *fakeConvRepo) Create(ctx context.Context, conv *model.Conversation) error {
	if r.onCreate != nil {
		r.onCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPair[conv.PairKey]; ok {
		return errors.New("Duplicate entry for key 'pair_key'")
	}
	r.nextID++
	conv.ID = r.nextID
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	r.byID[conv.ID] = conv
	r.byPair[conv.PairKey] = conv
	return nil
}

func (r *fakeConvRepo) GetByID(ctx context.Context, convID uint64) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeConvRepo) GetByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byPair[pairKey]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeConvRepo) ListVisibleByUser(ctx context.Context, userID uint64) ([]*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*model.Conversation
	for _, conv := range r.byID {
		if !conv.HasParticipant(userID) || conv.DeletedBy(userID) != nil {
			continue
		}
		cp := *conv
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (r *fakeConvRepo) ListPeerIDs(ctx context.Context, userID uint64) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []uint64
	for _, conv := range r.byID {
		if conv.HasParticipant(userID) {
			res = append(res, conv.PeerOf(userID))
		}
	}
	return res, nil
}

func (r *fakeConvRepo) MarkDeletedBy(ctx context.Context, convID uint64, initiatorSide bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[convID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if initiatorSide {
		conv.InitiatorDeletedAt = &at
	} else {
		conv.ReceiverDeletedAt = &at
	}
	return nil
}

func (r *fakeConvRepo) ClearDeletedBy(ctx context.Context, convID uint64, initiatorSide bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.byID[convID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if initiatorSide {
		conv.InitiatorDeletedAt = nil
	} else {
		conv.ReceiverDeletedAt = nil
	}
	return nil
}

func (r *fakeConvRepo) PurgeDeletedByBoth(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, conv := range r.byID {
		if conv.IsDeletedByBothUsers() {
			delete(r.byID, id)
			delete(r.byPair, conv.PairKey)
			n++
		}
	}
	return n, nil
}

// 内存版消息仓库，CreateInConversation 同步维护会话预览字段
type fakeMsgRepo struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.Message
	convs  *fakeConvRepo
}

func newFakeMsgRepo(convs *fakeConvRepo) *fakeMsgRepo {
	return &fakeMsgRepo{byID: make(map[uint64]*model.Message), convs: convs}
}

func (r *fakeMsgRepo) CreateInConversation(ctx context.Context, msg *model.Message) error {
	r.mu.Lock()
	r.nextID++
	msg.ID = r.nextID
	cp := *msg
	r.byID[msg.ID] = &cp
	r.mu.Unlock()

	r.convs.mu.Lock()
	defer r.convs.mu.Unlock()
	conv := r.convs.byID[msg.ConversationID]
	id := msg.ID
	conv.LastMessageID = &id
	conv.LastMessageAt = msg.CreatedAt
	conv.UpdatedAt = msg.CreatedAt
	conv.InitiatorDeletedAt = nil
	conv.ReceiverDeletedAt = nil
	return nil
}

func (r *fakeMsgRepo) GetByID(ctx context.Context, msgID uint64) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[msgID]
	if !ok || msg.DeletedAt != nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *fakeMsgRepo) GetByIDs(ctx context.Context, msgIDs []uint64) (map[uint64]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make(map[uint64]*model.Message)
	for _, id := range msgIDs {
		if msg, ok := r.byID[id]; ok && msg.DeletedAt == nil {
			cp := *msg
			res[id] = &cp
		}
	}
	return res, nil
}

func (r *fakeMsgRepo) ListPage(ctx context.Context, convID uint64, page, pageSize int) ([]*model.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Message
	for _, msg := range r.byID {
		if msg.ConversationID == convID && msg.DeletedAt == nil {
			cp := *msg
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *fakeMsgRepo) MarkConversationRead(ctx context.Context, convID, receiverID uint64) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, msg := range r.byID {
		if msg.ConversationID == convID && msg.ReceiverID == receiverID && !msg.IsRead && msg.DeletedAt == nil {
			msg.IsRead = true
			ids = append(ids, msg.ID)
		}
	}
	return ids, nil
}

func (r *fakeMsgRepo) MarkRead(ctx context.Context, msgID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[msgID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.IsRead = true
	return nil
}

func (r *fakeMsgRepo) SoftDelete(ctx context.Context, msgID uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.byID[msgID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	msg.DeletedAt = &at
	return nil
}

func (r *fakeMsgRepo) CountUnreadByConversations(ctx context.Context, convIDs []uint64, receiverID uint64) (map[uint64]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make(map[uint64]int64)
	wanted := make(map[uint64]bool, len(convIDs))
	for _, id := range convIDs {
		wanted[id] = true
	}
	for _, msg := range r.byID {
		if wanted[msg.ConversationID] && msg.ReceiverID == receiverID && !msg.IsRead && msg.DeletedAt == nil {
			res[msg.ConversationID]++
		}
	}
	return res, nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports []*mongo.MessageReport
}

func (r *fakeReportRepo) SaveReport(ctx context.Context, report *mongo.MessageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeReportRepo) ListByMessage(ctx context.Context, messageID uint64, limit int) ([]*mongo.MessageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*mongo.MessageReport
	for _, rep := range r.reports {
		if rep.MessageID == messageID {
			res = append(res, rep)
		}
	}
	return res, nil
}

type pushedEvent struct {
	UserID uint64
	Event  string
}

type fakePusher struct {
	mu     sync.Mutex
	events []pushedEvent
}

func (p *fakePusher) Push(ctx context.Context, userID uint64, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pushedEvent{UserID: userID, Event: event})
	return nil
}

func (p *fakePusher) count(userID uint64, event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.UserID == userID && e.Event == event {
			n++
		}
	}
	return n
}

func sendReq(convID, senderID uint64, content string) *dto.SendMessageReq {
	return &dto.SendMessageReq{ConversationID: convID, SenderID: senderID, Content: content}
}

func newTestChatService() (ChatService, *fakeConvRepo, *fakeMsgRepo, *fakeReportRepo, *fakePusher) {
	convRepo := newFakeConvRepo()
	msgRepo := newFakeMsgRepo(convRepo)
	reportRepo := &fakeReportRepo{}
	pusher := &fakePusher{}
	svc := NewChatService(convRepo, msgRepo, reportRepo, pusher, nil)
	return svc, convRepo, msgRepo, reportRepo, pusher
}

func TestGetOrCreateConversationIdempotent(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	first, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)

	// 对手方反向发起，命中同一会话
	second, err := svc.GetOrCreateConversation(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.GetOrCreateConversation(ctx, 3, 3)
	assert.ErrorIs(t, err, ErrSameUserConversation)
}

func TestGetOrCreateConversationConcurrentConflict(t *testing.T) {
	svc, convRepo, _, _, _ := newTestChatService()
	ctx := context.Background()

	// 首查未命中之后、插入之前，对手方先行建好会话，
	// 插入撞唯一索引后应回读胜者而非报错
	convRepo.onCreate = func() {
		convRepo.onCreate = nil
		_, err := svc.GetOrCreateConversation(ctx, 2, 1)
		require.NoError(t, err)
	}

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), conv.ID)
	assert.Len(t, convRepo.byID, 1)
}

func TestSendMessageUpdatesPreviewAndPushes(t *testing.T) {
	svc, convRepo, _, _, pusher := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), msg.ReceiverID)
	assert.False(t, msg.IsRead)

	stored, err := convRepo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageID)
	assert.Equal(t, msg.ID, *stored.LastMessageID)
	assert.Equal(t, msg.CreatedAt.Unix(), stored.LastMessageAt.Unix())

	// 双方各收到一次 ReceiveMessage 与 ConversationUpdated
	assert.Equal(t, 1, pusher.count(1, hub.EventReceiveMessage))
	assert.Equal(t, 1, pusher.count(2, hub.EventReceiveMessage))
	assert.Equal(t, 1, pusher.count(1, hub.EventConversationUpdated))
	assert.Equal(t, 1, pusher.count(2, hub.EventConversationUpdated))
}

func TestSendMessageValidation(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "   "))
	assert.ErrorIs(t, err, ErrEmptyContent)

	// 非参与者
	_, err = svc.SendMessage(ctx, 9, sendReq(conv.ID, 9, "hi"))
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = svc.SendMessage(ctx, 1, sendReq(999, 1, "hi"))
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageReplyToMustBeSameConversation(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	convA, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	convB, err := svc.GetOrCreateConversation(ctx, 1, 3)
	require.NoError(t, err)

	inA, err := svc.SendMessage(ctx, 1, sendReq(convA.ID, 1, "first"))
	require.NoError(t, err)

	req := sendReq(convB.ID, 1, "cross-reply")
	req.ReplyToMessageID = &inA.ID
	_, err = svc.SendMessage(ctx, 1, req)
	assert.ErrorIs(t, err, ErrReplyToNotInConversation)

	req2 := sendReq(convA.ID, 2, "ok-reply")
	req2.ReplyToMessageID = &inA.ID
	reply, err := svc.SendMessage(ctx, 2, req2)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToMessageID)
	assert.Equal(t, inA.ID, *reply.ReplyToMessageID)
}

func TestMarkMessagesReadIdempotent(t *testing.T) {
	svc, _, _, _, pusher := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "m"))
		require.NoError(t, err)
	}

	res, err := svc.MarkMessagesRead(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.MarkedCount)
	// 已读回执发给原消息发送方
	assert.Equal(t, 3, pusher.count(1, hub.EventMessageRead))

	res, err = svc.MarkMessagesRead(ctx, conv.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MarkedCount)
}

func TestMarkMessageReadReceiverOnly(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "hi"))
	require.NoError(t, err)

	// 发送方不能把自己发的消息标成已读
	_, err = svc.MarkMessageRead(ctx, msg.ID, 1)
	assert.ErrorIs(t, err, ErrNotMessageReceiver)

	res, err := svc.MarkMessageRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.IsRead)

	// 重复标记幂等
	res, err = svc.MarkMessageRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.True(t, res.IsRead)
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	svc, _, _, _, pusher := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "oops"))
	require.NoError(t, err)

	_, err = svc.DeleteMessage(ctx, msg.ID, 2)
	assert.ErrorIs(t, err, ErrNotMessageSender)

	_, err = svc.DeleteMessage(ctx, msg.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, pusher.count(1, hub.EventMessageDeleted))
	assert.Equal(t, 1, pusher.count(2, hub.EventMessageDeleted))

	// 已删消息按不存在处理
	_, err = svc.MarkMessageRead(ctx, msg.ID, 2)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteConversationPerUserVisibility(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "hi"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, conv.ID, 1))

	// 删除方不可见，对手方不受影响
	mine, err := svc.GetConversationList(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := svc.GetConversationList(ctx, 2)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	require.NotNil(t, theirs[0].LastMessage)
	assert.Equal(t, "hi", theirs[0].LastMessage.Content)

	// 重复删除报已删除
	err = svc.DeleteConversation(ctx, conv.ID, 1)
	assert.ErrorIs(t, err, ErrConversationDeleted)

	// 重新发起会清掉删除标记
	reopened, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, reopened.ID)

	mine, err = svc.GetConversationList(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestGetMessagesPagination(t *testing.T) {
	svc, _, _, _, _ := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "m"))
		require.NoError(t, err)
	}

	page1, err := svc.GetMessages(ctx, 1, conv.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page1.TotalItems)
	assert.Equal(t, 3, page1.TotalPages)
	assert.True(t, page1.HasNext)
	assert.False(t, page1.HasPrevious)
	require.Len(t, page1.Items, 2)
	// 最新在前
	assert.Greater(t, page1.Items[0].ID, page1.Items[1].ID)

	page3, err := svc.GetMessages(ctx, 1, conv.ID, 3, 2)
	require.NoError(t, err)
	assert.False(t, page3.HasNext)
	assert.True(t, page3.HasPrevious)
	assert.Len(t, page3.Items, 1)

	_, err = svc.GetMessages(ctx, 9, conv.ID, 1, 2)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReportMessageAllowsDuplicates(t *testing.T) {
	svc, _, _, reportRepo, _ := newTestChatService()
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, 1, sendReq(conv.ID, 1, "spam"))
	require.NoError(t, err)

	first, err := svc.ReportMessage(ctx, msg.ID, 2, "骚扰信息")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ReportID)

	second, err := svc.ReportMessage(ctx, msg.ID, 2, "骚扰信息")
	require.NoError(t, err)
	assert.NotEqual(t, first.ReportID, second.ReportID)

	reports, err := reportRepo.ListByMessage(ctx, msg.ID, 10)
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	_, err = svc.ReportMessage(ctx, msg.ID, 2, "  ")
	assert.ErrorIs(t, err, ErrParamInvalid)
}
