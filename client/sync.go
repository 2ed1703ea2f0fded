package client

import (
	"Atrium/internal/pkg/cipher"
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// 刷新阈值：缓存年龄超过阈值即后台拉权威数据，命中仍先同步返回
const (
	ConversationsTTL = 2 * time.Minute
	MessagesTTL      = 5 * time.Minute
)

// 缓存优先、TTL 触发后台刷新、服务端覆盖本地。
// 同一资源的并发加载经 singleflight 合并；每个会话各持一个
// epoch 令牌，切换会话后迟到的拉取结果直接丢弃
type SyncEngine struct {
	userID    uint64
	transport Transport
	cache     CacheService

	sf singleflight.Group

	mu        sync.Mutex
	convs     []*Conversation
	messages  map[uint64][]*Message
	pageSize  int
	convEpoch uint64
	epochs    map[uint64]uint64

	onConversations func([]*Conversation)
	onMessages      func(conversationID uint64, messages []*Message)
}

func NewSyncEngine(userID uint64, transport Transport, cache CacheService) *SyncEngine {
	return &SyncEngine{
		userID:    userID,
		transport: transport,
		cache:     cache,
		messages:  make(map[uint64][]*Message),
		epochs:    make(map[uint64]uint64),
		pageSize:  50,
	}
}

// OnConversationsChanged 列表每次变更后回调（后台刷新、推送、发送均触发）
func (e *SyncEngine) OnConversationsChanged(fn func([]*Conversation)) {
	e.mu.Lock()
	e.onConversations = fn
	e.mu.Unlock()
}

// OnMessagesChanged 某会话消息集每次变更后回调
func (e *SyncEngine) OnMessagesChanged(fn func(conversationID uint64, messages []*Message)) {
	e.mu.Lock()
	e.onMessages = fn
	e.mu.Unlock()
}

// LoadConversations 有缓存立即返回（陈旧亦可），过期则后台刷新；
// 冷缓存走阻塞拉取，失败原样上抛
func (e *SyncEngine) LoadConversations(ctx context.Context) ([]*Conversation, error) {
	e.mu.Lock()
	if e.convs != nil {
		snapshot := snapshotConvs(e.convs)
		e.mu.Unlock()
		e.refreshConversationsIfStale()
		return snapshot, nil
	}
	e.mu.Unlock()

	var cached []*Conversation
	lastRefresh, ok := e.cache.Get(ConversationsKey(e.userID), ConversationsMaxAge, &cached)
	if ok {
		e.mu.Lock()
		e.convs = cached
		snapshot := snapshotConvs(e.convs)
		e.mu.Unlock()
		if time.Since(lastRefresh) > ConversationsTTL {
			e.backgroundRefreshConversations()
		}
		return snapshot, nil
	}

	// 冷缓存，同步拉取
	list, err := e.fetchConversations(ctx)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (e *SyncEngine) refreshConversationsIfStale() {
	var stale []*Conversation
	lastRefresh, ok := e.cache.Get(ConversationsKey(e.userID), ConversationsMaxAge, &stale)
	if !ok || time.Since(lastRefresh) > ConversationsTTL {
		e.backgroundRefreshConversations()
	}
}

func (e *SyncEngine) backgroundRefreshConversations() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := e.fetchConversations(ctx); err != nil {
			// 刷新失败保留陈旧缓存，不打扰调用方
			log.Warn("会话列表后台刷新失败", "err", err)
		}
	}()
}

// fetchConversations singleflight 合并同刻并发拉取
func (e *SyncEngine) fetchConversations(ctx context.Context) ([]*Conversation, error) {
	result, err, _ := e.sf.Do("conversations", func() (interface{}, error) {
		e.mu.Lock()
		epoch := e.convEpoch
		e.mu.Unlock()

		list, err := e.transport.GetConversationList(ctx, e.userID)
		if err != nil {
			return nil, err
		}
		sortConversations(list)

		e.mu.Lock()
		if e.convEpoch != epoch {
			snapshot := snapshotConvs(e.convs)
			e.mu.Unlock()
			return snapshot, nil
		}
		e.convs = list
		snapshot := snapshotConvs(e.convs)
		e.mu.Unlock()

		e.persistConversations(snapshot)
		e.notifyConversations(snapshot)
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Conversation), nil
}

// LoadMessages 会话消息的缓存优先加载，最新一页
func (e *SyncEngine) LoadMessages(ctx context.Context, conversationID uint64) ([]*Message, error) {
	e.mu.Lock()
	e.epochs[conversationID]++
	if msgs, ok := e.messages[conversationID]; ok {
		snapshot := snapshotMsgs(msgs)
		e.mu.Unlock()
		e.refreshMessagesIfStale(conversationID)
		return snapshot, nil
	}
	e.mu.Unlock()

	var cached []*Message
	lastRefresh, ok := e.cache.Get(MessagesKey(e.userID, conversationID), MessagesMaxAge, &cached)
	if ok {
		e.mu.Lock()
		e.messages[conversationID] = cached
		snapshot := snapshotMsgs(cached)
		e.mu.Unlock()
		if time.Since(lastRefresh) > MessagesTTL {
			e.backgroundRefreshMessages(conversationID)
		}
		return snapshot, nil
	}

	return e.fetchMessages(ctx, conversationID)
}

func (e *SyncEngine) refreshMessagesIfStale(conversationID uint64) {
	var stale []*Message
	lastRefresh, ok := e.cache.Get(MessagesKey(e.userID, conversationID), MessagesMaxAge, &stale)
	if !ok || time.Since(lastRefresh) > MessagesTTL {
		e.backgroundRefreshMessages(conversationID)
	}
}

func (e *SyncEngine) backgroundRefreshMessages(conversationID uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := e.fetchMessages(ctx, conversationID); err != nil {
			log.Warn("消息后台刷新失败", "conversationID", conversationID, "err", err)
		}
	}()
}

func (e *SyncEngine) fetchMessages(ctx context.Context, conversationID uint64) ([]*Message, error) {
	key := fmt.Sprintf("messages_%d", conversationID)
	result, err, _ := e.sf.Do(key, func() (interface{}, error) {
		e.mu.Lock()
		epoch := e.epochs[conversationID]
		e.mu.Unlock()

		paged, err := e.transport.GetMessages(ctx, conversationID, 1, e.pageSize)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		// 迟到的结果只许落在自己的会话槽位，且 epoch 过期即弃
		if e.epochs[conversationID] != epoch {
			snapshot := snapshotMsgs(e.messages[conversationID])
			e.mu.Unlock()
			return snapshot, nil
		}
		e.messages[conversationID] = paged.Items
		snapshot := snapshotMsgs(paged.Items)
		e.mu.Unlock()

		e.persistMessages(conversationID, snapshot)
		e.notifyMessages(conversationID, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Message), nil
}

// SendMessage 明文在本地按发送者派生密钥加密后上送，服务端只见密文。
// 不做临时占位消息，等 REST 成功后一次性追加，随后到达的广播回声靠 id 去重
func (e *SyncEngine) SendMessage(ctx context.Context, conversationID uint64, content string, msgType int8, replyToID *uint64) (*Message, error) {
	sealed, err := cipher.Encrypt(content, e.userID)
	if err != nil {
		return nil, err
	}
	msg, err := e.transport.SendMessage(ctx, conversationID, e.userID, sealed, msgType, replyToID)
	if err != nil {
		return nil, err
	}
	e.applyMessage(msg)
	return msg, nil
}

// Plaintext 解开一条消息的密文用于展示，解不开时原样返回
func Plaintext(msg *Message) string {
	text, err := cipher.Decrypt(msg.Content, msg.SenderID)
	if err != nil {
		return msg.Content
	}
	return text
}

// HandleReceiveMessage 推送入口，与 REST 回包竞争到达皆安全
func (e *SyncEngine) HandleReceiveMessage(msg *Message) {
	e.applyMessage(msg)
}

// applyMessage 按 id 去重后追加，并同步更新列表项与排序
func (e *SyncEngine) applyMessage(msg *Message) {
	e.mu.Lock()
	msgs, tracked := e.messages[msg.ConversationID]
	if tracked {
		if containsMessage(msgs, msg.ID) {
			e.mu.Unlock()
			return
		}
		e.messages[msg.ConversationID] = append([]*Message{msg}, msgs...)
	}

	for _, conv := range e.convs {
		if conv.ID == msg.ConversationID {
			conv.LastMessage = msg
			conv.LastMessageAt = msg.CreatedAt
			conv.UpdatedAt = msg.CreatedAt
			if msg.ReceiverID == e.userID && !msg.IsRead {
				conv.UnreadCount++
			}
			break
		}
	}
	sortConversations(e.convs)

	msgSnapshot := snapshotMsgs(e.messages[msg.ConversationID])
	convSnapshot := snapshotConvs(e.convs)
	e.mu.Unlock()

	if tracked {
		e.persistMessages(msg.ConversationID, msgSnapshot)
		e.notifyMessages(msg.ConversationID, msgSnapshot)
	}
	if convSnapshot != nil {
		e.persistConversations(convSnapshot)
		e.notifyConversations(convSnapshot)
	}
}

// HandleConversationUpdated 免拉取刷新列表项预览
func (e *SyncEngine) HandleConversationUpdated(update *ConversationUpdate) {
	e.mu.Lock()
	found := false
	for _, conv := range e.convs {
		if conv.ID == update.ConversationID {
			conv.LastMessage = update.LastMessage
			conv.LastMessageAt = update.LastMessageAt
			conv.UpdatedAt = update.UpdatedAt
			found = true
			break
		}
	}
	if !found {
		// 新会话的首条消息先于列表刷新到达，补一次权威拉取
		e.mu.Unlock()
		e.backgroundRefreshConversations()
		return
	}
	sortConversations(e.convs)
	snapshot := snapshotConvs(e.convs)
	e.mu.Unlock()

	e.persistConversations(snapshot)
	e.notifyConversations(snapshot)
}

// MarkConversationRead 本地乐观翻转未读，失败则回滚
func (e *SyncEngine) MarkConversationRead(ctx context.Context, conversationID uint64) error {
	e.mu.Lock()
	var flipped []*Message
	for _, m := range e.messages[conversationID] {
		if m.ReceiverID == e.userID && !m.IsRead {
			m.IsRead = true
			flipped = append(flipped, m)
		}
	}
	var prevUnread int64
	for _, conv := range e.convs {
		if conv.ID == conversationID {
			prevUnread = conv.UnreadCount
			conv.UnreadCount = 0
			break
		}
	}
	e.mu.Unlock()
	e.notifyAfterReadChange(conversationID)

	if _, err := e.transport.MarkMessagesRead(ctx, conversationID, e.userID); err != nil {
		e.mu.Lock()
		for _, m := range flipped {
			m.IsRead = false
		}
		for _, conv := range e.convs {
			if conv.ID == conversationID {
				conv.UnreadCount = prevUnread
				break
			}
		}
		e.mu.Unlock()
		e.notifyAfterReadChange(conversationID)
		return err
	}
	return nil
}

// MarkMessageRead 单条已读的乐观翻转，失败回滚
func (e *SyncEngine) MarkMessageRead(ctx context.Context, conversationID, messageID uint64) error {
	e.mu.Lock()
	var target *Message
	for _, m := range e.messages[conversationID] {
		if m.ID == messageID && m.ReceiverID == e.userID && !m.IsRead {
			m.IsRead = true
			target = m
			break
		}
	}
	for _, conv := range e.convs {
		if conv.ID == conversationID && target != nil && conv.UnreadCount > 0 {
			conv.UnreadCount--
			break
		}
	}
	e.mu.Unlock()
	if target != nil {
		e.notifyAfterReadChange(conversationID)
	}

	if err := e.transport.MarkMessageRead(ctx, messageID, e.userID); err != nil {
		if target != nil {
			e.mu.Lock()
			target.IsRead = false
			for _, conv := range e.convs {
				if conv.ID == conversationID {
					conv.UnreadCount++
					break
				}
			}
			e.mu.Unlock()
			e.notifyAfterReadChange(conversationID)
		}
		return err
	}
	return nil
}

// HandleMessageRead 服务端已读回执，对已翻转的消息是幂等空操作
func (e *SyncEngine) HandleMessageRead(read *MessageRead) {
	e.mu.Lock()
	changed := false
	for _, m := range e.messages[read.ConversationID] {
		if m.ID == read.MessageID && !m.IsRead {
			m.IsRead = true
			changed = true
			break
		}
	}
	e.mu.Unlock()
	if changed {
		e.notifyAfterReadChange(read.ConversationID)
	}
}

// DeleteMessage 删除走 REST，成功后本地移除；推送回声幂等
func (e *SyncEngine) DeleteMessage(ctx context.Context, conversationID, messageID uint64) error {
	if err := e.transport.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	e.HandleMessageDeleted(&MessageDeleted{MessageID: messageID, ConversationID: conversationID})
	return nil
}

// HandleMessageDeleted 本地移除被删消息
func (e *SyncEngine) HandleMessageDeleted(deleted *MessageDeleted) {
	e.mu.Lock()
	msgs, ok := e.messages[deleted.ConversationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	filtered := make([]*Message, 0, len(msgs))
	removed := false
	for _, m := range msgs {
		if m.ID == deleted.MessageID {
			removed = true
			continue
		}
		filtered = append(filtered, m)
	}
	if !removed {
		e.mu.Unlock()
		return
	}
	e.messages[deleted.ConversationID] = filtered
	snapshot := snapshotMsgs(filtered)
	e.mu.Unlock()

	e.persistMessages(deleted.ConversationID, snapshot)
	e.notifyMessages(deleted.ConversationID, snapshot)
}

// DeleteConversation 软删后本地下架该会话并清掉其消息缓存
func (e *SyncEngine) DeleteConversation(ctx context.Context, conversationID uint64) error {
	if err := e.transport.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	e.mu.Lock()
	filtered := make([]*Conversation, 0, len(e.convs))
	for _, conv := range e.convs {
		if conv.ID != conversationID {
			filtered = append(filtered, conv)
		}
	}
	e.convs = filtered
	delete(e.messages, conversationID)
	snapshot := snapshotConvs(e.convs)
	e.mu.Unlock()

	e.cache.Evict(MessagesKey(e.userID, conversationID))
	e.persistConversations(snapshot)
	e.notifyConversations(snapshot)
	return nil
}

// AttachHub 把推送事件接入同步引擎
func (e *SyncEngine) AttachHub(hc *HubClient) {
	hc.OnReceiveMessage(e.HandleReceiveMessage)
	hc.OnConversationUpdated(e.HandleConversationUpdated)
	hc.OnMessageRead(e.HandleMessageRead)
	hc.OnMessageDeleted(e.HandleMessageDeleted)
}

func (e *SyncEngine) notifyAfterReadChange(conversationID uint64) {
	e.mu.Lock()
	msgSnapshot := snapshotMsgs(e.messages[conversationID])
	convSnapshot := snapshotConvs(e.convs)
	e.mu.Unlock()
	if msgSnapshot != nil {
		e.persistMessages(conversationID, msgSnapshot)
		e.notifyMessages(conversationID, msgSnapshot)
	}
	if convSnapshot != nil {
		e.persistConversations(convSnapshot)
		e.notifyConversations(convSnapshot)
	}
}

func (e *SyncEngine) persistConversations(list []*Conversation) {
	if err := e.cache.Set(ConversationsKey(e.userID), list); err != nil {
		log.Warn("会话列表落盘失败", "err", err)
	}
}

func (e *SyncEngine) persistMessages(conversationID uint64, msgs []*Message) {
	if err := e.cache.Set(MessagesKey(e.userID, conversationID), msgs); err != nil {
		log.Warn("消息落盘失败", "conversationID", conversationID, "err", err)
	}
}

func (e *SyncEngine) notifyConversations(list []*Conversation) {
	e.mu.Lock()
	fn := e.onConversations
	e.mu.Unlock()
	if fn != nil {
		fn(list)
	}
}

func (e *SyncEngine) notifyMessages(conversationID uint64, msgs []*Message) {
	e.mu.Lock()
	fn := e.onMessages
	e.mu.Unlock()
	if fn != nil {
		fn(conversationID, msgs)
	}
}

// 两条更新路径共用同一排序，列表顺序不会分叉
func sortConversations(list []*Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

func containsMessage(msgs []*Message, id uint64) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// snapshotConvs 逐项深拷贝，交出去的快照不随内存态的原地改动变化
func snapshotConvs(list []*Conversation) []*Conversation {
	if list == nil {
		return nil
	}
	out := make([]*Conversation, len(list))
	for i, conv := range list {
		cp := *conv
		if conv.LastMessage != nil {
			last := *conv.LastMessage
			cp.LastMessage = &last
		}
		out[i] = &cp
	}
	return out
}

func snapshotMsgs(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out
}
