package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Transport 服务端 REST 访问面，SyncEngine 与 PresenceTracker 依赖此接口，
// 测试以假实现替换
type Transport interface {
	CreateConversation(ctx context.Context, initiatorID, receiverID uint64) (*Conversation, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, conversationID uint64) error
	SendMessage(ctx context.Context, conversationID, senderID uint64, content string, msgType int8, replyToID *uint64) (*Message, error)
	GetMessages(ctx context.Context, conversationID uint64, page, pageSize int) (*PagedMessages, error)
	MarkMessagesRead(ctx context.Context, conversationID, userID uint64) (*MarkReadResult, error)
	MarkMessageRead(ctx context.Context, messageID, userID uint64) error
	DeleteMessage(ctx context.Context, messageID uint64) error
	ReportMessage(ctx context.Context, messageID, reportedByUserID uint64, reason string) (*ReportResult, error)
	CheckUserOnlineStatus(ctx context.Context, userID uint64) (*OnlineStatus, error)
}

// envelope 服务端统一响应体，HTTP 状态恒为 200，以 code 区分业务结果
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端业务错误
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

type restTransport struct {
	http *resty.Client
}

// NewTransport baseURL 形如 http://host:port，token 为 Bearer 令牌
func NewTransport(baseURL, token string) Transport {
	httpClient := resty.New().
		SetBaseURL(baseURL+"/api").
		SetTimeout(15*time.Second).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")
	return &restTransport{http: httpClient}
}

// call 统一出入口：发请求、剥信封、按 code 分流
func (t *restTransport) call(ctx context.Context, method, path string, body interface{}, query map[string]string, out interface{}) error {
	req := t.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "请求失败 %s %s", method, path)
	}

	var env envelope
	if err = json.Unmarshal(resp.Body(), &env); err != nil {
		return errors.Wrapf(err, "响应解析失败 %s %s", method, path)
	}
	if env.Code != 200 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err = json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrapf(err, "数据解析失败 %s %s", method, path)
		}
	}
	return nil
}

func (t *restTransport) CreateConversation(ctx context.Context, initiatorID, receiverID uint64) (*Conversation, error) {
	body := map[string]uint64{"initiatorId": initiatorID, "receiverId": receiverID}
	var conv Conversation
	if err := t.call(ctx, resty.MethodPost, "/conversations/create", body, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (t *restTransport) GetConversationList(ctx context.Context, userID uint64) ([]*Conversation, error) {
	var list []*Conversation
	path := fmt.Sprintf("/conversations/user/%d", userID)
	if err := t.call(ctx, resty.MethodGet, path, nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (t *restTransport) DeleteConversation(ctx context.Context, conversationID uint64) error {
	path := fmt.Sprintf("/conversations/%d", conversationID)
	return t.call(ctx, resty.MethodDelete, path, nil, nil, nil)
}

func (t *restTransport) SendMessage(ctx context.Context, conversationID, senderID uint64, content string, msgType int8, replyToID *uint64) (*Message, error) {
	body := map[string]interface{}{
		"conversationId": conversationID,
		"senderId":       senderID,
		"content":        content,
		"messageType":    msgType,
	}
	if replyToID != nil {
		body["replyToMessageId"] = *replyToID
	}
	var msg Message
	if err := t.call(ctx, resty.MethodPost, "/messages/send", body, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *restTransport) GetMessages(ctx context.Context, conversationID uint64, page, pageSize int) (*PagedMessages, error) {
	path := fmt.Sprintf("/messages/conversation/%d", conversationID)
	query := map[string]string{
		"page":     fmt.Sprintf("%d", page),
		"pageSize": fmt.Sprintf("%d", pageSize),
	}
	var paged PagedMessages
	if err := t.call(ctx, resty.MethodGet, path, nil, query, &paged); err != nil {
		return nil, err
	}
	return &paged, nil
}

func (t *restTransport) MarkMessagesRead(ctx context.Context, conversationID, userID uint64) (*MarkReadResult, error) {
	body := map[string]uint64{"conversationId": conversationID, "userId": userID}
	var result MarkReadResult
	if err := t.call(ctx, resty.MethodPut, "/messages/mark-read", body, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *restTransport) MarkMessageRead(ctx context.Context, messageID, userID uint64) error {
	path := fmt.Sprintf("/messages/%d/mark-read", messageID)
	body := map[string]uint64{"userId": userID}
	return t.call(ctx, resty.MethodPut, path, body, nil, nil)
}

func (t *restTransport) DeleteMessage(ctx context.Context, messageID uint64) error {
	path := fmt.Sprintf("/messages/%d", messageID)
	return t.call(ctx, resty.MethodDelete, path, nil, nil, nil)
}

func (t *restTransport) ReportMessage(ctx context.Context, messageID, reportedByUserID uint64, reason string) (*ReportResult, error) {
	path := fmt.Sprintf("/messages/%d/report", messageID)
	body := map[string]interface{}{"reportedByUserId": reportedByUserID, "reason": reason}
	var result ReportResult
	if err := t.call(ctx, resty.MethodPost, path, body, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *restTransport) CheckUserOnlineStatus(ctx context.Context, userID uint64) (*OnlineStatus, error) {
	path := fmt.Sprintf("/users/%d/online-status", userID)
	var status OnlineStatus
	if err := t.call(ctx, resty.MethodGet, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
