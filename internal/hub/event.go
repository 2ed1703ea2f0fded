package hub

import "github.com/goccy/go-json"

// 服务端推送事件名
const (
	EventReceiveMessage      = "ReceiveMessage"
	EventConversationUpdated = "ConversationUpdated"
	EventUserPresenceUpdate  = "UserPresenceUpdate"
	EventMessageRead         = "MessageRead"
	EventMessageDeleted      = "MessageDeleted"
	EventInvokeError         = "InvokeError"
)

// 客户端调用动作名
const (
	ActionJoinUserGroup     = "JoinUserGroup"
	ActionLeaveUserGroup    = "LeaveUserGroup"
	ActionMarkMessageAsRead = "MarkMessageAsRead"
	ActionDeleteMessage     = "DeleteMessage"
)

// Envelope 服务端到客户端的统一事件封装
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Invocation 客户端到服务端的 RPC 调用封装
type Invocation struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// InvocationPayload 调用参数，userId 仅用于与连接身份对账
type InvocationPayload struct {
	UserID    uint64 `json:"userId"`
	MessageID uint64 `json:"messageId"`
}

// InvokeErrorData 调用失败的回执，连接本身不受影响
type InvokeErrorData struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}
