package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid             = errors.New("参数错误")
	ErrConversationNotFound     = errors.New("会话不存在")
	ErrMessageNotFound          = errors.New("消息不存在")
	ErrNotParticipant           = errors.New("非会话成员")
	ErrEmptyContent             = errors.New("消息内容为空")
	ErrMsgTypeInvalid           = errors.New("消息类型无效")
	ErrSameUserConversation     = errors.New("不能与自己创建会话")
	ErrConversationDeleted      = errors.New("会话已删除")
	ErrNotMessageSender         = errors.New("只能删除自己发送的消息")
	ErrNotMessageReceiver       = errors.New("非该消息的接收者")
	ErrReplyToNotInConversation = errors.New("被回复的消息不在当前会话中")
	UnauthorizedError           = errors.New("权限不足")
	UnExpectedError             = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:             BadRequest,
	ErrConversationNotFound:     NotFound,
	ErrMessageNotFound:          NotFound,
	ErrNotParticipant:           Unauthorized,
	ErrEmptyContent:             BadRequest,
	ErrMsgTypeInvalid:           BadRequest,
	ErrSameUserConversation:     BadRequest,
	ErrConversationDeleted:      BadRequest,
	ErrNotMessageSender:         Forbidden,
	ErrNotMessageReceiver:       NotFound,
	ErrReplyToNotInConversation: BadRequest,
	UnauthorizedError:           Unauthorized,
	UnExpectedError:             InternalServerError,
}
