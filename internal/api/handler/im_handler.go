package handler

import (
	"Atrium/internal/api/dto"
	"Atrium/internal/pkg/response"
	"Atrium/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	chatService service.ChatService
}

func NewIMHandler(chatService service.ChatService) *IMHandler {
	return &IMHandler{chatService: chatService}
}

// CreateConversation 查找或创建会话，幂等
func (s *IMHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	// 发起者必须是当前登录用户
	userID := c.GetUint64("user_id")
	if req.InitiatorID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.GetOrCreateConversation(c.Request.Context(), req.InitiatorID, req.ReceiverID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversation 获取单个会话
func (s *IMHandler) GetConversation(c *gin.Context) {
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")
	res, err := s.chatService.GetConversation(c.Request.Context(), userID, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversationList 获取当前用户会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	pathUserID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")
	if pathUserID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.GetConversationList(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteConversation 单边删除会话
func (s *IMHandler) DeleteConversation(c *gin.Context) {
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")
	if err = s.chatService.DeleteConversation(c.Request.Context(), convID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversationId": convID})
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")
	if req.SenderID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.SendMessage(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetMessages 分页拉取会话消息，最新在前
func (s *IMHandler) GetMessages(c *gin.Context) {
	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	userID := c.GetUint64("user_id")
	res, err := s.chatService.GetMessages(c.Request.Context(), userID, convID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkMessagesRead 会话级已读
func (s *IMHandler) MarkMessagesRead(c *gin.Context) {
	var req dto.MarkReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")
	if req.UserID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.MarkMessagesRead(c.Request.Context(), req.ConversationID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkMessageRead 单条消息已读
func (s *IMHandler) MarkMessageRead(c *gin.Context) {
	msgID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	var req dto.MarkSingleReadReq
	if err = c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")
	if req.UserID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.MarkMessageRead(c.Request.Context(), msgID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// DeleteMessage 软删除消息，仅发送者可删
func (s *IMHandler) DeleteMessage(c *gin.Context) {
	msgID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")
	res, err := s.chatService.DeleteMessage(c.Request.Context(), msgID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ReportMessage 举报消息
func (s *IMHandler) ReportMessage(c *gin.Context) {
	msgID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	var req dto.ReportMessageReq
	if err = c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")
	if req.ReportedByUserID != userID {
		response.Error(c, service.UnauthorizedError)
		return
	}

	res, err := s.chatService.ReportMessage(c.Request.Context(), msgID, userID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
