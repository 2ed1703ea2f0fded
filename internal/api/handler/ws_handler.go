package handler

import (
	"Atrium/internal/hub"
	"Atrium/internal/pkg/response"
	"Atrium/internal/pkg/security"
	"Atrium/internal/service"
	"context"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WsHandler struct {
	hub *hub.Hub
}

func NewWsHandler(h *hub.Hub) *WsHandler {
	return &WsHandler{hub: h}
}

// Connect WS 握手入口：浏览器 WebSocket 不能带自定义 Header，token 走查询串
func (s *WsHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	client := hub.NewClient(userID, conn, s.hub)
	log.Info("用户 WS 连接已建立", "userID", userID)

	go client.WritePump()
	client.ReadPump()
}

// HubDispatcher 把 WS 调用转给业务层，userID 来自连接鉴权
type HubDispatcher struct {
	chatService service.ChatService
}

func NewHubDispatcher(chatService service.ChatService) *HubDispatcher {
	return &HubDispatcher{chatService: chatService}
}

func (s *HubDispatcher) MarkMessageAsRead(ctx context.Context, userID, messageID uint64) error {
	_, err := s.chatService.MarkMessageRead(ctx, messageID, userID)
	return err
}

func (s *HubDispatcher) DeleteMessage(ctx context.Context, userID, messageID uint64) error {
	_, err := s.chatService.DeleteMessage(ctx, messageID, userID)
	return err
}
