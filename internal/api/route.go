package api

import (
	"Atrium/internal/api/middleware"
	"Atrium/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		// WS 握手自带 token 鉴权，不走 AuthMiddleware
		apiGroup.GET("/ws/connect", group.WsHandler.Connect)

		convGroup := apiGroup.Group("/conversations")
		convGroup.Use(middleware.AuthMiddleware())
		{
			convGroup.GET("/user/:user_id", group.IMHandler.GetConversationList)
			convGroup.POST("/create", group.IMHandler.CreateConversation)
			convGroup.GET("/:id", group.IMHandler.GetConversation)
			convGroup.DELETE("/:id", group.IMHandler.DeleteConversation)
		}

		msgGroup := apiGroup.Group("/messages")
		msgGroup.Use(middleware.AuthMiddleware())
		{
			msgGroup.POST("/send", group.IMHandler.SendMessage)
			msgGroup.GET("/conversation/:id", group.IMHandler.GetMessages)
			msgGroup.PUT("/mark-read", group.IMHandler.MarkMessagesRead)
			msgGroup.PUT("/:id/mark-read", group.IMHandler.MarkMessageRead)
			msgGroup.DELETE("/:id", group.IMHandler.DeleteMessage)
			msgGroup.POST("/:id/report", group.IMHandler.ReportMessage)
		}

		userGroup := apiGroup.Group("/users")
		userGroup.Use(middleware.AuthMiddleware())
		{
			userGroup.GET("/:id/online-status", group.PresenceHandler.GetOnlineStatus)
		}
	}

	return r
}
