package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the REST side of messaging. The live channel is
// served separately on /ws.
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatHandler := handler.GetChatHandler()

	messages := e.Group("/api/messages")
	messages.Use(authMiddleware.Authenticate)
	messages.Use(middleware.RateLimit(limiter))

	messages.GET("/conversation/:peerId", chatHandler.GetConversation)
	messages.PUT("/conversation/:peerId/read", chatHandler.MarkConversationRead)
	messages.GET("/conversations", chatHandler.GetConversations)
	messages.POST("/send", chatHandler.SendMessage)

	messages.PUT("/:id/read", chatHandler.MarkRead)
	messages.POST("/:id/reactions", chatHandler.AddReaction)

	messages.GET("/unread-count", chatHandler.UnreadCount)
	messages.GET("/unread-count/:peerId", chatHandler.UnreadCountWith)

	assistant := e.Group("/api/assistant")
	assistant.Use(authMiddleware.Authenticate)
	assistant.POST("/reply", chatHandler.AssistantReply)
}
