package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter, wsHandler *handler.WebSocketHandler, environment string) {
	SetupChatRouter(e, authMiddleware, limiter)
	SetupUserRouter(e, authMiddleware, limiter)
	SetupWebSocketRouter(e, wsHandler)
	SetupDevRouter(e, environment)
	SetupHealthRouter(e)
}
