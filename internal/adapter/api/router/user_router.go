package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

func SetupUserRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	userHandler := handler.GetUserHandler()

	users := e.Group("/api/users")
	users.Use(authMiddleware.Authenticate)
	users.Use(middleware.RateLimit(limiter))

	users.GET("", userHandler.ListUsers)
	users.GET("/:id", userHandler.GetUser)
}
