package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/adapter/api"
	"chatsync/internal/adapter/api/handler"
	apimiddleware "chatsync/internal/adapter/api/middleware"
	"chatsync/internal/adapter/api/router"
	"chatsync/internal/adapter/repository"
	"chatsync/internal/infrastructure/assistant"
	"chatsync/internal/infrastructure/auth"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// Server is the in-memory chat backend used for development and tests.
type Server struct {
	Echo    *echo.Echo
	Manager *websocket.Manager
	Tokens  *auth.TokenService
}

// New wires repositories, the broker and the HTTP routes. Background loops
// stop when ctx is cancelled.
func New(ctx context.Context, cfg *config.Config, registry *prometheus.Registry, responder assistant.Responder) (*Server, error) {
	users, err := repository.ParseUsers(cfg.DevUsers)
	if err != nil {
		return nil, err
	}
	userRepo := repository.NewMemoryUserRepository(users)
	messageRepo := repository.NewMemoryMessageRepository()

	m := metrics.New(registry)
	tokens := auth.NewTokenService(cfg.JWTSecret, time.Duration(cfg.JWTExpiry)*time.Second)

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitPerMinute)
	limiter.StartCleanupRoutine(ctx)

	wsManager := websocket.NewManager(websocket.ManagerOptions{
		Heartbeat:        cfg.HeartbeatInterval,
		HeartbeatGrace:   cfg.HeartbeatGrace,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Metrics:          m,
	})

	chatUseCase := usecase.NewChatUseCase(messageRepo, userRepo, wsManager, responder, limiter, cfg.AssistantPeerID)
	wsManager.SetHandler(chatUseCase)
	wsManager.Start(ctx)

	handler.Setup(chatUseCase, tokens, userRepo, wsManager)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(tokens)
	wsHandler := handler.NewWebSocketHandler(wsManager, authMiddleware)

	router.Setup(e, authMiddleware, limiter, wsHandler, cfg.Environment)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	logger.Info("Dev server wired with %d users", len(users))
	return &Server{Echo: e, Manager: wsManager, Tokens: tokens}, nil
}
