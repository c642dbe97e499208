package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/stomp"
	ws "chatsync/internal/infrastructure/websocket"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	authMiddleware *middleware.AuthMiddleware
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{stomp.Subprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return true // dev server only
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, authMiddleware *middleware.AuthMiddleware) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:      wsManager,
		authMiddleware: authMiddleware,
	}
}

// HandleWebSocket upgrades to STOMP over WebSocket. A bearer token on the
// upgrade request is checked up front so bad credentials fail with 401; the
// CONNECT frame may carry the token instead.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token, hasToken := middleware.BearerToken(c.Request().Header.Get("Authorization"))
	if hasToken {
		if _, err := h.authMiddleware.Verify(token); err != nil {
			return response.Error(c, errors.Unauthorized("Invalid or expired token", err))
		}
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed: %v", err)
		return nil
	}

	if err := h.wsManager.Serve(conn, token, h.authMiddleware.Verify); err != nil {
		logger.Warn("STOMP handshake failed from %s: %v", c.RealIP(), err)
	}
	return nil
}
