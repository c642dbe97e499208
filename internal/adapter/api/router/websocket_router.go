package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up the STOMP endpoint. Authentication happens in
// the handler and the CONNECT handshake, not in middleware.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
