package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Presence reports how many users hold a live connection.
type Presence interface {
	OnlineCount() int
}

type HealthHandler struct {
	presence Presence
}

func NewHealthHandler(presence Presence) *HealthHandler {
	return &HealthHandler{
		presence: presence,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "Server is running",
		"time":    time.Now().Format(time.RFC3339),
		"clients": h.presence.OnlineCount(),
	})
}
