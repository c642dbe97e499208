package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// TokenIssuer signs bearer tokens for a principal.
type TokenIssuer interface {
	Issue(p entity.Principal) (string, time.Time, error)
}

type DevTokenHandler struct {
	tokens   TokenIssuer
	userRepo repository.UserRepository
}

func NewDevTokenHandler(tokens TokenIssuer, userRepo repository.UserRepository) *DevTokenHandler {
	return &DevTokenHandler{
		tokens:   tokens,
		userRepo: userRepo,
	}
}

type devTokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      entity.Peer `json:"user"`
}

// GenerateUserToken issues a token for the configured dev user :id.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	user, err := h.userRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, err)
	}

	token, expiresAt, err := h.tokens.Issue(entity.Principal{UserID: user.ID, Name: user.Name, Role: user.Role})
	if err != nil {
		return response.Error(c, err)
	}
	logger.Info("Issued dev token for user %d (%s)", user.ID, user.Name)

	return response.Success(c, devTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      *user,
	})
}
