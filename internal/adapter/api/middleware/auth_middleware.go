package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

const (
	ContextUserID    = "uid"
	ContextPrincipal = "principal"
)

// TokenVerifier turns a bearer token into the user it was issued to.
type TokenVerifier interface {
	Verify(token string) (entity.Principal, error)
}

type AuthMiddleware struct {
	tokens TokenVerifier
}

func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
	}
}

func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		token, ok := BearerToken(authHeader)
		if !ok {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		principal, err := m.tokens.Verify(token)
		if err != nil {
			return response.Error(c, err)
		}

		c.Set(ContextUserID, principal.UserID)
		c.Set(ContextPrincipal, principal)
		return next(c)
	}
}

// Verify exposes the verifier to the live channel, which authenticates
// inside the STOMP handshake rather than through this middleware.
func (m *AuthMiddleware) Verify(token string) (entity.Principal, error) {
	return m.tokens.Verify(token)
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// UserID returns the authenticated user id set by Authenticate.
func UserID(c echo.Context) (int64, error) {
	uid, ok := c.Get(ContextUserID).(int64)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	return uid, nil
}
