package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
)

const issuer = "chatsync"

// Claims is the payload of every bearer token.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 bearer tokens on the dev server.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue returns a signed token for p and its expiry time.
func (s *TokenService) Issue(p entity.Principal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		Name: p.Name,
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Internal("failed to sign token", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry of token.
func (s *TokenService) Verify(token string) (entity.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return entity.Principal{}, errors.Unauthorized("Invalid or expired token", err)
	}
	return claims.principal()
}

// PrincipalFromToken reads the principal from a token without verifying it.
// Clients use it to learn their own user id; the server still verifies.
func PrincipalFromToken(token string) (entity.Principal, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return entity.Principal{}, errors.Unauthorized("malformed token", err)
	}
	return claims.principal()
}

func (c *Claims) principal() (entity.Principal, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return entity.Principal{}, errors.Unauthorized("token subject is not a user id", err)
	}
	return entity.Principal{UserID: id, Name: c.Name, Role: c.Role}, nil
}
