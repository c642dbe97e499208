package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	want := entity.Principal{UserID: 7, Name: "Alice", Role: "USER"}

	token, expiresAt, err := svc.Issue(want)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	unverified, err := PrincipalFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, want, unverified)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	token, _, err := NewTokenService("secret-one", time.Hour).Issue(entity.Principal{UserID: 1})
	require.NoError(t, err)

	_, err = NewTokenService("secret-two", time.Hour).Verify(token)
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	token, _, err := svc.Issue(entity.Principal{UserID: 1})
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.Error(t, err)
}

func TestPrincipalFromGarbage(t *testing.T) {
	_, err := PrincipalFromToken("not-a-jwt")
	assert.Error(t, err)
}
