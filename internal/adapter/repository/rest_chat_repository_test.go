package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

func newFakeBackend(t *testing.T) *httptest.Server {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "Bearer tok" {
				return c.JSON(http.StatusUnauthorized, response.Response{Success: false, Error: &response.ErrorInfo{Code: "UNAUTHORIZED", Message: "no"}})
			}
			return next(c)
		}
	})

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e.GET("/api/messages/conversation/:peerId", func(c echo.Context) error {
		return response.Success(c, []entity.Message{
			{Identity: entity.Confirmed{ID: 1}, SenderID: 2, ReceiverID: 1, Content: "hi", Type: entity.MessageTypeText, CreatedAt: at},
		})
	})
	e.POST("/api/messages/send", func(c echo.Context) error {
		var req entity.SendRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		return response.Created(c, entity.Message{
			Identity:   entity.Confirmed{ID: 7, EchoOf: req.LocalID},
			SenderID:   1,
			ReceiverID: req.ReceiverID,
			Content:    req.Content,
			Type:       entity.MessageTypeText,
			CreatedAt:  at,
		})
	})
	e.PUT("/api/messages/conversation/:peerId/read", func(c echo.Context) error {
		if c.Param("peerId") != "2" {
			return response.Error(c, errors.BadRequest("wrong peer", nil))
		}
		return response.Success(c, response.Count{Count: 2})
	})
	e.GET("/api/messages/unread-count/:peerId", func(c echo.Context) error {
		return response.Success(c, response.Count{Count: 3})
	})
	e.POST("/api/messages/:id/reactions", func(c echo.Context) error {
		return response.Error(c, errors.NotFound("Message", nil))
	})
	e.GET("/api/users/:id", func(c echo.Context) error {
		return response.Success(c, entity.Peer{ID: 2, Name: "Bob", Role: "AGENT"})
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTConversationAndSend(t *testing.T) {
	srv := newFakeBackend(t)
	repo := NewRESTChatRepository(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	history, err := repo.Conversation(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)

	sent, err := repo.Send(ctx, entity.SendRequest{ReceiverID: 2, Content: "yo", LocalID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, entity.Confirmed{ID: 7, EchoOf: "tmp-1"}, sent.Identity)

	require.NoError(t, repo.MarkConversationRead(ctx, 2))

	n, err := repo.UnreadCountWith(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	peer, err := repo.Peer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Bob", peer.Name)
}

func TestRESTErrorEnvelope(t *testing.T) {
	srv := newFakeBackend(t)
	repo := NewRESTChatRepository(srv.URL, "tok", time.Second)

	_, err := repo.AddReaction(context.Background(), 5, "👍")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestRESTUnauthorizedMapsToAuthentication(t *testing.T) {
	srv := newFakeBackend(t)
	repo := NewRESTChatRepository(srv.URL, "wrong", time.Second)

	_, err := repo.Conversation(context.Background(), 2)
	assert.True(t, errors.IsAuthentication(err))
}

func TestRESTTransportFailure(t *testing.T) {
	srv := newFakeBackend(t)
	url := srv.URL
	srv.Close()

	_, err := NewRESTChatRepository(url, "tok", time.Second).Send(context.Background(), entity.SendRequest{ReceiverID: 2, Content: "x"})
	assert.True(t, errors.Is(err, errors.CodeTransport))
}
