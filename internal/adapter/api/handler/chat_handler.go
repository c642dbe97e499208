package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/domain/entity"
	"chatsync/internal/usecase"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type reactionRequest struct {
	Symbol string `json:"symbol" validate:"required,max=16"`
}

type assistantRequest struct {
	Text         string `json:"text" validate:"required,max=2000"`
	LanguageCode string `json:"languageCode" validate:"omitempty,min=2,max=8"`
}

// GetConversation returns the full history with :peerId, oldest first.
func (h *ChatHandler) GetConversation(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}
	peerID, err := pathID(c, "peerId")
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.Conversation(c.Request().Context(), userID, peerID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, nonNil(messages))
}

// GetConversations returns the latest message per conversation partner.
func (h *ChatHandler) GetConversations(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}

	messages, err := h.chatUseCase.Conversations(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, nonNil(messages))
}

// SendMessage is the request/response path used when the live channel is down.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req entity.SendRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, req)
	if err != nil {
		logger.Warn("SendMessage failed for user %d: %v", userID, err)
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}
	messageID, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.MarkRead(c.Request().Context(), userID, messageID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, message)
}

func (h *ChatHandler) MarkConversationRead(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}
	peerID, err := pathID(c, "peerId")
	if err != nil {
		return response.Error(c, err)
	}

	n, err := h.chatUseCase.MarkConversationRead(c.Request().Context(), userID, peerID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, response.Count{Count: n})
}

func (h *ChatHandler) UnreadCount(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}

	n, err := h.chatUseCase.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, response.Count{Count: n})
}

func (h *ChatHandler) UnreadCountWith(c echo.Context) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}
	peerID, err := pathID(c, "peerId")
	if err != nil {
		return response.Error(c, err)
	}

	n, err := h.chatUseCase.UnreadCountWith(c.Request().Context(), userID, peerID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, response.Count{Count: n})
}

func (h *ChatHandler) AddReaction(c echo.Context) error {
	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}
	messageID, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.AddReaction(c.Request().Context(), userID, messageID, req.Symbol)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, message)
}

func (h *ChatHandler) AssistantReply(c echo.Context) error {
	var req assistantRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}
	if req.LanguageCode == "" {
		req.LanguageCode = "en"
	}

	userID, err := middleware.UserID(c)
	if err != nil {
		return response.Error(c, err)
	}

	reply, err := h.chatUseCase.AssistantReply(c.Request().Context(), userID, req.Text, req.LanguageCode)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, reply)
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, errors.BadRequest("Invalid "+name, err)
	}
	return id, nil
}

func nonNil(messages []entity.Message) []entity.Message {
	if messages == nil {
		return []entity.Message{}
	}
	return messages
}
