package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/usecase"
	"chatsync/pkg/response"
	"chatsync/pkg/utils"
)

type UserHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewUserHandler(chatUseCase *usecase.ChatUseCase) *UserHandler {
	return &UserHandler{
		chatUseCase: chatUseCase,
	}
}

// GetUser returns the public profile used for conversation partner names.
func (h *UserHandler) GetUser(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return response.Error(c, err)
	}

	user, err := h.chatUseCase.GetUser(c.Request().Context(), id)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, user)
}

// ListUsers returns the directory one page at a time (?page=&limit=).
func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.chatUseCase.ListUsers(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, utils.Paginate(users, utils.GetPaginationParams(c)))
}
