package handler

import (
	"chatsync/internal/domain/repository"
	"chatsync/internal/usecase"
)

var (
	chatHandler     *ChatHandler
	userHandler     *UserHandler
	devTokenHandler *DevTokenHandler
	healthHandler   *HealthHandler
)

func Setup(chatUseCase *usecase.ChatUseCase, tokens TokenIssuer, userRepo repository.UserRepository, presence Presence) {
	chatHandler = NewChatHandler(chatUseCase)
	userHandler = NewUserHandler(chatUseCase)
	devTokenHandler = NewDevTokenHandler(tokens, userRepo)
	healthHandler = NewHealthHandler(presence)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetUserHandler() *UserHandler {
	return userHandler
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}
