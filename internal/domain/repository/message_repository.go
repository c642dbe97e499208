package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

// MessageRepository is the dev server's storage for confirmed messages.
type MessageRepository interface {
	// Create assigns the server id and timestamp and stores message.
	Create(ctx context.Context, message *entity.Message) error
	GetByID(ctx context.Context, id int64) (*entity.Message, error)
	ListBetween(ctx context.Context, userID, peerID int64) ([]entity.Message, error)
	LatestPerPeer(ctx context.Context, userID int64) ([]entity.Message, error)

	MarkRead(ctx context.Context, id, readerID int64) (*entity.Message, error)
	MarkConversationRead(ctx context.Context, readerID, peerID int64) (int, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	UnreadCountFrom(ctx context.Context, userID, peerID int64) (int, error)

	AddReaction(ctx context.Context, id int64, symbol string) (*entity.Message, error)
}
