package repository

import (
	"context"

	"chatsync/internal/domain/entity"
)

// ChatRepository is the request/response contract of the chat backend. The
// client uses it for history, the send fallback, read state, reactions and
// assistant replies.
type ChatRepository interface {
	// Conversation returns the full history with peerID, ascending by time.
	Conversation(ctx context.Context, peerID int64) ([]entity.Message, error)
	// Conversations returns the latest message exchanged with every peer.
	Conversations(ctx context.Context) ([]entity.Message, error)
	Send(ctx context.Context, req entity.SendRequest) (entity.Message, error)

	MarkRead(ctx context.Context, messageID int64) error
	MarkConversationRead(ctx context.Context, peerID int64) error
	UnreadCount(ctx context.Context) (int, error)
	UnreadCountWith(ctx context.Context, peerID int64) (int, error)

	AssistantReply(ctx context.Context, text, languageCode string) (entity.Message, error)
	AddReaction(ctx context.Context, messageID int64, symbol string) (entity.Message, error)
}

// PeerDirectory resolves display names for conversation partners.
type PeerDirectory interface {
	Peer(ctx context.Context, peerID int64) (entity.Peer, error)
}
