package usecase

import (
	"context"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/assistant"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/infrastructure/stomp"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// Broker pushes JSON payloads to a connected user's destination.
// *websocket.Manager implements it.
type Broker interface {
	Deliver(userID int64, destination string, v interface{}) error
	IsOnline(userID int64) bool
}

// ChatUseCase is the dev server's chat backend. It serves the REST contract
// and handles frames published over the live channel.
type ChatUseCase struct {
	messageRepo     repository.MessageRepository
	userRepo        repository.UserRepository
	broker          Broker
	responder       assistant.Responder
	rateLimiter     *ratelimit.RateLimiter
	assistantPeerID int64
	now             func() time.Time
}

func NewChatUseCase(
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	broker Broker,
	responder assistant.Responder,
	rateLimiter *ratelimit.RateLimiter,
	assistantPeerID int64,
) *ChatUseCase {
	return &ChatUseCase{
		messageRepo:     messageRepo,
		userRepo:        userRepo,
		broker:          broker,
		responder:       responder,
		rateLimiter:     rateLimiter,
		assistantPeerID: assistantPeerID,
		now:             time.Now,
	}
}

// SendMessage stores a message and pushes it to both participants. The
// sender's copy carries req.LocalID back so it can replace its placeholder.
func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID int64, req entity.SendRequest) (*entity.Message, error) {
	if allowed, wait := uc.rateLimiter.Allow(rateKey(senderID), ratelimit.ActionSendMessage); !allowed {
		logger.Warn("SendMessage rate limited: user %d must wait %v", senderID, wait)
		return nil, errors.TooManyRequests("You are sending messages too quickly. Please slow down")
	}

	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.BadRequest("Message content is required", nil)
	}
	if req.ReceiverID == senderID {
		return nil, errors.BadRequest("Cannot send a message to yourself", nil)
	}
	if req.ReceiverID == uc.assistantPeerID {
		return nil, errors.BadRequest("Use the assistant endpoint to talk to the assistant", nil)
	}
	if _, err := uc.userRepo.GetByID(ctx, req.ReceiverID); err != nil {
		logger.Error("SendMessage: receiver %d not found: %v", req.ReceiverID, err)
		return nil, err
	}

	msgType, err := entity.ParseMessageType(string(req.Type))
	if err != nil {
		return nil, errors.BadRequest("Unknown message type", err)
	}
	if msgType.HasAttachment() && req.AttachmentURL == "" {
		return nil, errors.BadRequest("Attachment URL is required for this message type", nil)
	}

	_, replyTo := entity.ParseReply(req.Content)
	message := entity.NewPending(req.LocalID, senderID, req.ReceiverID, req.Content, time.Time{})
	message.Type = msgType
	message.AttachmentURL = req.AttachmentURL
	message.ReplyTo = replyTo

	if err := uc.messageRepo.Create(ctx, &message); err != nil {
		logger.Error("SendMessage: failed to store message from %d: %v", senderID, err)
		return nil, err
	}

	id, _ := message.ID()
	logger.Debug("SendMessage: stored message %d from %d to %d", id, senderID, req.ReceiverID)

	forReceiver := message.Clone()
	forReceiver.Identity = entity.Confirmed{ID: id}
	uc.deliver(req.ReceiverID, stomp.MessageTopic(req.ReceiverID), forReceiver)
	uc.deliver(senderID, stomp.MessageTopic(senderID), message)

	return &message, nil
}

// HandleSend serves SEND frames on the message destination.
func (uc *ChatUseCase) HandleSend(ctx context.Context, senderID int64, req entity.SendRequest) error {
	_, err := uc.SendMessage(ctx, senderID, req)
	return err
}

// HandleTyping relays a typing notice to its receiver. Excess notices and
// notices for a receiver who is not connected are dropped silently.
func (uc *ChatUseCase) HandleTyping(ctx context.Context, senderID int64, notice entity.TypingNotice) error {
	if allowed, _ := uc.rateLimiter.Allow(rateKey(senderID), ratelimit.ActionTyping); !allowed {
		return nil
	}
	if notice.ReceiverID == senderID || notice.ReceiverID == 0 {
		return errors.BadRequest("Typing notice needs another receiver", nil)
	}
	if !uc.broker.IsOnline(notice.ReceiverID) {
		logger.Debug("Typing notice from %d dropped, %d is offline", senderID, notice.ReceiverID)
		return nil
	}
	notice.SenderID = senderID
	uc.deliver(notice.ReceiverID, stomp.TypingTopic(notice.ReceiverID), notice)
	return nil
}

func (uc *ChatUseCase) Conversation(ctx context.Context, userID, peerID int64) ([]entity.Message, error) {
	return uc.messageRepo.ListBetween(ctx, userID, peerID)
}

// Conversations lists the latest message exchanged with every peer, newest first.
func (uc *ChatUseCase) Conversations(ctx context.Context, userID int64) ([]entity.Message, error) {
	return uc.messageRepo.LatestPerPeer(ctx, userID)
}

// MarkRead flags one message read and pushes the updated copy to its sender
// as a read receipt.
func (uc *ChatUseCase) MarkRead(ctx context.Context, userID, messageID int64) (*entity.Message, error) {
	message, err := uc.messageRepo.MarkRead(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	uc.deliver(message.SenderID, stomp.MessageTopic(message.SenderID), message)
	return message, nil
}

func (uc *ChatUseCase) MarkConversationRead(ctx context.Context, userID, peerID int64) (int, error) {
	n, err := uc.messageRepo.MarkConversationRead(ctx, userID, peerID)
	if err != nil {
		return 0, err
	}
	logger.Debug("MarkConversationRead: user %d read %d messages from %d", userID, n, peerID)
	return n, nil
}

func (uc *ChatUseCase) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return uc.messageRepo.UnreadCount(ctx, userID)
}

func (uc *ChatUseCase) UnreadCountWith(ctx context.Context, userID, peerID int64) (int, error) {
	return uc.messageRepo.UnreadCountFrom(ctx, userID, peerID)
}

// AddReaction counts symbol on a message the user takes part in and pushes
// the result to both participants.
func (uc *ChatUseCase) AddReaction(ctx context.Context, userID, messageID int64, symbol string) (*entity.Message, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, errors.BadRequest("Reaction symbol is required", nil)
	}
	existing, err := uc.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if existing.SenderID != userID && existing.ReceiverID != userID {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}

	message, err := uc.messageRepo.AddReaction(ctx, messageID, symbol)
	if err != nil {
		return nil, err
	}
	uc.deliver(message.SenderID, stomp.MessageTopic(message.SenderID), message)
	uc.deliver(message.ReceiverID, stomp.MessageTopic(message.ReceiverID), message)
	return message, nil
}

// AssistantReply answers text on behalf of the assistant peer. Assistant
// conversations are not stored, so the reply has no server id.
func (uc *ChatUseCase) AssistantReply(ctx context.Context, userID int64, text, languageCode string) (*entity.Message, error) {
	if allowed, wait := uc.rateLimiter.Allow(rateKey(userID), ratelimit.ActionAssistant); !allowed {
		logger.Warn("AssistantReply rate limited: user %d must wait %v", userID, wait)
		return nil, errors.TooManyRequests("The assistant needs a moment. Please try again shortly")
	}

	answer, err := uc.responder.Reply(ctx, text, languageCode)
	if err != nil {
		logger.Error("AssistantReply: responder failed for user %d: %v", userID, err)
		return nil, err
	}

	reply := entity.NewPending("", uc.assistantPeerID, userID, answer, uc.now().UTC())
	reply.Read = true
	return &reply, nil
}

func (uc *ChatUseCase) GetUser(ctx context.Context, id int64) (*entity.Peer, error) {
	return uc.userRepo.GetByID(ctx, id)
}

func (uc *ChatUseCase) ListUsers(ctx context.Context) ([]entity.Peer, error) {
	return uc.userRepo.List(ctx)
}

func (uc *ChatUseCase) deliver(userID int64, destination string, v interface{}) {
	if err := uc.broker.Deliver(userID, destination, v); err != nil {
		logger.Error("Failed to deliver to user %d on %s: %v", userID, destination, err)
	}
}

func rateKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
