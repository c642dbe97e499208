package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"

	"chatsync/internal/domain/entity"
	"chatsync/internal/infrastructure/stomp"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// HandleClientFrame processes one inbound frame. It returns false when the
// connection should be closed.
func (m *Manager) HandleClientFrame(client *Client, f *frame.Frame) bool {
	switch f.Command {
	case frame.SUBSCRIBE:
		m.handleSubscribe(client, f)

	case frame.UNSUBSCRIBE:
		m.handleUnsubscribe(client, f)

	case frame.SEND:
		m.handleSend(client, f)

	case frame.DISCONNECT:
		m.sendReceipt(client, f)
		return false

	default:
		logger.Warn("Broker: unsupported %s frame from %d", f.Command, client.UserID)
	}
	return true
}

func (m *Manager) handleSubscribe(client *Client, f *frame.Frame) {
	destination := f.Header.Get(frame.Destination)
	id := f.Header.Get(frame.Id)

	// Users may only listen on their own queues.
	prefix := "/user/" + strconv.FormatInt(client.UserID, 10) + "/"
	if id == "" || !strings.HasPrefix(destination, prefix) {
		logger.Warn("Broker: user %d denied subscription to %q", client.UserID, destination)
		return
	}

	client.mu.Lock()
	client.subs[destination] = id
	client.mu.Unlock()

	logger.Debug("Broker: user %d subscribed to %s as %s", client.UserID, destination, id)
	m.sendReceipt(client, f)
}

func (m *Manager) handleUnsubscribe(client *Client, f *frame.Frame) {
	id := f.Header.Get(frame.Id)

	client.mu.Lock()
	for destination, subID := range client.subs {
		if subID == id {
			delete(client.subs, destination)
		}
	}
	client.mu.Unlock()

	m.sendReceipt(client, f)
}

func (m *Manager) handleSend(client *Client, f *frame.Frame) {
	if m.handler == nil {
		logger.Error("Broker: no frame handler configured")
		m.reject(client, f, "broker unavailable", nil)
		return
	}
	ctx := context.Background()

	switch destination := f.Header.Get(frame.Destination); destination {
	case stomp.SendDestination:
		var req entity.SendRequest
		if err := json.Unmarshal(f.Body, &req); err != nil {
			logger.Warn("Broker: invalid send payload from %d: %v", client.UserID, err)
			m.reject(client, f, "invalid payload", err)
			return
		}
		if err := m.handler.HandleSend(ctx, client.UserID, req); err != nil {
			logger.Warn("Broker: send from %d failed: %v", client.UserID, err)
			m.reject(client, f, "send rejected", err)
			return
		}

	case stomp.TypingDestination:
		var notice entity.TypingNotice
		if err := json.Unmarshal(f.Body, &notice); err != nil {
			logger.Warn("Broker: invalid typing payload from %d: %v", client.UserID, err)
			m.reject(client, f, "invalid payload", err)
			return
		}
		if err := m.handler.HandleTyping(ctx, client.UserID, notice); err != nil {
			logger.Debug("Broker: typing from %d dropped: %v", client.UserID, err)
			m.reject(client, f, "typing rejected", err)
			return
		}

	default:
		logger.Warn("Broker: user %d sent to unknown destination %q", client.UserID, destination)
		m.reject(client, f, "unknown destination", nil)
		return
	}

	m.sendReceipt(client, f)
}

// reject answers a refused frame that asked for a receipt. Frames without
// one are fire-and-forget and get no answer.
func (m *Manager) reject(client *Client, f *frame.Frame, message string, cause error) {
	receipt := f.Header.Get(frame.Receipt)
	if receipt == "" {
		return
	}
	var detail string
	if cause != nil {
		detail = cause.Error()
		var appErr *apperrors.AppError
		if errors.As(cause, &appErr) {
			detail = appErr.Message
		}
	}
	client.enqueue(m, stomp.Rejection(receipt, message, detail))
}

func (m *Manager) sendReceipt(client *Client, f *frame.Frame) {
	if receipt := f.Header.Get(frame.Receipt); receipt != "" {
		client.enqueue(m, stomp.Receipt(receipt))
	}
}
