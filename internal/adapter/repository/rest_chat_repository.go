package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/internal/version"
	"chatsync/pkg/errors"
)

// RESTChatRepository talks to the chat backend's JSON API. Every response is
// wrapped in {success, data, error, timestamp}.
type RESTChatRepository struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ repository.ChatRepository = (*RESTChatRepository)(nil)
	_ repository.PeerDirectory  = (*RESTChatRepository)(nil)
)

func NewRESTChatRepository(baseURL, token string, timeout time.Duration) *RESTChatRepository {
	return &RESTChatRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *RESTChatRepository) Conversation(ctx context.Context, peerID int64) ([]entity.Message, error) {
	var messages []entity.Message
	err := r.call(ctx, http.MethodGet, fmt.Sprintf("/api/messages/conversation/%d", peerID), nil, &messages)
	return messages, err
}

func (r *RESTChatRepository) Conversations(ctx context.Context) ([]entity.Message, error) {
	var messages []entity.Message
	err := r.call(ctx, http.MethodGet, "/api/messages/conversations", nil, &messages)
	return messages, err
}

func (r *RESTChatRepository) Send(ctx context.Context, req entity.SendRequest) (entity.Message, error) {
	var message entity.Message
	err := r.call(ctx, http.MethodPost, "/api/messages/send", req, &message)
	return message, err
}

func (r *RESTChatRepository) MarkRead(ctx context.Context, messageID int64) error {
	return r.call(ctx, http.MethodPut, fmt.Sprintf("/api/messages/%d/read", messageID), nil, nil)
}

func (r *RESTChatRepository) MarkConversationRead(ctx context.Context, peerID int64) error {
	return r.call(ctx, http.MethodPut, fmt.Sprintf("/api/messages/conversation/%d/read", peerID), nil, nil)
}

func (r *RESTChatRepository) UnreadCount(ctx context.Context) (int, error) {
	data, err := r.do(ctx, http.MethodGet, "/api/messages/unread-count", nil)
	if err != nil {
		return 0, err
	}
	return int(data.Get("count").Int()), nil
}

func (r *RESTChatRepository) UnreadCountWith(ctx context.Context, peerID int64) (int, error) {
	data, err := r.do(ctx, http.MethodGet, fmt.Sprintf("/api/messages/unread-count/%d", peerID), nil)
	if err != nil {
		return 0, err
	}
	return int(data.Get("count").Int()), nil
}

func (r *RESTChatRepository) AssistantReply(ctx context.Context, text, languageCode string) (entity.Message, error) {
	var message entity.Message
	body := map[string]string{"text": text, "languageCode": languageCode}
	err := r.call(ctx, http.MethodPost, "/api/assistant/reply", body, &message)
	return message, err
}

func (r *RESTChatRepository) AddReaction(ctx context.Context, messageID int64, symbol string) (entity.Message, error) {
	var message entity.Message
	body := map[string]string{"symbol": symbol}
	err := r.call(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/reactions", messageID), body, &message)
	return message, err
}

func (r *RESTChatRepository) Peer(ctx context.Context, peerID int64) (entity.Peer, error) {
	var peer entity.Peer
	err := r.call(ctx, http.MethodGet, fmt.Sprintf("/api/users/%d", peerID), nil, &peer)
	return peer, err
}

// call performs a request and decodes the envelope's data into out, if set.
func (r *RESTChatRepository) call(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := r.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || !data.Exists() {
		return nil
	}
	if err := json.Unmarshal([]byte(data.Raw), out); err != nil {
		return errors.Internal("failed to decode response data", err)
	}
	return nil
}

func (r *RESTChatRepository) do(ctx context.Context, method, path string, body interface{}) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, errors.BadRequest("failed to encode request", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, errors.Internal("failed to build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return gjson.Result{}, errors.Transport(method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.Transport("failed to read response", err)
	}

	envelope := gjson.ParseBytes(raw)
	if resp.StatusCode >= http.StatusBadRequest || !envelope.Get("success").Bool() {
		return gjson.Result{}, envelopeError(resp.StatusCode, envelope)
	}
	return envelope.Get("data"), nil
}

func envelopeError(status int, envelope gjson.Result) error {
	code := envelope.Get("error.code").String()
	message := envelope.Get("error.message").String()
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return errors.Authentication(message, nil)
	case code != "":
		return errors.New(code, message, status, nil)
	case status == http.StatusNotFound:
		return errors.NotFound("resource", nil)
	case status >= http.StatusInternalServerError:
		return errors.Transport(message, nil)
	default:
		return errors.New(errors.CodeInternal, message, status, nil)
	}
}
