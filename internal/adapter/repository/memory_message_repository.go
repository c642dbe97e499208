package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/internal/domain/entity"
	"chatsync/internal/domain/repository"
	"chatsync/pkg/errors"
)

type memoryMessageRepository struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]*entity.Message
	now      func() time.Time
}

// NewMemoryMessageRepository keeps messages in process memory. Server-side
// persistence is outside this project; the dev server only needs ids,
// ordering and read state.
func NewMemoryMessageRepository() repository.MessageRepository {
	return &memoryMessageRepository{
		messages: make(map[int64]*entity.Message),
		now:      time.Now,
	}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	localID, _ := message.LocalID()

	message.CreatedAt = r.now().UTC()
	message.Read = false
	message.Identity = entity.Confirmed{ID: r.nextID}

	stored := message.Clone()
	r.messages[r.nextID] = &stored

	// The caller's copy carries the sender's local id back for matching.
	message.Identity = entity.Confirmed{ID: r.nextID, EchoOf: localID}
	return nil
}

func (r *memoryMessageRepository) GetByID(ctx context.Context, id int64) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	out := m.Clone()
	return &out, nil
}

func (r *memoryMessageRepository) ListBetween(ctx context.Context, userID, peerID int64) ([]entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entity.Message
	for _, m := range r.messages {
		if (m.SenderID == userID && m.ReceiverID == peerID) || (m.SenderID == peerID && m.ReceiverID == userID) {
			out = append(out, m.Clone())
		}
	}
	sortChronological(out)
	return out, nil
}

func (r *memoryMessageRepository) LatestPerPeer(ctx context.Context, userID int64) ([]entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[int64]*entity.Message)
	for _, m := range r.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		peer := m.PeerOf(userID)
		if cur, ok := latest[peer]; !ok || newer(m, cur) {
			latest[peer] = m
		}
	}

	out := make([]entity.Message, 0, len(latest))
	for _, m := range latest {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return newer(&out[i], &out[j]) })
	return out, nil
}

func (r *memoryMessageRepository) MarkRead(ctx context.Context, id, readerID int64) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	if m.ReceiverID != readerID {
		return nil, errors.Forbidden("Only the receiver can mark a message read", nil)
	}
	m.Read = true
	out := m.Clone()
	return &out, nil
}

func (r *memoryMessageRepository) MarkConversationRead(ctx context.Context, readerID, peerID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.messages {
		if m.ReceiverID == readerID && m.SenderID == peerID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (r *memoryMessageRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.messages {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (r *memoryMessageRepository) UnreadCountFrom(ctx context.Context, userID, peerID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.messages {
		if m.ReceiverID == userID && m.SenderID == peerID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (r *memoryMessageRepository) AddReaction(ctx context.Context, id int64, symbol string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	m.Reactions[symbol]++
	out := m.Clone()
	return &out, nil
}

func sortChronological(messages []entity.Message) {
	sort.Slice(messages, func(i, j int) bool { return newer(&messages[j], &messages[i]) })
}

// newer orders by creation time, then by id for messages created in the same instant.
func newer(a, b *entity.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	aID, _ := a.ID()
	bID, _ := b.ID()
	return aID > bID
}
