package service

import (
	"errors"
	"sort"
	"time"

	"chatsync/internal/domain/entity"
)

var (
	ErrNotPending           = errors.New("message has no pending identity")
	ErrDuplicatePlaceholder = errors.New("an identical message is already pending")
)

// ReconcileOutcome describes what Reconcile or Confirm did with a server message.
type ReconcileOutcome int

const (
	// OutcomeDuplicate: the id was already present, the list size is unchanged.
	OutcomeDuplicate ReconcileOutcome = iota
	// OutcomeMatched: a placeholder was replaced by the server copy.
	OutcomeMatched
	// OutcomeAppended: nothing matched, the message was added.
	OutcomeAppended
	// OutcomeIgnored: the input was not a confirmed message.
	OutcomeIgnored
)

func (o ReconcileOutcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeMatched:
		return "matched"
	case OutcomeAppended:
		return "appended"
	default:
		return "ignored"
	}
}

// MessageStore holds one conversation's messages ordered by CreatedAt.
// It is not safe for concurrent use; a single owner goroutine mutates it.
type MessageStore struct {
	window   time.Duration
	messages []entity.Message
}

// NewMessageStore returns an empty store. window is the tolerance used to
// match an echo to a placeholder by sender, content and timestamp.
func NewMessageStore(window time.Duration) *MessageStore {
	return &MessageStore{window: window}
}

// Load replaces the list wholesale with history. Repeated ids keep the first copy.
func (s *MessageStore) Load(history []entity.Message) {
	seen := make(map[int64]struct{}, len(history))
	out := make([]entity.Message, 0, len(history))
	for _, m := range history {
		if id, ok := m.ID(); ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, settled(m))
	}
	s.messages = out
	s.sort()
}

// InsertOptimistic adds a placeholder. At most one placeholder may exist per
// sender and content within the reconciliation window.
func (s *MessageStore) InsertOptimistic(m entity.Message) error {
	localID, ok := m.LocalID()
	if !ok || localID == "" {
		return ErrNotPending
	}
	if s.indexOfLocal(localID) >= 0 {
		return ErrDuplicatePlaceholder
	}
	if s.matchPlaceholder(m.SenderID, m.Content, m.CreatedAt) >= 0 {
		return ErrDuplicatePlaceholder
	}
	s.messages = append(s.messages, m.Clone())
	s.sort()
	return nil
}

// Reconcile folds an authoritative message into the list. It never fails:
// a server message that matches nothing is appended.
func (s *MessageStore) Reconcile(server entity.Message) ReconcileOutcome {
	confirmed, ok := server.Identity.(entity.Confirmed)
	if !ok {
		return OutcomeIgnored
	}

	if idx := s.indexOfID(confirmed.ID); idx >= 0 {
		s.refresh(idx, server)
		return OutcomeDuplicate
	}

	idx := -1
	if confirmed.EchoOf != "" {
		idx = s.indexOfLocal(confirmed.EchoOf)
	} else {
		idx = s.matchPlaceholder(server.SenderID, server.Content, server.CreatedAt)
	}
	if idx >= 0 {
		s.messages[idx] = settled(server)
		s.sort()
		return OutcomeMatched
	}

	s.messages = append(s.messages, settled(server))
	s.sort()
	return OutcomeAppended
}

// Confirm resolves the placeholder localID with the response of a
// request/response send. If the echo already arrived, the placeholder is
// simply dropped.
func (s *MessageStore) Confirm(localID string, server entity.Message) ReconcileOutcome {
	confirmed, ok := server.Identity.(entity.Confirmed)
	if !ok {
		return OutcomeIgnored
	}

	if idx := s.indexOfID(confirmed.ID); idx >= 0 {
		s.refresh(idx, server)
		s.RemoveOptimistic(localID)
		return OutcomeDuplicate
	}
	if idx := s.indexOfLocal(localID); idx >= 0 {
		s.messages[idx] = settled(server)
		s.sort()
		return OutcomeMatched
	}

	s.messages = append(s.messages, settled(server))
	s.sort()
	return OutcomeAppended
}

// RemoveOptimistic drops the placeholder localID. It reports whether one existed.
func (s *MessageStore) RemoveOptimistic(localID string) bool {
	idx := s.indexOfLocal(localID)
	if idx < 0 {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	return true
}

// MarkRead flags the given confirmed ids as read and returns those that changed.
func (s *MessageStore) MarkRead(ids []int64) []int64 {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var changed []int64
	for i := range s.messages {
		id, ok := s.messages[i].ID()
		if !ok || s.messages[i].Read {
			continue
		}
		if _, hit := want[id]; hit {
			s.messages[i].Read = true
			changed = append(changed, id)
		}
	}
	return changed
}

// MarkAllReadFrom flags every confirmed message sent by peerID as read.
func (s *MessageStore) MarkAllReadFrom(peerID int64) []int64 {
	var changed []int64
	for i := range s.messages {
		m := &s.messages[i]
		id, ok := m.ID()
		if !ok || m.Read || m.SenderID != peerID {
			continue
		}
		m.Read = true
		changed = append(changed, id)
	}
	return changed
}

// UnreadFrom lists confirmed ids sent by peerID that are still unread.
func (s *MessageStore) UnreadFrom(peerID int64) []int64 {
	var ids []int64
	for _, m := range s.messages {
		if id, ok := m.ID(); ok && !m.Read && m.SenderID == peerID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Messages returns a snapshot of the list.
func (s *MessageStore) Messages() []entity.Message {
	out := make([]entity.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *MessageStore) Len() int {
	return len(s.messages)
}

func (s *MessageStore) PendingCount() int {
	n := 0
	for _, m := range s.messages {
		if m.IsPending() {
			n++
		}
	}
	return n
}

// refresh applies the only mutations a confirmed message accepts: read flag
// and reactions.
func (s *MessageStore) refresh(idx int, server entity.Message) {
	m := &s.messages[idx]
	m.Read = m.Read || server.Read
	if server.Reactions != nil {
		m.Reactions = server.Clone().Reactions
	}
}

func (s *MessageStore) indexOfID(id int64) int {
	for i, m := range s.messages {
		if got, ok := m.ID(); ok && got == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) indexOfLocal(localID string) int {
	for i, m := range s.messages {
		if got, ok := m.LocalID(); ok && got == localID {
			return i
		}
	}
	return -1
}

// matchPlaceholder finds the pending message closest in time to at with the
// same sender and content, within the window.
func (s *MessageStore) matchPlaceholder(senderID int64, content string, at time.Time) int {
	best, bestDiff := -1, time.Duration(0)
	for i, m := range s.messages {
		if !m.IsPending() || m.SenderID != senderID || m.Content != content {
			continue
		}
		diff := m.CreatedAt.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff > s.window {
			continue
		}
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func (s *MessageStore) sort() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
}

// settled strips the echoed local id: confirmed messages keep only their server id.
func settled(m entity.Message) entity.Message {
	out := m.Clone()
	if c, ok := out.Identity.(entity.Confirmed); ok {
		out.Identity = entity.Confirmed{ID: c.ID}
	}
	return out
}
