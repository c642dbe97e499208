package service

import (
	"sort"
	"time"

	"chatsync/internal/domain/entity"
)

// AssistantEntry describes the synthetic assistant conversation offered to
// qualifying users before they have talked to it.
type AssistantEntry struct {
	Enabled     bool
	PeerID      int64
	Name        string
	Placeholder string
}

type thread struct {
	messages map[int64]entity.Message
	// complete is set once the full history was observed; until then the
	// server's unread count may exceed what is known locally.
	complete     bool
	serverUnread int
}

// ConversationAggregator derives per-peer summaries from every message the
// client has seen. Like MessageStore it has a single owner goroutine.
type ConversationAggregator struct {
	userID    int64
	assistant AssistantEntry
	threads   map[int64]*thread
	names     map[int64]string
}

func NewConversationAggregator(userID int64, assistant AssistantEntry) *ConversationAggregator {
	a := &ConversationAggregator{
		userID:    userID,
		assistant: assistant,
		threads:   make(map[int64]*thread),
		names:     make(map[int64]string),
	}
	if assistant.Enabled {
		a.names[assistant.PeerID] = assistant.Name
	}
	return a
}

// Observe records a confirmed message. Placeholders are ignored.
func (a *ConversationAggregator) Observe(m entity.Message) {
	id, ok := m.ID()
	if !ok {
		return
	}
	t := a.thread(m.PeerOf(a.userID))
	if existing, found := t.messages[id]; found {
		existing.Read = existing.Read || m.Read
		if m.Reactions != nil {
			existing.Reactions = m.Clone().Reactions
		}
		t.messages[id] = existing
		return
	}
	t.messages[id] = m.Clone()
}

// ObserveHistory replaces what is known about peerID with its full history.
func (a *ConversationAggregator) ObserveHistory(peerID int64, history []entity.Message) {
	t := &thread{messages: make(map[int64]entity.Message, len(history)), complete: true}
	a.threads[peerID] = t
	for _, m := range history {
		if id, ok := m.ID(); ok {
			t.messages[id] = m.Clone()
		}
	}
}

// ObserveLatest folds in a latest-message-per-peer listing.
func (a *ConversationAggregator) ObserveLatest(latest []entity.Message) {
	for _, m := range latest {
		a.Observe(m)
	}
}

// SetServerUnread records the polled unread count for peerID.
func (a *ConversationAggregator) SetServerUnread(peerID int64, n int) {
	a.thread(peerID).serverUnread = n
}

// MarkConversationRead flags every message from peerID addressed to the user.
func (a *ConversationAggregator) MarkConversationRead(peerID int64) {
	t, ok := a.threads[peerID]
	if !ok {
		return
	}
	for id, m := range t.messages {
		if m.ReceiverID == a.userID && !m.Read {
			m.Read = true
			t.messages[id] = m
		}
	}
	t.serverUnread = 0
}

// MarkRead flags individual messages as read.
func (a *ConversationAggregator) MarkRead(ids ...int64) {
	for _, id := range ids {
		for _, t := range a.threads {
			if m, ok := t.messages[id]; ok && m.ReceiverID == a.userID && !m.Read {
				m.Read = true
				t.messages[id] = m
				if t.serverUnread > 0 {
					t.serverUnread--
				}
			}
		}
	}
}

func (a *ConversationAggregator) SetName(peerID int64, name string) {
	a.names[peerID] = name
}

func (a *ConversationAggregator) HasName(peerID int64) bool {
	_, ok := a.names[peerID]
	return ok
}

// Peers lists every peer with a known thread.
func (a *ConversationAggregator) Peers() []int64 {
	peers := make([]int64, 0, len(a.threads))
	for id := range a.threads {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Unread returns the unread count for peerID.
func (a *ConversationAggregator) Unread(peerID int64) int {
	t, ok := a.threads[peerID]
	if !ok {
		return 0
	}
	return a.unread(t)
}

func (a *ConversationAggregator) unread(t *thread) int {
	n := 0
	for _, m := range t.messages {
		if m.ReceiverID == a.userID && !m.Read {
			n++
		}
	}
	if !t.complete && t.serverUnread > n {
		return t.serverUnread
	}
	return n
}

// Summaries returns one entry per peer with at least one message, newest
// first. The assistant entry leads the list when it applies.
func (a *ConversationAggregator) Summaries() []entity.ConversationSummary {
	out := make([]entity.ConversationSummary, 0, len(a.threads)+1)
	hasAssistant := false

	for peerID, t := range a.threads {
		last, ok := latest(t.messages)
		if !ok {
			continue
		}
		if peerID == a.assistant.PeerID {
			hasAssistant = true
		}
		out = append(out, entity.ConversationSummary{
			PartnerID:          peerID,
			PartnerName:        a.names[peerID],
			LastMessageContent: last.Content,
			LastMessageTime:    last.CreatedAt,
			UnreadCount:        a.unread(t),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].PartnerID < out[j].PartnerID
	})

	if a.assistant.Enabled && !hasAssistant {
		head := entity.ConversationSummary{
			PartnerID:          a.assistant.PeerID,
			PartnerName:        a.assistant.Name,
			LastMessageContent: a.assistant.Placeholder,
			Synthetic:          true,
		}
		out = append([]entity.ConversationSummary{head}, out...)
	}
	return out
}

// TotalUnread sums unread counts across all threads.
func (a *ConversationAggregator) TotalUnread() int {
	total := 0
	for _, t := range a.threads {
		total += a.unread(t)
	}
	return total
}

func (a *ConversationAggregator) thread(peerID int64) *thread {
	t, ok := a.threads[peerID]
	if !ok {
		t = &thread{messages: make(map[int64]entity.Message)}
		a.threads[peerID] = t
	}
	return t
}

func latest(messages map[int64]entity.Message) (entity.Message, bool) {
	var (
		best  entity.Message
		found bool
		bestT time.Time
		bestI int64
	)
	for id, m := range messages {
		if !found || m.CreatedAt.After(bestT) || (m.CreatedAt.Equal(bestT) && id > bestI) {
			best, bestT, bestI, found = m, m.CreatedAt, id, true
		}
	}
	return best, found
}
