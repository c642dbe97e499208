package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
)

const me = int64(1)

func noAssistant() AssistantEntry { return AssistantEntry{} }

func TestSummariesOrderAndUnread(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.SetName(2, "Alice")
	a.SetName(3, "Bob")

	a.Observe(confirmed(1, 2, me, "a1", t0))
	a.Observe(confirmed(2, 2, me, "a2", t0.Add(time.Minute)))
	a.Observe(confirmed(3, me, 3, "b1", t0.Add(2*time.Minute)))
	// A placeholder never shows up in summaries.
	a.Observe(entity.NewPending("l1", me, 4, "pending", t0.Add(time.Hour)))

	sums := a.Summaries()
	require.Len(t, sums, 2)

	assert.Equal(t, int64(3), sums[0].PartnerID)
	assert.Equal(t, "Bob", sums[0].PartnerName)
	assert.Equal(t, "b1", sums[0].LastMessageContent)
	assert.Equal(t, 0, sums[0].UnreadCount)

	assert.Equal(t, int64(2), sums[1].PartnerID)
	assert.Equal(t, "a2", sums[1].LastMessageContent)
	assert.Equal(t, 2, sums[1].UnreadCount)
	assert.Equal(t, 2, a.TotalUnread())
}

func TestMarkConversationReadLeavesOthersUntouched(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.Observe(confirmed(1, 2, me, "a1", t0))
	a.Observe(confirmed(2, 2, me, "a2", t0.Add(time.Second)))
	a.Observe(confirmed(3, 3, me, "b1", t0.Add(2*time.Second)))
	a.MarkRead(3)

	require.Equal(t, 2, a.Unread(2))
	require.Equal(t, 0, a.Unread(3))

	a.MarkConversationRead(2)

	assert.Equal(t, 0, a.Unread(2))
	assert.Equal(t, 0, a.Unread(3))
	for _, s := range a.Summaries() {
		assert.Equal(t, 0, s.UnreadCount, "peer %d", s.PartnerID)
	}
}

func TestOwnMessagesDoNotCountAsUnread(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.Observe(confirmed(1, me, 2, "mine", t0))
	assert.Equal(t, 0, a.Unread(2))
}

func TestServerUnreadCoversPartialThreads(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.ObserveLatest([]entity.Message{confirmed(9, 2, me, "latest", t0)})
	a.SetServerUnread(2, 5)
	assert.Equal(t, 5, a.Unread(2))

	a.ObserveHistory(2, []entity.Message{
		confirmed(8, 2, me, "older", t0.Add(-time.Minute)),
		confirmed(9, 2, me, "latest", t0),
	})
	assert.Equal(t, 2, a.Unread(2))
}

func TestObserveRefreshesReadFlag(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.Observe(confirmed(1, 2, me, "x", t0))
	read := confirmed(1, 2, me, "x", t0)
	read.Read = true
	a.Observe(read)
	assert.Equal(t, 0, a.Unread(2))
}

func TestAssistantInjectedAtHead(t *testing.T) {
	a := NewConversationAggregator(me, AssistantEntry{Enabled: true, PeerID: -1, Name: "Assistant", Placeholder: "Ask me"})
	a.Observe(confirmed(1, 2, me, "hello", t0))

	sums := a.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, int64(-1), sums[0].PartnerID)
	assert.True(t, sums[0].Synthetic)
	assert.Equal(t, "Ask me", sums[0].LastMessageContent)
	assert.Equal(t, 0, sums[0].UnreadCount)
}

func TestAssistantNotInjectedOnceThreadExists(t *testing.T) {
	a := NewConversationAggregator(me, AssistantEntry{Enabled: true, PeerID: -1, Name: "Assistant"})
	a.Observe(confirmed(-2, me, -1, "question", t0))
	a.Observe(confirmed(5, 2, me, "newer", t0.Add(time.Minute)))

	sums := a.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, int64(2), sums[0].PartnerID)
	assert.Equal(t, int64(-1), sums[1].PartnerID)
	assert.False(t, sums[1].Synthetic)
	assert.Equal(t, "Assistant", sums[1].PartnerName)
}

func TestAssistantDisabled(t *testing.T) {
	a := NewConversationAggregator(me, AssistantEntry{Enabled: false, PeerID: -1})
	assert.Empty(t, a.Summaries())
}

func TestEqualTimesBreakTiesByPartner(t *testing.T) {
	a := NewConversationAggregator(me, noAssistant())
	a.Observe(confirmed(1, 7, me, "x", t0))
	a.Observe(confirmed(2, 4, me, "y", t0))

	sums := a.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, int64(4), sums[0].PartnerID)
	assert.Equal(t, []int64{4, 7}, a.Peers())
}
