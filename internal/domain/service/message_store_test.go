package service

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func confirmed(id, sender, receiver int64, content string, at time.Time) entity.Message {
	return entity.Message{
		Identity:   entity.Confirmed{ID: id},
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Type:       entity.MessageTypeText,
		CreatedAt:  at,
	}
}

func assertSorted(t *testing.T, msgs []entity.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "message %d out of order", i)
	}
}

func TestReconcileReplacesMatchingPlaceholder(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "hello", t0)))

	echo := confirmed(10, 1, 2, "hello", t0.Add(1500*time.Millisecond))
	outcome := s.Reconcile(echo)

	assert.Equal(t, OutcomeMatched, outcome)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, echo, msgs[0])
	assert.Equal(t, 0, s.PendingCount())
}

func TestReconcileOutsideWindowAppends(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "hello", t0)))

	outcome := s.Reconcile(confirmed(10, 1, 2, "hello", t0.Add(3*time.Second)))

	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.PendingCount())
}

func TestReconcileRequiresSameSenderAndContent(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "hello", t0)))

	assert.Equal(t, OutcomeAppended, s.Reconcile(confirmed(10, 2, 1, "hello", t0)))
	assert.Equal(t, OutcomeAppended, s.Reconcile(confirmed(11, 1, 2, "hello!", t0)))
	assert.Equal(t, 1, s.PendingCount())
}

func TestReconcileUsesEchoedLocalID(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "hello", t0)))

	// Server clock far off: the echoed local id still pairs them.
	echo := confirmed(10, 1, 2, "hello", t0.Add(time.Minute))
	echo.Identity = entity.Confirmed{ID: 10, EchoOf: "l1"}

	assert.Equal(t, OutcomeMatched, s.Reconcile(echo))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.Confirmed{ID: 10}, msgs[0].Identity)
}

func TestReconcileDuplicateDeliveryIsIdempotent(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	s.Load([]entity.Message{confirmed(1, 2, 1, "a", t0)})

	echo := confirmed(5, 2, 1, "b", t0.Add(time.Second))
	assert.Equal(t, OutcomeAppended, s.Reconcile(echo))
	size := s.Len()

	assert.Equal(t, OutcomeDuplicate, s.Reconcile(echo))
	assert.Equal(t, size, s.Len())
}

func TestReconcileDuplicateRefreshesOnlyReadAndReactions(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	s.Load([]entity.Message{confirmed(1, 2, 1, "original", t0)})

	update := confirmed(1, 2, 1, "tampered", t0.Add(time.Hour))
	update.Read = true
	update.Reactions = map[string]int{"❤️": 2}
	s.Reconcile(update)

	m := s.Messages()[0]
	assert.Equal(t, "original", m.Content)
	assert.Equal(t, t0, m.CreatedAt)
	assert.True(t, m.Read)
	assert.Equal(t, map[string]int{"❤️": 2}, m.Reactions)
}

func TestReconcileIgnoresPendingInput(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	assert.Equal(t, OutcomeIgnored, s.Reconcile(entity.NewPending("x", 1, 2, "c", t0)))
	assert.Equal(t, 0, s.Len())
}

func TestReconcileOutOfOrderKeepsChronology(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	s.Reconcile(confirmed(3, 2, 1, "third", t0.Add(3*time.Second)))
	s.Reconcile(confirmed(1, 2, 1, "first", t0.Add(1*time.Second)))
	s.Reconcile(confirmed(2, 1, 2, "second", t0.Add(2*time.Second)))

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
}

func TestInsertOptimisticRejectsSecondIdenticalPlaceholder(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "ok", t0)))

	assert.ErrorIs(t, s.InsertOptimistic(entity.NewPending("l2", 1, 2, "ok", t0.Add(time.Second))), ErrDuplicatePlaceholder)
	assert.ErrorIs(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "other", t0)), ErrDuplicatePlaceholder)
	assert.NoError(t, s.InsertOptimistic(entity.NewPending("l3", 1, 2, "ok", t0.Add(5*time.Second))))
	assert.ErrorIs(t, s.InsertOptimistic(confirmed(9, 1, 2, "x", t0)), ErrNotPending)
}

func TestConfirmReplacesPlaceholder(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "via rest", t0)))

	assert.Equal(t, OutcomeMatched, s.Confirm("l1", confirmed(20, 1, 2, "via rest", t0.Add(time.Minute))))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.PendingCount())
}

func TestConfirmAfterEchoDropsPlaceholder(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "race", t0)))
	// The echo landed first but far outside the window, so it did not replace the placeholder.
	s.Load(append(s.Messages(), confirmed(20, 1, 2, "race", t0.Add(10*time.Second))))

	assert.Equal(t, OutcomeDuplicate, s.Confirm("l1", confirmed(20, 1, 2, "race", t0.Add(10*time.Second))))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.PendingCount())
}

func TestRemoveOptimistic(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	require.NoError(t, s.InsertOptimistic(entity.NewPending("l1", 1, 2, "will fail", t0)))

	assert.True(t, s.RemoveOptimistic("l1"))
	assert.False(t, s.RemoveOptimistic("l1"))
	assert.Equal(t, 0, s.Len())
}

func TestMarkRead(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	s.Load([]entity.Message{
		confirmed(1, 2, 1, "a", t0),
		confirmed(2, 2, 1, "b", t0.Add(time.Second)),
		confirmed(3, 3, 1, "c", t0.Add(2*time.Second)),
	})

	assert.Equal(t, []int64{1}, s.MarkRead([]int64{1, 99}))
	assert.Empty(t, s.MarkRead([]int64{1}))
	assert.Equal(t, []int64{2}, s.UnreadFrom(2))
	assert.Equal(t, []int64{2}, s.MarkAllReadFrom(2))
	assert.Empty(t, s.UnreadFrom(2))
	assert.Equal(t, []int64{3}, s.UnreadFrom(3))
}

func TestLoadSortsAndDedupes(t *testing.T) {
	s := NewMessageStore(2 * time.Second)
	s.Load([]entity.Message{
		confirmed(2, 1, 2, "late", t0.Add(time.Minute)),
		confirmed(1, 2, 1, "early", t0),
		confirmed(2, 1, 2, "late", t0.Add(time.Minute)),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "early", msgs[0].Content)
}

// Randomised check of the ordering, no-duplicate and idempotence properties.
func TestStorePropertiesUnderRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		s := NewMessageStore(2 * time.Second)
		n := 1 + rng.Intn(6)
		echoes := make([]entity.Message, 0, n)

		for i := 0; i < n; i++ {
			at := t0.Add(time.Duration(i*3) * time.Second)
			content := fmt.Sprintf("msg-%d", i)
			require.NoError(t, s.InsertOptimistic(entity.NewPending(fmt.Sprintf("l%d", i), 1, 2, content, at)))
			lag := time.Duration(rng.Intn(1900)) * time.Millisecond
			echoes = append(echoes, confirmed(int64(100+i), 1, 2, content, at.Add(lag)))
		}

		rng.Shuffle(len(echoes), func(i, j int) { echoes[i], echoes[j] = echoes[j], echoes[i] })
		for _, e := range echoes {
			s.Reconcile(e)
			assertSorted(t, s.Messages())
		}

		assert.Equal(t, n, s.Len(), "round %d", round)
		assert.Equal(t, 0, s.PendingCount(), "round %d", round)

		size := s.Len()
		for _, e := range echoes {
			assert.Equal(t, OutcomeDuplicate, s.Reconcile(e))
		}
		assert.Equal(t, size, s.Len())
	}
}
