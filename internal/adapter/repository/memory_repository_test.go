package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/errors"
)

func newClockedRepo() (*memoryMessageRepository, *time.Time) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r := NewMemoryMessageRepository().(*memoryMessageRepository)
	r.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return r, &now
}

func TestCreateAssignsIDAndEchoesLocalID(t *testing.T) {
	r, _ := newClockedRepo()
	ctx := context.Background()

	m := entity.NewPending("tmp-1", 1, 2, "hello", time.Time{})
	require.NoError(t, r.Create(ctx, &m))

	assert.Equal(t, entity.Confirmed{ID: 1, EchoOf: "tmp-1"}, m.Identity)
	assert.False(t, m.CreatedAt.IsZero())

	stored, err := r.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.Confirmed{ID: 1}, stored.Identity)
}

func TestListBetweenAndLatest(t *testing.T) {
	r, _ := newClockedRepo()
	ctx := context.Background()

	for _, m := range []entity.Message{
		entity.NewPending("a", 1, 2, "to bob", time.Time{}),
		entity.NewPending("b", 3, 1, "from carol", time.Time{}),
		entity.NewPending("c", 2, 1, "bob replies", time.Time{}),
	} {
		m := m
		require.NoError(t, r.Create(ctx, &m))
	}

	history, err := r.ListBetween(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "to bob", history[0].Content)
	assert.Equal(t, "bob replies", history[1].Content)

	latest, err := r.LatestPerPeer(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "bob replies", latest[0].Content)
	assert.Equal(t, "from carol", latest[1].Content)
}

func TestReadStateAndCounts(t *testing.T) {
	r, _ := newClockedRepo()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m := entity.NewPending("", 2, 1, "ping", time.Time{})
		require.NoError(t, r.Create(ctx, &m))
	}
	m := entity.NewPending("", 3, 1, "other", time.Time{})
	require.NoError(t, r.Create(ctx, &m))

	n, _ := r.UnreadCount(ctx, 1)
	assert.Equal(t, 3, n)
	n, _ = r.UnreadCountFrom(ctx, 1, 2)
	assert.Equal(t, 2, n)

	_, err := r.MarkRead(ctx, 1, 2)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	read, err := r.MarkRead(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, read.Read)

	changed, err := r.MarkConversationRead(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	n, _ = r.UnreadCount(ctx, 1)
	assert.Equal(t, 1, n)
}

func TestAddReaction(t *testing.T) {
	r, _ := newClockedRepo()
	ctx := context.Background()
	m := entity.NewPending("", 1, 2, "nice flat", time.Time{})
	require.NoError(t, r.Create(ctx, &m))

	r.AddReaction(ctx, 1, "👍")
	updated, err := r.AddReaction(ctx, 1, "👍")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Reactions["👍"])

	_, err = r.AddReaction(ctx, 99, "👍")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestParseUsers(t *testing.T) {
	users, err := ParseUsers("1:Alice:user, 2:Bob:AGENT,")
	require.NoError(t, err)
	assert.Equal(t, []entity.Peer{{ID: 1, Name: "Alice", Role: "USER"}, {ID: 2, Name: "Bob", Role: "AGENT"}}, users)

	_, err = ParseUsers("x:Alice:USER")
	assert.Error(t, err)

	repo := NewMemoryUserRepository(users)
	u, err := repo.GetByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)
}
