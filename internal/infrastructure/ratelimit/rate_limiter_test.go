package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(60)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("1", ActionAssistant)
		assert.True(t, ok, "request %d", i)
	}

	ok, wait := rl.Allow("1", ActionAssistant)
	assert.False(t, ok)
	assert.Greater(t, wait.Seconds(), 0.0)
}

func TestBucketsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1)

	ok, _ := rl.Allow("1", ActionRequest)
	assert.True(t, ok)
	ok, _ = rl.Allow("1", ActionRequest)
	assert.False(t, ok)

	ok, _ = rl.Allow("2", ActionRequest)
	assert.True(t, ok, "another user has its own bucket")
	ok, _ = rl.Allow("1", ActionSendMessage)
	assert.True(t, ok, "another action has its own bucket")
}

func TestCleanupKeepsRecentBuckets(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.Allow("1", ActionTyping)
	rl.Cleanup()
	assert.Len(t, rl.buckets, 1)
}
