package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionTyping      = "typing"
	ActionAssistant   = "assistant"
	ActionRequest     = "request"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	buckets   map[string]*bucket
	mutex     sync.Mutex
	perMinute int
}

// NewRateLimiter creates a limiter whose default action allows perMinute
// events per minute per user.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
	}
}

func (rl *RateLimiter) newLimiter(action string) *rate.Limiter {
	switch action {
	case ActionSendMessage:
		// 30 messages per minute, bursts of 10
		return rate.NewLimiter(rate.Every(2*time.Second), 10)
	case ActionTyping:
		// Typing notices are sent per keystroke batch
		return rate.NewLimiter(rate.Every(100*time.Millisecond), 30)
	case ActionAssistant:
		return rate.NewLimiter(rate.Every(6*time.Second), 3)
	default:
		return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute)
	}
}

// Allow checks if a user action is allowed and consumes a token if so. When
// denied it returns how long until a token is available.
func (rl *RateLimiter) Allow(key, action string) (bool, time.Duration) {
	id := key + ":" + action
	now := time.Now()

	rl.mutex.Lock()
	b, exists := rl.buckets[id]
	if !exists {
		b = &bucket{limiter: rl.newLimiter(action)}
		rl.buckets[id] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup removes buckets not used for an hour
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup periodically until ctx is done
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
