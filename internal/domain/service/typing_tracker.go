package service

import (
	"sync"
	"time"

	"chatsync/internal/domain/entity"
)

// TypingTracker keeps a short-lived "is typing" flag per peer. A notice with
// typing=true (re)arms a local expiry timer; expiry or typing=false clears it.
type TypingTracker struct {
	expiry   time.Duration
	onChange func(peerID int64, typing bool)

	mu    sync.Mutex
	peers map[int64]*typingState
}

type typingState struct {
	timer *time.Timer
	gen   uint64
}

// NewTypingTracker calls onChange, if set, on every IDLE/TYPING transition.
// onChange runs without the tracker's lock held, possibly on a timer goroutine.
func NewTypingTracker(expiry time.Duration, onChange func(peerID int64, typing bool)) *TypingTracker {
	return &TypingTracker{
		expiry:   expiry,
		onChange: onChange,
		peers:    make(map[int64]*typingState),
	}
}

// Notice applies an inbound typing notice from its sender.
func (t *TypingTracker) Notice(n entity.TypingNotice) {
	if n.Typing {
		t.start(n.SenderID)
	} else {
		t.stop(n.SenderID)
	}
}

func (t *TypingTracker) start(peerID int64) {
	t.mu.Lock()
	st, wasTyping := t.peers[peerID]
	if !wasTyping {
		st = &typingState{}
		t.peers[peerID] = st
	} else {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(t.expiry, func() { t.expire(peerID, gen) })
	t.mu.Unlock()

	if !wasTyping {
		t.notify(peerID, true)
	}
}

func (t *TypingTracker) stop(peerID int64) {
	t.mu.Lock()
	st, ok := t.peers[peerID]
	if ok {
		st.timer.Stop()
		delete(t.peers, peerID)
	}
	t.mu.Unlock()

	if ok {
		t.notify(peerID, false)
	}
}

// expire ignores timers that were superseded by a later notice.
func (t *TypingTracker) expire(peerID int64, gen uint64) {
	t.mu.Lock()
	st, ok := t.peers[peerID]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.peers, peerID)
	t.mu.Unlock()

	t.notify(peerID, false)
}

func (t *TypingTracker) IsTyping(peerID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[peerID]
	return ok
}

// Reset clears every indicator without notifying, e.g. after a reconnect.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.peers {
		st.timer.Stop()
		delete(t.peers, id)
	}
}

func (t *TypingTracker) notify(peerID int64, typing bool) {
	if t.onChange != nil {
		t.onChange(peerID, typing)
	}
}
