// Package severity maintains the per-conversation "swearing score": a
// monotonically updated counter aggregated from moderation verdicts and
// broadcast to every participant after each message.
package severity

import (
	"sync"
	"sync/atomic"
)

// Tracker holds one atomic counter per conversation. A counter is created on
// the first message of a conversation and lives until Forget is called
// explicitly when the conversation ends; it is never dropped implicitly.
// Many delivery goroutines update the same conversation concurrently, so
// increments go through atomics rather than read-modify-write.
type Tracker struct {
	mu     sync.RWMutex
	scores map[string]*atomic.Int64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{scores: make(map[string]*atomic.Int64)}
}

// counter returns the conversation's counter, creating it on first use.
func (t *Tracker) counter(conversationID string) *atomic.Int64 {
	t.mu.RLock()
	c, ok := t.scores[conversationID]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.scores[conversationID]; ok {
		return c
	}
	c = new(atomic.Int64)
	t.scores[conversationID] = c
	return c
}

// Add applies delta to the conversation's score and returns the new value.
// The score never goes below zero.
func (t *Tracker) Add(conversationID string, delta int64) int64 {
	c := t.counter(conversationID)
	for {
		old := c.Load()
		next := old + delta
		if next < 0 {
			next = 0
		}
		if c.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Score returns the current score, zero for unknown conversations.
func (t *Tracker) Score(conversationID string) int64 {
	t.mu.RLock()
	c, ok := t.scores[conversationID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// Forget drops the counter for an ended conversation.
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	delete(t.scores, conversationID)
	t.mu.Unlock()
}

// Count returns the number of tracked conversations.
func (t *Tracker) Count() int {
	t.mu.RLock()
	n := len(t.scores)
	t.mu.RUnlock()
	return n
}
