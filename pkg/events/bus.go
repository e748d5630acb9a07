// Package events provides a fire-and-forget lifecycle event bus. The
// lifecycle manager publishes typed events to interested observers and never
// waits on delivery: a subscriber that cannot keep up loses events.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	// TypeCreated is published when a session is admitted and registered.
	TypeCreated Type = "created"

	// TypeWarning is published when a session enters the warning state.
	TypeWarning Type = "warning"

	// TypeExpired is published when a session's expiration timer fires.
	TypeExpired Type = "expired"

	// TypeCleaned is published when a session is fully torn down.
	TypeCleaned Type = "cleaned"

	// TypeCleanupError is published when a best-effort cleanup sub-step
	// fails. Cleanup itself still completes.
	TypeCleanupError Type = "cleanup_error"

	// TypeInteraction is published for every accepted interaction event.
	TypeInteraction Type = "interaction"
)

// Event carries the bookkeeping fields of a lifecycle transition.
type Event struct {
	Type      Type          `json:"type"`
	SessionID string        `json:"session_id"`
	Owner     string        `json:"owner,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	PrevState string        `json:"prev_state,omitempty"`
	Age       time.Duration `json:"age,omitempty"`
	// Interactions is the session's interaction count at publish time.
	Interactions int `json:"interactions,omitempty"`
	// Step names the failed sub-step for TypeCleanupError.
	Step string `json:"step,omitempty"`
	// Error is the failed sub-step's error text for TypeCleanupError.
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// the event channel plus an unsubscribe function. Unsubscribe closes the
// channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
// Subscribers with full buffers are skipped and the drop counter grows;
// delivery is explicitly not guaranteed.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped due to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
