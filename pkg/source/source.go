// Package source defines the event-source collaborator boundary: a
// per-session handle that delivers interaction events and signals its own
// end-of-life. The lifecycle manager consumes this interface; it never owns
// the source's acknowledgment semantics.
package source

import (
	"errors"
	"sync"
	"time"
)

// EndReason identifies why a source stopped delivering events on its own.
type EndReason string

const (
	// EndReasonMaxEvents means the source hit its own event cap.
	EndReasonMaxEvents EndReason = "max_events"

	// EndReasonTransportClosed means the underlying transport went away.
	EndReasonTransportClosed EndReason = "transport_closed"

	// EndReasonStopped means the consumer called Stop.
	EndReasonStopped EndReason = "stopped"
)

// Interaction is a single inbound interaction event.
type Interaction struct {
	// PrincipalID identifies the user who initiated the interaction.
	PrincipalID string

	// Action is a free-form action identifier (e.g. a component custom ID).
	Action string

	// DeliveredAt is when the transport delivered the event.
	DeliveredAt time.Time
}

// Source is a per-session event-source handle.
//
// Stop is not guaranteed to be idempotent: a second call may return an
// error, and callers must tolerate that.
type Source interface {
	// Events yields interaction events until the source ends.
	Events() <-chan Interaction

	// Done yields exactly one EndReason when the source ends on its own.
	Done() <-chan EndReason

	// Stop tears the source down. A second call may fail.
	Stop() error
}

// ErrAlreadyStopped is returned by Stop when the source was already stopped.
var ErrAlreadyStopped = errors.New("source: already stopped")

// ChannelSource is an in-memory Source backed by channels. It is used by
// tests and by transports that push events from their own goroutines.
type ChannelSource struct {
	mu        sync.Mutex
	events    chan Interaction
	done      chan EndReason
	maxEvents int
	delivered int
	stopped   bool
}

// NewChannelSource creates a ChannelSource with the given event buffer.
// If maxEvents is positive the source ends itself with EndReasonMaxEvents
// after delivering that many events.
func NewChannelSource(buffer, maxEvents int) *ChannelSource {
	return &ChannelSource{
		events:    make(chan Interaction, buffer),
		done:      make(chan EndReason, 1),
		maxEvents: maxEvents,
	}
}

// Events returns the interaction event channel.
func (s *ChannelSource) Events() <-chan Interaction {
	return s.events
}

// Done returns the end-of-life channel.
func (s *ChannelSource) Done() <-chan EndReason {
	return s.done
}

// Deliver pushes an interaction into the source. It returns false if the
// source has stopped or its buffer is full (the event is dropped).
func (s *ChannelSource) Deliver(ev Interaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	select {
	case s.events <- ev:
	default:
		return false
	}

	s.delivered++
	if s.maxEvents > 0 && s.delivered >= s.maxEvents {
		s.endLocked(EndReasonMaxEvents)
	}
	return true
}

// End signals natural end-of-life with the given reason.
func (s *ChannelSource) End(reason EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(reason)
}

// Stop tears the source down. A second call returns ErrAlreadyStopped.
func (s *ChannelSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrAlreadyStopped
	}
	s.endLocked(EndReasonStopped)
	return nil
}

// endLocked marks the source stopped and emits the end reason once.
// Caller must hold the mutex.
func (s *ChannelSource) endLocked(reason EndReason) {
	if s.stopped {
		return
	}
	s.stopped = true
	s.done <- reason
	close(s.done)
}

// Verify interface compliance.
var _ Source = (*ChannelSource)(nil)
