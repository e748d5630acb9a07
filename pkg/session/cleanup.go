package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamware/interactd/pkg/events"
	"github.com/streamware/interactd/pkg/source"
)

// cleanup is the single retirement path for every session, whatever the
// cause: timers, explicit cancellation, owner-limit eviction, source
// end-of-life, or process shutdown. It is idempotent and partial-failure
// tolerant.
//
// Only the mandatory transition step can fail the call, and then only for
// unexpected errors: NotFound and InvalidTransition are benign race outcomes
// and absorbed. Every later sub-step is best-effort, so a single broken step
// (e.g. a panicking cleanup callback) can never prevent the session from
// being fully forgotten and its resources released.
func (m *Manager) cleanup(id string, reason Reason) error {
	prev, changed, err := m.transition(id, StateCleaned)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Debug("session: cleanup of unknown session",
				"session_id", id, "reason", reason)
			return nil
		}
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			slog.Debug("session: cleanup lost a transition race",
				"session_id", id, "reason", reason, "error", err)
			return nil
		}
		return &CleanupFailedError{ID: id, cause: err}
	}
	if !changed {
		// A concurrent cleaner reached Cleaned first and owns teardown.
		slog.Debug("session: already cleaned", "session_id", id)
		return nil
	}

	// The per-ID lock is released; the external calls below never run
	// under it.
	snap, _ := m.snapshot(id)

	if src, ok := m.reg.getSource(id); ok {
		// A source that already ended on its own is the routine path for
		// transport-closed and max-events retirements, not a failure.
		if err := stopSource(src); err != nil && !errors.Is(err, source.ErrAlreadyStopped) {
			m.reportCleanupError(id, "source_stop", err)
		}
	}

	if live, ok := m.reg.lookup(id); ok && live.OnCleanup != nil {
		if err := runCallback(live.OnCleanup); err != nil {
			m.reportCleanupError(id, "on_cleanup", err)
		}
	}

	for _, t := range m.reg.remove(id) {
		t.Stop()
	}
	m.locks.remove(id)

	m.metrics.onCleaned(reason)
	m.bus.Publish(events.Event{
		Type:         events.TypeCleaned,
		SessionID:    id,
		Owner:        snap.Owner,
		Reason:       string(reason),
		PrevState:    string(prev),
		Age:          time.Since(snap.CreatedAt),
		Interactions: snap.InteractionCount,
	})
	slog.Info("session: cleaned",
		"session_id", id, "reason", reason, "prev_state", prev,
		"interactions", snap.InteractionCount)
	return nil
}

// reportCleanupError records a failed best-effort sub-step. It is logged and
// published as a recoverable event, never propagated.
func (m *Manager) reportCleanupError(id, step string, err error) {
	slog.Warn("session: recoverable cleanup error",
		"session_id", id, "step", step, "error", err)
	m.metrics.onCleanupError()
	m.bus.Publish(events.Event{
		Type:      events.TypeCleanupError,
		SessionID: id,
		Step:      step,
		Error:     err.Error(),
	})
}

// stopSource stops an event-source handle, converting a panic into an error
// so a misbehaving collaborator cannot abort teardown.
func stopSource(src source.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source stop panicked: %v", r)
		}
	}()
	return src.Stop()
}

// runCallback invokes the user-supplied cleanup callback with the same
// panic containment.
func runCallback(cb func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup callback panicked: %v", r)
		}
	}()
	return cb()
}
