package session

import (
	"log/slog"
	"time"

	"github.com/streamware/interactd/pkg/events"
	"github.com/streamware/interactd/pkg/source"
)

// consume drains one session's event source until the source ends or the
// manager shuts down. Acknowledgment semantics belong to the source; the
// manager only decides accept/reject and updates bookkeeping.
func (m *Manager) consume(id string, src source.Source, handler func(Session, source.Interaction)) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-src.Events():
			if !ok {
				return
			}
			m.handleInteraction(id, ev, handler)
		case reason, ok := <-src.Done():
			if ok {
				m.handleSourceEnded(id, reason)
			}
			return
		}
	}
}

// handleInteraction applies one inbound interaction event. Events addressed
// to sessions that are not Active or Warning are rejected silently.
func (m *Manager) handleInteraction(id string, ev source.Interaction, handler func(Session, source.Interaction)) {
	mu, ok := m.locks.get(id)
	if !ok {
		return
	}
	mu.Lock()

	sess, ok := m.reg.lookup(id)
	if !ok || (sess.State != StateActive && sess.State != StateWarning) {
		mu.Unlock()
		return
	}

	sess.LastActivityAt = time.Now()
	sess.InteractionCount++
	snap := snapshotOf(sess)
	mu.Unlock()

	m.metrics.onInteraction()

	// The owner's business logic runs outside the session lock.
	if handler != nil {
		handler(snap, ev)
	}

	m.bus.Publish(events.Event{
		Type:         events.TypeInteraction,
		SessionID:    id,
		Owner:        snap.Owner,
		Age:          time.Since(snap.CreatedAt),
		Interactions: snap.InteractionCount,
	})
}

// handleSourceEnded routes a source's natural end-of-life into cleanup with
// reason source_ended. Ends triggered by our own Stop during cleanup are
// ignored; an already-cleaned session is a no-op inside cleanup anyway.
func (m *Manager) handleSourceEnded(id string, reason source.EndReason) {
	if reason == source.EndReasonStopped {
		return
	}

	slog.Debug("session: event source ended",
		"session_id", id, "end_reason", reason)
	if err := m.cleanup(id, ReasonSourceEnded); err != nil {
		slog.Error("session: cleanup after source end failed",
			"session_id", id, "error", err)
	}
}
