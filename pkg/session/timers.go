package session

import (
	"log/slog"
	"time"

	"github.com/streamware/interactd/pkg/events"
)

// scheduleTimers arms the warning and expiration timers for a freshly
// created session. Both handles are recorded in the registry so cleanup can
// cancel them deterministically; a session must never be torn down with a
// dangling timer still able to fire against a reused ID.
func (m *Manager) scheduleTimers(id string, expiresAt time.Time, warningOffset time.Duration) {
	if warningOffset > 0 {
		if wait := time.Until(expiresAt.Add(-warningOffset)); wait > 0 {
			m.reg.setTimer(id, timerWarning,
				time.AfterFunc(wait, func() { m.fireWarning(id) }))
		}
	}

	m.reg.setTimer(id, timerExpiration,
		time.AfterFunc(time.Until(expiresAt), func() { m.fireExpiration(id) }))
}

// fireWarning is the warning timer callback. Losing the transition race is
// expected, not an error: the session may already be past the warning state.
func (m *Manager) fireWarning(id string) {
	prev, changed, err := m.transition(id, StateWarning)
	if err != nil || !changed {
		slog.Debug("session: warning timer lost the race",
			"session_id", id, "error", err)
		return
	}

	snap, _ := m.snapshot(id)
	m.bus.Publish(events.Event{
		Type:         events.TypeWarning,
		SessionID:    id,
		Owner:        snap.Owner,
		PrevState:    string(prev),
		Age:          time.Since(snap.CreatedAt),
		Interactions: snap.InteractionCount,
	})
	slog.Debug("session: entered warning state", "session_id", id)
}

// fireExpiration is the expiration timer callback. Only the caller that wins
// the transition to Expired hands the session to the cleanup orchestrator.
func (m *Manager) fireExpiration(id string) {
	prev, changed, err := m.transition(id, StateExpired)
	if err != nil || !changed {
		slog.Debug("session: expiration timer lost the race",
			"session_id", id, "error", err)
		return
	}

	m.metrics.onExpired()
	snap, _ := m.snapshot(id)
	m.bus.Publish(events.Event{
		Type:         events.TypeExpired,
		SessionID:    id,
		Owner:        snap.Owner,
		PrevState:    string(prev),
		Age:          time.Since(snap.CreatedAt),
		Interactions: snap.InteractionCount,
	})

	if err := m.cleanup(id, ReasonTimeout); err != nil {
		slog.Error("session: cleanup after expiration failed",
			"session_id", id, "error", err)
	}
}
