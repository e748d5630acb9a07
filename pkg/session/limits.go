package session

import (
	"log/slog"
	"time"
)

// enforceLimits runs once, synchronously, before a session is inserted.
// The caller must hold createMu.
//
// The global cap fails creation outright; no eviction is attempted for it.
// The per-owner cap evicts the owner's least-recently-active session, and if
// that eviction fails with anything other than an already-gone outcome, the
// whole creation fails and the new session is not inserted.
func (m *Manager) enforceLimits(owner string) error {
	if m.cfg.GlobalLimit > 0 && m.reg.count() >= m.cfg.GlobalLimit {
		m.metrics.onLimitHit(ScopeGlobal)
		return &LimitExceededError{Scope: ScopeGlobal}
	}

	if m.cfg.OwnerLimit <= 0 {
		return nil
	}

	ids := m.reg.ownerIDs(owner)
	if len(ids) < m.cfg.OwnerLimit {
		return nil
	}

	victim := m.oldestOf(ids)
	if victim == "" {
		// Everything vanished between the count and the scan; room exists.
		return nil
	}

	slog.Info("session: evicting least-recently-active session",
		"owner", owner, "session_id", victim)
	if err := m.cleanup(victim, ReasonOwnerLimit); err != nil {
		m.metrics.onLimitHit(ScopeOwner)
		return &LimitExceededError{Scope: ScopeOwner, cause: err}
	}
	return nil
}

// oldestOf picks the session with the oldest last activity, breaking ties by
// ID so eviction is deterministic.
func (m *Manager) oldestOf(ids []string) string {
	var (
		oldestID string
		oldestAt time.Time
	)
	for _, id := range ids {
		snap, ok := m.snapshot(id)
		if !ok {
			continue
		}
		if oldestID == "" ||
			snap.LastActivityAt.Before(oldestAt) ||
			(snap.LastActivityAt.Equal(oldestAt) && id < oldestID) {
			oldestID = id
			oldestAt = snap.LastActivityAt
		}
	}
	return oldestID
}
