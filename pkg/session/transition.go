package session

import "log/slog"

// allowedTransitions is the directed transition graph. Cleaned is terminal.
// Expired sessions can only be cleaned; they still occupy a slot until then.
var allowedTransitions = map[State][]State{
	StateActive:  {StateWarning, StateExpired, StateCleaned},
	StateWarning: {StateExpired, StateCleaned},
	StateExpired: {StateCleaned},
}

func transitionAllowed(from, to State) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// transition moves the session to target under its exclusive lock. It is the
// only code path permitted to write State, and it serializes all transitions
// for one ID while never blocking transitions of other IDs.
//
// Requesting the state the session is already in is an idempotent no-op
// (changed=false, no error); this absorbs races between concurrent timer
// fires and explicit operations. An edge outside the transition graph fails
// with InvalidTransitionError.
func (m *Manager) transition(id string, target State) (prev State, changed bool, err error) {
	mu, ok := m.locks.get(id)
	if !ok {
		// Locks exist only for live sessions; creating one here would
		// resurrect a cleaned ID.
		return "", false, ErrNotFound
	}
	mu.Lock()
	defer mu.Unlock()

	sess, ok := m.reg.lookup(id)
	if !ok {
		return "", false, ErrNotFound
	}

	if sess.State == target {
		return sess.State, false, nil
	}
	if !transitionAllowed(sess.State, target) {
		return sess.State, false, &InvalidTransitionError{From: sess.State, To: target}
	}

	prev = sess.State
	sess.State = target
	slog.Debug("session: transition",
		"session_id", id, "from", prev, "to", target)
	return prev, true, nil
}
