// Package session implements the interactive session lifecycle manager: it
// creates, tracks, times out, and tears down short-lived per-user sessions
// that wait for further input (e.g. a message with interactive components).
//
// All state transitions for a session are serialized through a per-session
// lock, timers drive a two-phase timeout (warning, then expiration), session
// creation enforces global and per-owner concurrency caps, and every session
// is retired through a single idempotent cleanup path.
package session

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// State is a session's lifecycle state.
type State string

const (
	// StateActive is the initial state: the session accepts interactions.
	StateActive State = "active"

	// StateWarning means the session is close to expiring. Interactions
	// are still accepted.
	StateWarning State = "warning"

	// StateExpired means the expiration timer fired. The session still
	// occupies a concurrency slot until cleaned.
	StateExpired State = "expired"

	// StateCleaned is terminal: the session has been torn down and
	// removed from the registry.
	StateCleaned State = "cleaned"
)

// Reason identifies why a session was retired.
type Reason string

const (
	// ReasonTimeout means the expiration timer fired.
	ReasonTimeout Reason = "timeout"

	// ReasonOwnerLimit means the session was evicted to admit a newer
	// session for the same owner.
	ReasonOwnerLimit Reason = "owner_limit"

	// ReasonSourceEnded means the event source hit its own end-of-life.
	ReasonSourceEnded Reason = "source_ended"

	// ReasonCancelled means the owner cancelled the session explicitly.
	ReasonCancelled Reason = "cancelled"

	// ReasonShutdown means the process is shutting down.
	ReasonShutdown Reason = "shutdown"
)

// Session is one tracked interactive unit. The manager owns the canonical
// copy; callers only ever see snapshots, so reading a returned Session never
// races with the manager's bookkeeping.
type Session struct {
	// ID is globally unique: the correlation ID plus a random suffix.
	ID string `json:"id"`

	// Owner identifies the user the session belongs to.
	Owner string `json:"owner"`

	// CorrelationID is an opaque tracing token.
	CorrelationID string `json:"correlation_id"`

	// CreatedAt is when the session was admitted.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is fixed at creation from the configured lifetime.
	ExpiresAt time.Time `json:"expires_at"`

	// LastActivityAt is updated on every accepted interaction event.
	LastActivityAt time.Time `json:"last_activity_at"`

	// InteractionCount is the number of accepted interaction events.
	InteractionCount int `json:"interaction_count"`

	// MaxInteractions is a soft, informational cap on event volume. The
	// manager never enforces it as a stop condition.
	MaxInteractions int `json:"max_interactions"`

	// State is the lifecycle state. Only the state machine writes it.
	State State `json:"state"`

	// Payload is an open key/value bag owned by the session's business
	// logic. The manager stores and copies it but never inspects it.
	Payload map[string]any `json:"payload,omitempty"`

	// OnCleanup, if set, runs once during teardown. Its failure is
	// absorbed; it can never prevent the session from being forgotten.
	OnCleanup func() error `json:"-"`
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// snapshotOf copies a session for hand-out. The caller must hold the
// session's lock. Callbacks are not part of the snapshot.
func snapshotOf(s *Session) Session {
	c := *s
	c.Payload = maps.Clone(s.Payload)
	c.OnCleanup = nil
	return c
}

// LifetimeConfig bounds one session's lifetime.
type LifetimeConfig struct {
	// Lifetime is how long the session lives without being cleaned.
	Lifetime time.Duration `yaml:"lifetime"`

	// WarningOffset is how long before expiry the session enters the
	// warning state. Zero disables the warning phase.
	WarningOffset time.Duration `yaml:"warning_offset"`

	// MaxInteractions is the informational event-volume cap.
	MaxInteractions int `yaml:"max_interactions"`
}

// merged returns cfg with zero fields replaced by defaults.
func (cfg LifetimeConfig) merged(defaults LifetimeConfig) LifetimeConfig {
	if cfg.Lifetime == 0 {
		cfg.Lifetime = defaults.Lifetime
	}
	if cfg.WarningOffset == 0 {
		cfg.WarningOffset = defaults.WarningOffset
	}
	if cfg.MaxInteractions == 0 {
		cfg.MaxInteractions = defaults.MaxInteractions
	}
	return cfg
}

// newSessionID composes a session ID from the correlation ID and a random
// suffix.
func newSessionID(correlationID string) string {
	return correlationID + "." + uuid.NewString()[:8]
}
