package session

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamware/interactd/pkg/events"
	"github.com/streamware/interactd/pkg/source"
)

// Config configures a Manager.
type Config struct {
	// Defaults bounds sessions whose CreateParams leave lifetime fields
	// zero.
	Defaults LifetimeConfig `yaml:"defaults"`

	// GlobalLimit caps live sessions process-wide. Zero means unlimited.
	// The global cap never triggers eviction.
	GlobalLimit int `yaml:"global_limit"`

	// OwnerLimit caps live sessions per owner. Zero means unlimited.
	// Exceeding it evicts the owner's least-recently-active session.
	OwnerLimit int `yaml:"owner_limit"`

	// Bus receives lifecycle events. If nil the manager creates a private
	// bus nobody listens to.
	Bus *events.Bus `yaml:"-"`

	// Registerer receives the manager's Prometheus collectors. Nil leaves
	// them unregistered.
	Registerer prometheus.Registerer `yaml:"-"`
}

// Manager is the interactive session lifecycle manager. It is safe for
// concurrent use; all per-session state is serialized through the lock table.
type Manager struct {
	cfg     Config
	reg     *registry
	locks   *lockTable
	bus     *events.Bus
	metrics *metrics

	// createMu serializes limit enforcement with registry insertion so a
	// successful Create always leaves the owner under cap.
	createMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Manager{
		cfg:     cfg,
		reg:     newRegistry(),
		locks:   newLockTable(),
		bus:     bus,
		metrics: newMetrics(cfg.Registerer),
		done:    make(chan struct{}),
	}
}

// CreateParams describes a session to admit.
type CreateParams struct {
	// Owner is the user the session belongs to. Required.
	Owner string

	// CorrelationID is the opaque tracing token the session ID is derived
	// from. Generated when empty.
	CorrelationID string

	// Lifetime overrides the manager defaults field-by-field.
	Lifetime LifetimeConfig

	// Source is the optional event-source handle delivering interactions.
	Source source.Source

	// OnInteraction receives each accepted interaction together with a
	// session snapshot. Runs outside the session lock.
	OnInteraction func(Session, source.Interaction)

	// OnCleanup runs once during teardown; its failure is absorbed. It
	// must not call back into the Manager: owner-limit eviction invokes
	// it while the admission lock is held.
	OnCleanup func() error

	// Payload seeds the session's open key/value bag.
	Payload map[string]any
}

// Create admits a new session: limits are enforced first (evicting the
// owner's least-recently-active session if the per-owner cap is hit), then
// the session is registered, its lock created, and its timers armed.
func (m *Manager) Create(p CreateParams) (Session, error) {
	if p.Owner == "" {
		return Session{}, fmt.Errorf("session: owner is required")
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	// Checked under createMu so an admission can never slip in behind
	// Close's shutdown sweep.
	if m.closed.Load() {
		return Session{}, ErrManagerClosed
	}

	if err := m.enforceLimits(p.Owner); err != nil {
		return Session{}, err
	}

	lc := p.Lifetime.merged(m.cfg.Defaults)
	corr := p.CorrelationID
	if corr == "" {
		corr = uuid.NewString()
	}

	now := time.Now()
	sess := &Session{
		ID:              newSessionID(corr),
		Owner:           p.Owner,
		CorrelationID:   corr,
		CreatedAt:       now,
		ExpiresAt:       now.Add(lc.Lifetime),
		LastActivityAt:  now,
		MaxInteractions: lc.MaxInteractions,
		State:           StateActive,
		Payload:         maps.Clone(p.Payload),
		OnCleanup:       p.OnCleanup,
	}
	if sess.Payload == nil {
		sess.Payload = make(map[string]any)
	}

	if err := m.locks.create(sess.ID); err != nil {
		return Session{}, err
	}
	m.reg.insert(sess)

	if p.Source != nil {
		m.reg.setSource(sess.ID, p.Source)
		m.wg.Add(1)
		go m.consume(sess.ID, p.Source, p.OnInteraction)
	}

	m.scheduleTimers(sess.ID, sess.ExpiresAt, lc.WarningOffset)

	m.metrics.onCreated()
	m.bus.Publish(events.Event{
		Type:      events.TypeCreated,
		SessionID: sess.ID,
		Owner:     sess.Owner,
	})
	slog.Info("session: created",
		"session_id", sess.ID, "owner", sess.Owner,
		"expires_at", sess.ExpiresAt)

	return snapshotOf(sess), nil
}

// Get returns a snapshot of the session, if it is live.
func (m *Manager) Get(id string) (Session, bool) {
	return m.snapshot(id)
}

// UpdatePayload merges partial into the session's payload. It fails with
// ErrNotFound for unknown sessions and ErrInactive once the session stopped
// accepting input.
func (m *Manager) UpdatePayload(id string, partial map[string]any) error {
	mu, ok := m.locks.get(id)
	if !ok {
		return ErrNotFound
	}
	mu.Lock()
	defer mu.Unlock()

	sess, ok := m.reg.lookup(id)
	if !ok {
		return ErrNotFound
	}
	if sess.State != StateActive && sess.State != StateWarning {
		return ErrInactive
	}

	maps.Copy(sess.Payload, partial)
	return nil
}

// Cancel retires the session through the cleanup orchestrator. Cancelling a
// session that is already gone is not an error.
func (m *Manager) Cancel(id string, reason Reason) error {
	if reason == "" {
		reason = ReasonCancelled
	}
	return m.cleanup(id, reason)
}

// ListFor returns snapshots of the owner's live sessions, ordered by ID.
func (m *Manager) ListFor(owner string) []Session {
	ids := m.reg.ownerIDs(owner)
	sort.Strings(ids)

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if snap, ok := m.snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Stats returns the aggregate metrics snapshot.
func (m *Manager) Stats() Stats {
	return m.metrics.snapshot(m.reg.count())
}

// Close retires every live session with reason shutdown and waits for the
// intake goroutines to drain. Further Create calls fail with
// ErrManagerClosed.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Wait out any admission already past the closed flag, so the sweep
	// below sees every session.
	m.createMu.Lock()
	m.createMu.Unlock() //nolint:staticcheck // empty critical section as a barrier

	var errs []error
	for _, id := range m.reg.ids() {
		if err := m.cleanup(id, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}

	close(m.done)
	m.wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("session: shutdown cleanup: %w", errors.Join(errs...))
	}
	return nil
}

// snapshot copies the session under its lock.
func (m *Manager) snapshot(id string) (Session, bool) {
	mu, ok := m.locks.get(id)
	if !ok {
		return Session{}, false
	}
	mu.Lock()
	defer mu.Unlock()

	sess, ok := m.reg.lookup(id)
	if !ok {
		return Session{}, false
	}
	return snapshotOf(sess), true
}
