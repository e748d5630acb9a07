package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner      = "user-1"
	testOtherOwner = "user-2"
)

// newTestManager builds a Manager with a lifetime long enough that timers
// never fire during a test unless the test shortens it on purpose.
func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Defaults.Lifetime == 0 {
		cfg.Defaults.Lifetime = time.Minute
	}
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func mustCreate(t *testing.T, m *Manager, p CreateParams) Session {
	t.Helper()
	if p.Owner == "" {
		p.Owner = testOwner
	}
	sess, err := m.Create(p)
	require.NoError(t, err)
	return sess
}

func TestTransitionAllowed(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateActive, StateWarning},
		{StateActive, StateExpired},
		{StateActive, StateCleaned},
		{StateWarning, StateExpired},
		{StateWarning, StateCleaned},
		{StateExpired, StateCleaned},
	}
	for _, edge := range allowed {
		assert.True(t, transitionAllowed(edge.from, edge.to),
			"%s -> %s should be allowed", edge.from, edge.to)
	}

	forbidden := []struct{ from, to State }{
		{StateWarning, StateActive},
		{StateExpired, StateActive},
		{StateExpired, StateWarning},
		{StateCleaned, StateActive},
		{StateCleaned, StateWarning},
		{StateCleaned, StateExpired},
	}
	for _, edge := range forbidden {
		assert.False(t, transitionAllowed(edge.from, edge.to),
			"%s -> %s should be forbidden", edge.from, edge.to)
	}
}

func TestTransition(t *testing.T) {
	t.Run("moves through the graph", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{})

		prev, changed, err := m.transition(sess.ID, StateWarning)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, StateActive, prev)

		got, ok := m.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, StateWarning, got.State)
	})

	t.Run("same state is an idempotent no-op", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{})

		prev, changed, err := m.transition(sess.ID, StateActive)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, StateActive, prev)
	})

	t.Run("rejects edges outside the graph", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{})

		_, _, err := m.transition(sess.ID, StateExpired)
		require.NoError(t, err)

		_, changed, err := m.transition(sess.ID, StateWarning)
		assert.False(t, changed)

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, StateExpired, invalid.From)
		assert.Equal(t, StateWarning, invalid.To)

		// A failed transition leaves the state untouched.
		got, ok := m.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, StateExpired, got.State)
	})

	t.Run("unknown session", func(t *testing.T) {
		m := newTestManager(t, Config{})

		_, changed, err := m.transition("no-such-id", StateWarning)
		assert.False(t, changed)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sessions transition independently", func(t *testing.T) {
		m := newTestManager(t, Config{})
		a := mustCreate(t, m, CreateParams{Owner: testOwner})
		b := mustCreate(t, m, CreateParams{Owner: testOtherOwner})

		_, _, err := m.transition(a.ID, StateExpired)
		require.NoError(t, err)

		got, ok := m.Get(b.ID)
		require.True(t, ok)
		assert.Equal(t, StateActive, got.State)
	})
}
