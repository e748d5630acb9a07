package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamware/interactd/pkg/events"
)

// waitEvent drains the subscription until an event of the wanted type for the
// wanted session arrives.
func waitEvent(t *testing.T, ch <-chan events.Event, typ events.Type, sessionID string) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("bus closed while waiting for %s event", typ)
			}
			if ev.Type == typ && (sessionID == "" || ev.SessionID == sessionID) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestManager_Create(t *testing.T) {
	t.Run("admits a session with merged defaults", func(t *testing.T) {
		m := newTestManager(t, Config{
			Defaults: LifetimeConfig{
				Lifetime:        time.Minute,
				WarningOffset:   10 * time.Second,
				MaxInteractions: 25,
			},
		})

		sess, err := m.Create(CreateParams{Owner: testOwner, CorrelationID: "corr-1"})
		require.NoError(t, err)

		assert.Equal(t, testOwner, sess.Owner)
		assert.Equal(t, "corr-1", sess.CorrelationID)
		assert.Equal(t, "corr-1.", sess.ID[:len("corr-1.")])
		assert.Equal(t, StateActive, sess.State)
		assert.Equal(t, 25, sess.MaxInteractions)
		assert.Equal(t, 0, sess.InteractionCount)
		assert.WithinDuration(t, sess.CreatedAt.Add(time.Minute), sess.ExpiresAt, time.Second)
		assert.Equal(t, sess.CreatedAt, sess.LastActivityAt)
	})

	t.Run("per-call lifetime overrides defaults field by field", func(t *testing.T) {
		m := newTestManager(t, Config{
			Defaults: LifetimeConfig{Lifetime: time.Minute, MaxInteractions: 25},
		})

		sess, err := m.Create(CreateParams{
			Owner:    testOwner,
			Lifetime: LifetimeConfig{Lifetime: time.Hour},
		})
		require.NoError(t, err)

		assert.WithinDuration(t, sess.CreatedAt.Add(time.Hour), sess.ExpiresAt, time.Second)
		assert.Equal(t, 25, sess.MaxInteractions)
	})

	t.Run("generates a correlation ID when absent", func(t *testing.T) {
		m := newTestManager(t, Config{})

		sess, err := m.Create(CreateParams{Owner: testOwner})
		require.NoError(t, err)
		assert.NotEmpty(t, sess.CorrelationID)
		assert.Contains(t, sess.ID, sess.CorrelationID)
	})

	t.Run("requires an owner", func(t *testing.T) {
		m := newTestManager(t, Config{})

		_, err := m.Create(CreateParams{})
		assert.Error(t, err)
	})

	t.Run("clones the seed payload", func(t *testing.T) {
		m := newTestManager(t, Config{})
		seed := map[string]any{"step": "initial"}

		sess := mustCreate(t, m, CreateParams{Payload: seed})
		seed["step"] = "mutated"

		got, ok := m.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, "initial", got.Payload["step"])
	})

	t.Run("publishes a created event", func(t *testing.T) {
		bus := events.NewBus()
		ch, cancel := bus.Subscribe(8)
		defer cancel()

		m := newTestManager(t, Config{Bus: bus})
		sess := mustCreate(t, m, CreateParams{})

		ev := waitEvent(t, ch, events.TypeCreated, sess.ID)
		assert.Equal(t, testOwner, ev.Owner)
	})

	t.Run("fails after close", func(t *testing.T) {
		m := NewManager(Config{Defaults: LifetimeConfig{Lifetime: time.Minute}})
		require.NoError(t, m.Close())

		_, err := m.Create(CreateParams{Owner: testOwner})
		assert.ErrorIs(t, err, ErrManagerClosed)
	})
}

func TestManager_Get(t *testing.T) {
	m := newTestManager(t, Config{})
	sess := mustCreate(t, m, CreateParams{})

	t.Run("returns a live session", func(t *testing.T) {
		got, ok := m.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("snapshots never carry callbacks", func(t *testing.T) {
		withCb := mustCreate(t, m, CreateParams{OnCleanup: func() error { return nil }})
		got, ok := m.Get(withCb.ID)
		require.True(t, ok)
		assert.Nil(t, got.OnCleanup)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, ok := m.Get("no-such-id")
		assert.False(t, ok)
	})
}

func TestManager_UpdatePayload(t *testing.T) {
	t.Run("merges into the existing payload", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{Payload: map[string]any{"a": 1, "b": 1}})

		err := m.UpdatePayload(sess.ID, map[string]any{"b": 2, "c": 3})
		require.NoError(t, err)

		got, ok := m.Get(sess.ID)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, got.Payload)
	})

	t.Run("accepted in warning state", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{})

		_, _, err := m.transition(sess.ID, StateWarning)
		require.NoError(t, err)

		assert.NoError(t, m.UpdatePayload(sess.ID, map[string]any{"k": "v"}))
	})

	t.Run("rejected once expired", func(t *testing.T) {
		m := newTestManager(t, Config{})
		sess := mustCreate(t, m, CreateParams{})

		_, _, err := m.transition(sess.ID, StateExpired)
		require.NoError(t, err)

		assert.ErrorIs(t, m.UpdatePayload(sess.ID, map[string]any{"k": "v"}), ErrInactive)
	})

	t.Run("unknown session", func(t *testing.T) {
		m := newTestManager(t, Config{})
		assert.ErrorIs(t, m.UpdatePayload("no-such-id", nil), ErrNotFound)
	})
}

func TestManager_ListFor(t *testing.T) {
	m := newTestManager(t, Config{})
	a := mustCreate(t, m, CreateParams{Owner: testOwner})
	b := mustCreate(t, m, CreateParams{Owner: testOwner})
	mustCreate(t, m, CreateParams{Owner: testOtherOwner})

	got := m.ListFor(testOwner)
	require.Len(t, got, 2)
	assert.True(t, got[0].ID < got[1].ID, "list should be ordered by ID")

	wantIDs := map[string]bool{a.ID: true, b.ID: true}
	for _, s := range got {
		assert.True(t, wantIDs[s.ID], "unexpected session %s", s.ID)
	}

	assert.Empty(t, m.ListFor("nobody"))
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, Config{})

	a := mustCreate(t, m, CreateParams{})
	mustCreate(t, m, CreateParams{})

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, 2, stats.Active)
	assert.Zero(t, stats.Expired)
	assert.Zero(t, stats.ErrorRate)

	require.NoError(t, m.Cancel(a.ID, ""))
	stats = m.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, 1, stats.Active)
}

func TestManager_Close(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	m := NewManager(Config{
		Defaults: LifetimeConfig{Lifetime: time.Minute},
		Bus:      bus,
	})

	a := mustCreate(t, m, CreateParams{Owner: testOwner})
	b := mustCreate(t, m, CreateParams{Owner: testOtherOwner})

	require.NoError(t, m.Close())

	for _, id := range []string{a.ID, b.ID} {
		_, ok := m.Get(id)
		assert.False(t, ok, "session %s should be gone", id)
	}

	ev := waitEvent(t, ch, events.TypeCleaned, a.ID)
	assert.Equal(t, string(ReasonShutdown), ev.Reason)

	// Close is idempotent.
	assert.NoError(t, m.Close())
}

func TestManager_CloseRacesCreate(t *testing.T) {
	m := newTestManager(t, Config{})

	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				sess, err := m.Create(CreateParams{Owner: testOwner})
				if err != nil {
					assert.ErrorIs(t, err, ErrManagerClosed)
					return
				}
				ids <- sess.ID
			}
		}()
	}

	require.NoError(t, m.Close())
	wg.Wait()
	close(ids)

	// Every admission that won the race must still be swept by shutdown.
	for id := range ids {
		_, ok := m.Get(id)
		assert.False(t, ok, "session %s should be gone", id)
	}
	assert.Zero(t, m.reg.count())
}
