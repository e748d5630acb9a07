package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamware/interactd/pkg/auth"
	"github.com/streamware/interactd/pkg/downloads"
	"github.com/streamware/interactd/pkg/session"
)

const (
	testOwner  = "user-1"
	testAPIKey = "static-key-1"
)

type testEnv struct {
	server  *Server
	manager *session.Manager
	queue   *downloads.Queue
}

func newTestEnv(t *testing.T, authn *auth.Authenticator) *testEnv {
	t.Helper()

	manager := session.NewManager(session.Config{
		Defaults: session.LifetimeConfig{Lifetime: time.Minute},
	})
	t.Cleanup(func() { _ = manager.Close() })

	queue, err := downloads.NewQueue(downloads.Config{Concurrency: 1},
		func(context.Context, downloads.Job) error { return nil })
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	srv, err := New(Config{
		Address:       "127.0.0.1:0",
		Manager:       manager,
		Queue:         queue,
		Authenticator: authn,
		Gatherer:      prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	return &testEnv{server: srv, manager: manager, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresManager(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("liveness is always up", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readiness tracks serving state", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		require.NoError(t, env.server.Start(context.Background()))
		defer func() { _ = env.server.Stop(context.Background()) }()

		rec = env.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("returns the session and its prompt components", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"owner":            testOwner,
			"correlation_id":   "corr-1",
			"lifetime_seconds": 90,
			"payload":          map[string]any{"step": "confirm"},
		})
		rec := env.do(t, http.MethodPost, "/v1/sessions", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var got createSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testOwner, got.Session.Owner)
		assert.Equal(t, "corr-1", got.Session.CorrelationID)
		assert.WithinDuration(t,
			got.Session.CreatedAt.Add(90*time.Second), got.Session.ExpiresAt, time.Second)

		require.NotNil(t, got.Components)
		require.Len(t, got.Components.Rows, 1)
		buttons := got.Components.Rows[0].Buttons
		require.Len(t, buttons, 2)
		assert.Equal(t, "confirm:"+got.Session.ID, buttons[0].CustomID)
		assert.Equal(t, "cancel:"+got.Session.ID, buttons[1].CustomID)
	})

	t.Run("requires an owner", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/sessions", []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps cap rejections to 429", func(t *testing.T) {
		manager := session.NewManager(session.Config{
			Defaults:    session.LifetimeConfig{Lifetime: time.Minute},
			GlobalLimit: 1,
		})
		t.Cleanup(func() { _ = manager.Close() })
		srv, err := New(Config{Address: "127.0.0.1:0", Manager: manager})
		require.NoError(t, err)
		capped := &testEnv{server: srv, manager: manager}

		body, _ := json.Marshal(map[string]string{"owner": testOwner})
		rec := capped.do(t, http.MethodPost, "/v1/sessions", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		body, _ = json.Marshal(map[string]string{"owner": "user-2"})
		rec = capped.do(t, http.MethodPost, "/v1/sessions", body)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	sess, err := env.manager.Create(session.CreateParams{Owner: testOwner})
	require.NoError(t, err)

	t.Run("list by owner", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/sessions?owner="+testOwner, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got []session.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, sess.ID, got[0].ID)
	})

	t.Run("list without owner", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/sessions", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get one", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got session.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, sess.Owner, got.Owner)
		assert.Equal(t, session.StateActive, got.State)
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/sessions/no-such-id", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got session.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, uint64(1), got.Total)
	})

	t.Run("cancel", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		_, ok := env.manager.Get(sess.ID)
		assert.False(t, ok)

		// Cancelling again is still a success.
		rec = env.do(t, http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestDownloadRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("enqueue", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"url": "https://cdn.example.com/a"})
		rec := env.do(t, http.MethodPost, "/v1/downloads", body)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var job downloads.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "anonymous", job.Requester)
	})

	t.Run("enqueue without url", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/downloads", []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/downloads/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got downloads.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.GreaterOrEqual(t, got.Enqueued, uint64(1))
	})
}

func TestAuthenticatedAPI(t *testing.T) {
	authn, err := auth.New(auth.Config{APIKeys: map[string]string{testAPIKey: "ops-bot"}})
	require.NoError(t, err)
	env := newTestEnv(t, authn)

	t.Run("rejects anonymous API calls", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/v1/stats", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("probes stay open", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("accepts keyed calls and attributes downloads", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"url": "https://cdn.example.com/a"})
		req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
		req.Header.Set("X-API-Key", testAPIKey)
		rec := httptest.NewRecorder()
		env.server.http.Handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var job downloads.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		assert.Equal(t, "ops-bot", job.Requester)
	})
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.server.Start(context.Background()))
	require.NoError(t, env.server.Stop(context.Background()))
}
