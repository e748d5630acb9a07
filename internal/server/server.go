// Package server provides the admin HTTP server: health probes, Prometheus
// metrics, and a small authenticated API over the session manager and the
// download queue.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamware/interactd/pkg/auth"
	"github.com/streamware/interactd/pkg/downloads"
	"github.com/streamware/interactd/pkg/session"
	"github.com/streamware/interactd/pkg/ui"
)

// Version is set at build time.
var Version = "dev"

// Config configures the Server.
type Config struct {
	Address string

	// Manager is the session lifecycle manager the API fronts.
	Manager *session.Manager

	// Queue is the download job queue. Optional; download routes 404
	// without it.
	Queue *downloads.Queue

	// Authenticator guards the /v1 API. Optional; without it the API is
	// open (useful in tests and local runs).
	Authenticator *auth.Authenticator

	// Gatherer serves /metrics. Optional.
	Gatherer prometheus.Gatherer
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	health healthcheck.Handler
	http   *http.Server
	ready  atomic.Bool
}

// New assembles the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("server: session manager is required")
	}

	s := &Server{
		cfg:    cfg,
		health: healthcheck.NewHandler(),
	}
	s.health.AddReadinessCheck("session-manager", s.checkReady)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", s.health.ReadyEndpoint)

	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	api.HandleFunc("GET /v1/sessions", s.handleListSessions)
	api.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	api.HandleFunc("DELETE /v1/sessions/{id}", s.handleCancelSession)
	api.HandleFunc("GET /v1/stats", s.handleStats)
	api.HandleFunc("POST /v1/downloads", s.handleEnqueueDownload)
	api.HandleFunc("GET /v1/downloads/stats", s.handleDownloadStats)

	var apiHandler http.Handler = api
	if cfg.Authenticator != nil {
		apiHandler = cfg.Authenticator.Middleware(api)
	}
	mux.Handle("/v1/", apiHandler)

	s.http = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.cfg.Address, err)
	}

	s.ready.Store(true)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server: serve failed", "error", err)
		}
	}()

	slog.Info("server: listening", "address", ln.Addr().String(), "version", Version)
	return nil
}

// Stop drains the server.
func (s *Server) Stop(ctx context.Context) error {
	s.ready.Store(false)
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// checkReady is the readiness probe body.
func (s *Server) checkReady() error {
	if !s.ready.Load() {
		return fmt.Errorf("not serving")
	}
	return nil
}

// createSessionRequest is the POST /v1/sessions body.
type createSessionRequest struct {
	Owner         string         `json:"owner"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	LifetimeSec   int            `json:"lifetime_seconds,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// createSessionResponse pairs the admitted session with the interactive
// components for the message that opens it.
type createSessionResponse struct {
	Session    session.Session `json:"session"`
	Components *ui.Components  `json:"components"`
}

// handleCreateSession admits a session and returns the prompt components the
// caller attaches to its message.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
		http.Error(w, "a JSON body with an owner field is required", http.StatusBadRequest)
		return
	}

	sess, err := s.cfg.Manager.Create(session.CreateParams{
		Owner:         req.Owner,
		CorrelationID: req.CorrelationID,
		Lifetime: session.LifetimeConfig{
			Lifetime: time.Duration(req.LifetimeSec) * time.Second,
		},
		Payload: req.Payload,
	})
	if err != nil {
		var limit *session.LimitExceededError
		switch {
		case errors.As(err, &limit):
			http.Error(w, limit.Error(), http.StatusTooManyRequests)
		case errors.Is(err, session.ErrManagerClosed):
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	comps, err := promptComponents(sess.ID)
	if err != nil {
		slog.Error("server: building prompt components failed",
			"session_id", sess.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, Components: comps})
}

// promptComponents builds the confirm/cancel row for a fresh session. The
// custom IDs carry the session ID so interaction events route back to it.
func promptComponents(sessionID string) (*ui.Components, error) {
	confirm, err := ui.NewButton("confirm:"+sessionID, "Confirm", ui.StylePrimary)
	if err != nil {
		return nil, err
	}
	cancel, err := ui.NewButton("cancel:"+sessionID, "Cancel", ui.StyleDanger)
	if err != nil {
		return nil, err
	}
	return ui.NewBuilder().AddButtonRow(confirm, cancel).Build()
}

// handleListSessions lists the live sessions of one owner.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, "owner query parameter is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Manager.ListFor(owner))
}

// handleGetSession returns one session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.cfg.Manager.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancelSession retires a session. Cancelling a session that already
// went away succeeds, matching the manager's idempotent cleanup.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.cfg.Manager.Cancel(id, session.Reason("api_cancel")); err != nil {
		slog.Error("server: cancel failed", "session_id", id, "error", err)
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns the manager's aggregate metrics snapshot.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.Stats())
}

// enqueueRequest is the POST /v1/downloads body.
type enqueueRequest struct {
	URL string `json:"url"`
}

// handleEnqueueDownload appends a download job for the caller.
func (s *Server) handleEnqueueDownload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		http.Error(w, "downloads are not enabled", http.StatusNotFound)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "a JSON body with a url field is required", http.StatusBadRequest)
		return
	}

	requester := "anonymous"
	if id, ok := auth.FromContext(r.Context()); ok {
		requester = id.Subject
	}

	job, err := s.cfg.Queue.Enqueue(req.URL, requester)
	if err != nil {
		if errors.Is(err, downloads.ErrClosed) {
			http.Error(w, "download queue is shutting down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleDownloadStats returns the download queue counters.
func (s *Server) handleDownloadStats(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Queue == nil {
		http.Error(w, "downloads are not enabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Queue.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encoding response failed", "error", err)
	}
}
