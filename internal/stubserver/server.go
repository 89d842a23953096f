// Package stubserver emulates the audit backend and auth service for local
// development and integration testing: scripted job progress, SSE delivery,
// token issuing, and signed channel grants.
package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sightrank/sightrank-go/internal/metrics"
	"github.com/sightrank/sightrank-go/internal/status"
)

// Config controls stub behavior.
type Config struct {
	// RefreshToken is the long-lived credential the stub accepts.
	RefreshToken string
	// TokenTTL is the lifetime of issued access tokens (default 2 minutes).
	TokenTTL time.Duration
	// SnapshotInterval paces SSE delivery (default 1s).
	SnapshotInterval time.Duration
	// Logger is optional.
	Logger *zap.Logger
}

// Server is the stub HTTP surface.
type Server struct {
	router chi.Router
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*scriptedJob
	tokens  map[string]time.Time
	tickets map[string]ticket
}

type scriptedJob struct {
	snapshots []status.Snapshot
	index     int
}

type ticket struct {
	jobID     string
	expiresAt time.Time
}

// New constructs a stub Server with middleware and routes.
func New(cfg Config) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 2 * time.Minute
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		jobs:    make(map[string]*scriptedJob),
		tokens:  make(map[string]time.Time),
		tickets: make(map[string]ticket),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", s.issueToken)
		r.Post("/auth/channel", s.grantChannel)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getStatus)
			r.Get("/events", s.streamEvents)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ScriptJob registers the snapshot sequence a job will play back. The final
// entry should be terminal; if it is not, status polls keep returning it.
func (s *Server) ScriptJob(jobID string, snapshots []status.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &scriptedJob{snapshots: append([]status.Snapshot(nil), snapshots...)}
}

// ScriptDefaultJob registers a simple pending/running/completed playback.
func (s *Server) ScriptDefaultJob(jobID string) {
	s.ScriptJob(jobID, []status.Snapshot{
		{JobID: jobID, Progress: 0, Status: status.StatePending},
		{JobID: jobID, Progress: 25, Status: status.StateRunning},
		{JobID: jobID, Progress: 60, Status: status.StateRunning},
		{JobID: jobID, Progress: 100, Status: status.StateCompleted,
			Result: map[string]any{"score": 87}},
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RefreshToken == "" || req.RefreshToken != s.cfg.RefreshToken {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	token := "at-" + uuid.NewString()
	expiresAt := time.Now().Add(s.cfg.TokenTTL)
	s.mu.Lock()
	s.tokens[token] = expiresAt
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}

// grantChannel mints a short-lived channel ticket. The events URL carries the
// ticket, never the bearer token itself.
func (s *Server) grantChannel(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	var req struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeError(w, http.StatusBadRequest, "missing job_id")
		return
	}
	id := uuid.NewString()
	expiresAt := time.Now().Add(time.Minute)
	s.mu.Lock()
	s.tickets[id] = ticket{jobID: req.JobID, expiresAt: expiresAt}
	s.mu.Unlock()

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/v1/jobs/%s/events?ticket=%s", scheme, r.Host, req.JobID, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_at": expiresAt.UTC(),
	})
}

// getStatus returns the job's current snapshot and advances the script so
// repeated polls observe progress.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	snap := job.snapshots[job.index]
	if job.index < len(job.snapshots)-1 {
		job.index++
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, snap)
}

// streamEvents plays the remaining script back over SSE.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	ticketID := r.URL.Query().Get("ticket")
	jobID := chi.URLParam(r, "job_id")
	s.mu.Lock()
	tk, ok := s.tickets[ticketID]
	job, haveJob := s.jobs[jobID]
	s.mu.Unlock()
	if !ok || tk.jobID != jobID || time.Now().After(tk.expiresAt) {
		writeError(w, http.StatusForbidden, "invalid channel ticket")
		return
	}
	if !haveJob {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		s.mu.Lock()
		snap := job.snapshots[job.index]
		if job.index < len(job.snapshots)-1 {
			job.index++
		}
		s.mu.Unlock()

		data, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error("encode snapshot failed", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		if snap.Status.Terminal() {
			return
		}
		select {
		case <-time.After(s.cfg.SnapshotInterval):
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	token := header[len(prefix):]
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.tokens[token]
	return ok && time.Now().Before(expiresAt)
}
