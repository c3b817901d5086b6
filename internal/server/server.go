// Package server exposes the synchronization engine over HTTP: trigger
// runs, poll job status, and read store statistics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
	"github.com/tgmirror/tgmirror/internal/jobs"
)

// Server is the HTTP front-end. It never runs synchronization itself;
// every trigger goes through the job manager.
type Server struct {
	manager *jobs.Manager
	store   database.Store
	scopes  []database.Scope
	logger  *slog.Logger

	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New creates the HTTP server. scopes are the configured timelines that a
// body-less sync request triggers.
func New(addr string, shutdownTimeout time.Duration, manager *jobs.Manager, store database.Store, scopes []database.Scope, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:         manager,
		store:           store,
		scopes:          scopes,
		logger:          logger.With("component", "server"),
		shutdownTimeout: shutdownTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routing handler, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncRequest optionally narrows a trigger to one scope. An empty body
// triggers every configured scope.
type syncRequest struct {
	ChatID  *int64 `json:"chat_id"`
	TopicID *int64 `json:"topic_id"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	var req syncRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
	}

	var scopes []database.Scope
	switch {
	case req.ChatID != nil:
		scope := database.Scope{ChatID: *req.ChatID, TopicID: database.NoTopic}
		if req.TopicID != nil {
			scope.TopicID = *req.TopicID
		}
		scopes = []database.Scope{scope}
	default:
		scopes = s.scopes
	}
	if len(scopes) == 0 {
		writeError(w, http.StatusBadRequest, "no_scopes", "no scopes configured and none given")
		return
	}

	queued := make([]jobs.Job, 0, len(scopes))
	for _, scope := range scopes {
		queued = append(queued, s.manager.Enqueue(scope))
	}

	s.logger.InfoContext(r.Context(), "Synchronization triggered over HTTP", "jobs", len(queued))
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": queued})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.manager.Registry().List()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.manager.Registry().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown job id")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to read store statistics", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read statistics")
		return
	}

	resp := statsResponse{
		TotalMessages:   stats.TotalMessages,
		DeletedMessages: stats.DeletedMessages,
		ServiceMessages: stats.ServiceMessages,
		Scopes:          stats.Scopes,
	}
	if stats.EarliestDate.Valid {
		t := stats.EarliestDate.Time.UTC()
		resp.EarliestDate = &t
	}
	if stats.LatestDate.Valid {
		t := stats.LatestDate.Time.UTC()
		resp.LatestDate = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	TotalMessages   int64      `json:"total_messages"`
	DeletedMessages int64      `json:"deleted_messages"`
	ServiceMessages int64      `json:"service_messages"`
	Scopes          int64      `json:"scopes"`
	EarliestDate    *time.Time `json:"earliest_date,omitempty"`
	LatestDate      *time.Time `json:"latest_date,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
