// Package api serves the agent's local metrics and status endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/darshan-rambhia/leafsync/internal/metrics"
	"github.com/darshan-rambhia/leafsync/internal/model"
	"github.com/darshan-rambhia/leafsync/internal/status"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 500
)

// Store is the read-only part of the local store the server reports on.
type Store interface {
	CountReadings(ctx context.Context) (total, pending int, err error)
	ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error)
}

// Server is the local HTTP server.
type Server struct {
	status  *status.Tracker
	store   Store
	metrics *metrics.Metrics
	mux     *http.ServeMux
	server  *http.Server
}

// NewServer creates a new HTTP server listening on addr.
func NewServer(addr string, st *status.Tracker, s Store, m *metrics.Metrics) *Server {
	srv := &Server{
		status:  st,
		store:   s,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(srv.mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response. This ensures marshalling errors can be returned as a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()

	state := "ok"
	if len(snap.LastPoll) == 0 {
		state = "no_data"
	}

	collectors := make(map[string]string, len(snap.LastPoll))
	for k, v := range snap.LastPoll {
		collectors[k] = fmt.Sprintf("%ds ago", int(time.Since(v).Seconds()))
	}
	writeJSON(w, r, map[string]any{
		"status":     state,
		"timestamp":  time.Now().Unix(),
		"collectors": collectors,
	})
}

type readingCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

type statusResponse struct {
	status.Snapshot
	Readings readingCounts    `json:"readings"`
	Logs     []model.LogEntry `json:"logs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("logs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid logs parameter", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLogLimit)
	}

	ctx := r.Context()
	total, pending, err := s.store.CountReadings(ctx)
	if err != nil {
		slog.Error("counting readings", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logs := []model.LogEntry{}
	if limit > 0 {
		entries, err := s.store.ListLogs(ctx, limit)
		if err != nil {
			slog.Error("listing diagnostic logs", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if entries != nil {
			logs = entries
		}
	}

	writeJSON(w, r, statusResponse{
		Snapshot: s.status.Snapshot(),
		Readings: readingCounts{Total: total, Pending: pending},
		Logs:     logs,
	})
}
