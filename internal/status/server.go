// Package status serves liveness and metrics endpoints for the archiver daemon.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/muaviaUsmani/rrdb/internal/logger"
	"github.com/muaviaUsmani/rrdb/internal/metrics"
	"github.com/muaviaUsmani/rrdb/internal/result"
	"github.com/muaviaUsmani/rrdb/internal/scheduler"
)

// Pinger checks the document store connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// TriggerStates lists the runtime state of every trigger
type TriggerStates interface {
	States(ctx context.Context) ([]*scheduler.TriggerState, error)
}

// RunHistory lists recorded archival runs, newest first
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]*result.Run, error)
}

// Deps are the sources the status endpoints read. Triggers and History are optional.
type Deps struct {
	Store     Pinger
	Collector *metrics.Collector
	Triggers  TriggerStates
	History   RunHistory
}

// Server exposes /healthz, /metrics and /runs
type Server struct {
	deps   Deps
	log    logger.Logger
	server *http.Server
}

// NewServer creates a status server listening on addr
func NewServer(addr string, deps Deps) *Server {
	if deps.Collector == nil {
		deps.Collector = metrics.Default()
	}
	s := &Server{
		deps: deps,
		log:  logger.Default().WithComponent(logger.ComponentStatus),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /runs", s.handleRuns)
	return mux
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("Status server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: "down", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: "up"})
}

type metricsResponse struct {
	metrics.Metrics
	Triggers []*scheduler.TriggerState `json:"triggers,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := metricsResponse{Metrics: s.deps.Collector.GetMetrics()}

	if s.deps.Triggers != nil {
		states, err := s.deps.Triggers.States(r.Context())
		if err != nil {
			s.log.Warn("Failed to read trigger states", "error", err)
		} else {
			resp.Triggers = states
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRuns lists recent runs; ?limit=N bounds the list
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run history is not enabled"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("Failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore write error - nothing we can do if client disconnected
	_ = json.NewEncoder(w).Encode(body)
}
