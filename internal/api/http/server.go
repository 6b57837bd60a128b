// Package http serves the local API: health probes, Prometheus metrics,
// the sync status, filtered emoji queries, the journal and a websocket
// change feed for dependent views.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/client"
	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/journal"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
)

// Syncer is the read side of the connection used by the API.
type Syncer interface {
	State() client.State
	Address() client.Address
	Auth() (domain.AuthLevel, string)
	Pending() int
	Registry() *registry.Registry
}

// Resyncer triggers and reports full resyncs.
type Resyncer interface {
	Trigger(ctx context.Context) error
	NextRun() time.Time
	LastRun() (time.Time, int)
}

// HealthChecker reports the health of a backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server provides the local HTTP API.
type Server struct {
	server   *http.Server
	syncer   Syncer
	hub      *Hub
	gatherer prometheus.Gatherer
	journal  journal.Reader
	resync   Resyncer
	database HealthChecker
	logger   *zap.Logger
}

// NewServer creates a new HTTP server. hub may be nil to disable the
// change feed.
func NewServer(
	address string,
	syncer Syncer,
	hub *Hub,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	s := &Server{
		syncer:   syncer,
		hub:      hub,
		gatherer: gatherer,
		logger:   logger.Named("http"),
	}

	s.server = &http.Server{
		Addr:         address,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetJournal sets the journal served by /api/v1/journal.
func (s *Server) SetJournal(reader journal.Reader) {
	s.journal = reader
}

// SetResync sets the scheduler behind /api/v1/resync.
func (s *Server) SetResync(r Resyncer) {
	s.resync = r
}

// SetDatabase adds the journal database to the health report.
func (s *Server) SetDatabase(db HealthChecker) {
	s.database = db
}

// Handler returns the server's handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/status", s.HandleStatus)
	mux.HandleFunc("/api/v1/emojis/query", s.HandleQueryEmojis)
	mux.HandleFunc("/api/v1/journal", s.HandleListJournal)
	mux.HandleFunc("/api/v1/resync", s.HandleResync)
	mux.HandleFunc("/api/v1/ws/changes", s.handleChanges)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// handleHealth reports the state of every component. Only a failing
// journal database makes the process unhealthy; a lost server connection
// is reported by the readiness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: make(map[string]string),
	}

	response.Services["moderation_server"] = s.syncer.State().String()

	if s.database != nil {
		if err := s.database.HealthCheck(ctx); err != nil {
			response.Services["journal_database"] = "unhealthy: " + err.Error()
			response.Status = "unhealthy"
		} else {
			response.Services["journal_database"] = "healthy"
		}
	} else {
		response.Services["journal_database"] = "not configured"
	}

	if s.resync != nil {
		response.Services["resync"] = "healthy"
	} else {
		response.Services["resync"] = "not configured"
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// handleLiveness handles the /health/live endpoint.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// handleReadiness reports ready while the moderation server is connected.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if state := s.syncer.State(); state != client.StateConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "moderation server " + state.String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, errNotConfigured, "change feed is disabled")
		return
	}
	s.hub.ServeWS(w, r)
}

// Version is reported by /health. It is set from main.
var Version = "dev"
