package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/filter"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
	"github.com/Secineralyr/Cotonestrum/internal/scheduler"
)

var (
	errMethodNotAllowed = errors.New("method not allowed")
	errNotConfigured    = errors.New("not configured")
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err error, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// ========================================
// Status
// ========================================

// ConnectionStatus describes the moderation server connection.
type ConnectionStatus struct {
	State           string `json:"state"`
	Address         string `json:"address,omitempty"`
	PendingRequests int    `json:"pending_requests"`
}

// AuthStatus describes the logged in account.
type AuthStatus struct {
	Level       string `json:"level"`
	Username    string `json:"username,omitempty"`
	CanModerate bool   `json:"can_moderate"`
}

// ResyncStatus describes the resync schedule.
type ResyncStatus struct {
	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
	Runs    int        `json:"runs"`
}

// StatusResponse is the body of /api/v1/status.
type StatusResponse struct {
	Connection ConnectionStatus `json:"connection"`
	Auth       AuthStatus       `json:"auth"`
	Registry   registry.Stats   `json:"registry"`
	Resync     *ResyncStatus    `json:"resync,omitempty"`
}

// HandleStatus reports the connection, auth level and registry counters.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	level, username := s.syncer.Auth()
	response := StatusResponse{
		Connection: ConnectionStatus{
			State:           s.syncer.State().String(),
			PendingRequests: s.syncer.Pending(),
		},
		Auth: AuthStatus{
			Level:       level.String(),
			Username:    username,
			CanModerate: level.CanModerate(),
		},
		Registry: s.syncer.Registry().Stats(),
	}
	if addr := s.syncer.Address(); addr.Host != "" {
		response.Connection.Address = addr.String()
	}

	if s.resync != nil {
		rs := &ResyncStatus{}
		if next := s.resync.NextRun(); !next.IsZero() {
			rs.NextRun = &next
		}
		last, runs := s.resync.LastRun()
		if !last.IsZero() {
			rs.LastRun = &last
		}
		rs.Runs = runs
		response.Resync = rs
	}

	writeJSON(w, http.StatusOK, response)
}

// ========================================
// Emoji query
// ========================================

// QueryEmojisResponse is the body of /api/v1/emojis/query.
type QueryEmojisResponse struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

// HandleQueryEmojis filters the cached emojis with the filter spec in the
// body. With ?deleted=true it filters deleted emojis instead. An empty body
// matches everything.
func (s *Server) HandleQueryEmojis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	spec := filter.NoFilter()
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err, "invalid filter spec")
		return
	}

	reg := s.syncer.Registry()
	var ids []string
	if r.URL.Query().Get("deleted") == "true" {
		all := reg.IDs(domain.KindDeletedEmoji)
		ids = filter.FilterAllDeleted(reg, all, spec)
		writeJSON(w, http.StatusOK, QueryEmojisResponse{IDs: ids, Total: len(all)})
		return
	}

	all := reg.IDs(domain.KindEmoji)
	ids = filter.FilterAll(reg, all, spec)
	writeJSON(w, http.StatusOK, QueryEmojisResponse{IDs: ids, Total: len(all)})
}

// ========================================
// Journal
// ========================================

// ListJournalResponse is the body of /api/v1/journal.
type ListJournalResponse struct {
	Entries    []*domain.JournalEntry    `json:"entries"`
	Pagination domain.PaginationResponse `json:"pagination"`
}

// HandleListJournal lists journal entries, newest first.
func (s *Server) HandleListJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotFound, errNotConfigured, "journal is disabled")
		return
	}

	query := domain.JournalQuery{}

	queryParams := r.URL.Query()
	if op := queryParams.Get("op"); op != "" {
		query.Op = op
	}
	if queryParams.Get("errors_only") == "true" {
		query.ErrorsOnly = true
	}
	if since := queryParams.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "since must be an RFC 3339 timestamp")
			return
		}
		query.Since = &t
	}
	if page := queryParams.Get("page"); page != "" {
		if val, err := strconv.Atoi(page); err == nil {
			query.Page = val
		}
	}
	if pageSize := queryParams.Get("page_size"); pageSize != "" {
		if val, err := strconv.Atoi(pageSize); err == nil {
			query.PageSize = val
		}
	}

	query.SetDefaults()

	entries, total, err := s.journal.Query(r.Context(), query)
	if err != nil {
		s.logger.Error("Failed to list journal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "failed to list journal")
		return
	}

	writeJSON(w, http.StatusOK, ListJournalResponse{
		Entries:    entries,
		Pagination: domain.NewPaginationResponse(total, query.Page, query.PageSize),
	})
}

// ========================================
// Resync
// ========================================

// HandleResync requests a full resync now.
func (s *Server) HandleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}
	if s.resync == nil {
		writeError(w, http.StatusNotFound, errNotConfigured, "resync is disabled")
		return
	}

	if err := s.resync.Trigger(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrNotReady) {
			writeError(w, http.StatusConflict, err, "")
			return
		}
		s.logger.Error("Failed to trigger resync", zap.Error(err))
		writeError(w, http.StatusBadGateway, err, "failed to request resync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}
