package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one line of the operator-facing log: what happened, an
// optional detail text and the frame that caused it.
type JournalEntry struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Text      string          `json:"text,omitempty"`
	Op        string          `json:"op,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	IsError   bool            `json:"is_error"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJournalEntry creates a new JournalEntry with a fresh id.
func NewJournalEntry(op, subject, text string, frame json.RawMessage, isError bool) *JournalEntry {
	return &JournalEntry{
		ID:        uuid.New(),
		Subject:   subject,
		Text:      text,
		Op:        op,
		Frame:     frame,
		IsError:   isError,
		CreatedAt: time.Now().UTC(),
	}
}

// JournalQuery represents query parameters for listing journal entries.
type JournalQuery struct {
	Op         string     `json:"op,omitempty"`
	ErrorsOnly bool       `json:"errors_only,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}

// SetDefaults sets default values for the query.
func (q *JournalQuery) SetDefaults() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	if q.PageSize > 500 {
		q.PageSize = 500
	}
}

// Offset returns the offset for pagination.
func (q *JournalQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Matches reports whether e satisfies the query filters.
func (q *JournalQuery) Matches(e *JournalEntry) bool {
	if q.Op != "" && e.Op != q.Op {
		return false
	}
	if q.ErrorsOnly && !e.IsError {
		return false
	}
	if q.Since != nil && e.CreatedAt.Before(*q.Since) {
		return false
	}
	return true
}

// PaginationResponse represents pagination metadata in responses.
type PaginationResponse struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationResponse creates a new PaginationResponse.
func NewPaginationResponse(totalCount, page, pageSize int) PaginationResponse {
	totalPages := (totalCount + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginationResponse{
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
