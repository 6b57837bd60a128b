// Package journal is the operator-facing log. Every completed request and
// every server push produces one entry, which sinks write to zap, keep in
// memory for the status API, or persist to PostgreSQL.
package journal

import (
	"context"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// Sink receives journal entries. Write must not block for long: it is
// called from the connection's read loop.
type Sink interface {
	Write(ctx context.Context, entry *domain.JournalEntry)
}

// Multi fans entries out to several sinks in order.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, entry *domain.JournalEntry) {
	for _, s := range m {
		s.Write(ctx, entry)
	}
}

// Discard drops every entry.
type Discard struct{}

// Write implements Sink.
func (Discard) Write(context.Context, *domain.JournalEntry) {}

// Reader lists stored entries, newest first, with the total number of
// matching entries.
type Reader interface {
	Query(ctx context.Context, query domain.JournalQuery) ([]*domain.JournalEntry, int, error)
}
