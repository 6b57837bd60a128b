// Package repository provides data access layer implementations.
package repository

import (
	"context"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// JournalRepository defines the interface for journal data access.
type JournalRepository interface {
	// Append stores a journal entry.
	Append(ctx context.Context, entry *domain.JournalEntry) error

	// List returns entries matching the query, newest first, and the total
	// number of matching entries.
	List(ctx context.Context, query domain.JournalQuery) ([]*domain.JournalEntry, int, error)

	// Prune deletes all but the newest keep entries and returns how many
	// were removed.
	Prune(ctx context.Context, keep int) (int64, error)
}
