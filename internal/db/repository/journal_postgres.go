package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/Secineralyr/Cotonestrum/internal/db"
	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// journalRepo implements JournalRepository using PostgreSQL.
type journalRepo struct {
	pool *db.Pool
}

// NewJournalRepository creates a new PostgreSQL journal repository.
func NewJournalRepository(pool *db.Pool) JournalRepository {
	return &journalRepo{pool: pool}
}

// Append stores a journal entry.
func (r *journalRepo) Append(ctx context.Context, entry *domain.JournalEntry) error {
	query := `
		INSERT INTO journal_entries (
			id, op, subject, text, frame, is_error, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	var frame []byte
	if len(entry.Frame) > 0 {
		frame = entry.Frame
	}

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Op,
		entry.Subject,
		entry.Text,
		frame,
		entry.IsError,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

// List returns entries matching the query, newest first.
func (r *journalRepo) List(ctx context.Context, query domain.JournalQuery) ([]*domain.JournalEntry, int, error) {
	query.SetDefaults()

	var conditions []string
	var args []interface{}
	argIndex := 1

	if query.Op != "" {
		conditions = append(conditions, fmt.Sprintf("op = $%d", argIndex))
		args = append(args, query.Op)
		argIndex++
	}
	if query.ErrorsOnly {
		conditions = append(conditions, "is_error")
	}
	if query.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *query.Since)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM journal_entries " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count journal entries: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT id, op, subject, text, frame, is_error, created_at
		FROM journal_entries
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argIndex, argIndex+1)
	args = append(args, query.PageSize, query.Offset())

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.JournalEntry
	for rows.Next() {
		entry := &domain.JournalEntry{}
		var frame []byte

		err := rows.Scan(
			&entry.ID, &entry.Op, &entry.Subject, &entry.Text,
			&frame, &entry.IsError, &entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if len(frame) > 0 {
			entry.Frame = frame
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate journal entries: %w", err)
	}

	return entries, total, nil
}

// Prune deletes all but the newest keep entries.
func (r *journalRepo) Prune(ctx context.Context, keep int) (int64, error) {
	query := `
		DELETE FROM journal_entries
		WHERE id IN (
			SELECT id FROM journal_entries
			ORDER BY created_at DESC
			OFFSET $1
		)
	`

	result, err := r.pool.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal entries: %w", err)
	}

	return result.RowsAffected(), nil
}
