package journal

import (
	"context"
	"sync"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// MemorySink keeps the most recent entries in a fixed-size ring.
type MemorySink struct {
	mu      sync.RWMutex
	entries []*domain.JournalEntry
	next    int
	full    bool
}

// NewMemorySink creates a MemorySink holding up to capacity entries.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemorySink{entries: make([]*domain.JournalEntry, capacity)}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, entry *domain.JournalEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
}

// List returns the entries matching query, newest first, and the total
// number of matching entries held.
func (s *MemorySink) List(query domain.JournalQuery) ([]*domain.JournalEntry, int) {
	query.SetDefaults()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.entries)
	}

	var matched []*domain.JournalEntry
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + len(s.entries)) % len(s.entries)
		if e := s.entries[idx]; query.Matches(e) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	start := query.Offset()
	if start >= total {
		return []*domain.JournalEntry{}, total
	}
	end := min(start+query.PageSize, total)
	return matched[start:end], total
}

// Query implements Reader.
func (s *MemorySink) Query(_ context.Context, query domain.JournalQuery) ([]*domain.JournalEntry, int, error) {
	entries, total := s.List(query)
	return entries, total, nil
}
