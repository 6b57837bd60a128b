package journal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/db/repository"
	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// RepositorySink persists entries through a JournalRepository. Writes are
// queued and stored by a background worker so the read loop never waits on
// the database; when the queue is full the entry is dropped and logged.
type RepositorySink struct {
	repo   repository.JournalRepository
	queue  chan *domain.JournalEntry
	logger *zap.Logger

	// Retain bounds the table size; zero disables pruning.
	retain int
}

// NewRepositorySink creates a RepositorySink with the given queue size.
func NewRepositorySink(repo repository.JournalRepository, queueSize, retain int, logger *zap.Logger) *RepositorySink {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &RepositorySink{
		repo:   repo,
		queue:  make(chan *domain.JournalEntry, queueSize),
		logger: logger.Named("journal_repository"),
		retain: retain,
	}
}

// Write implements Sink.
func (s *RepositorySink) Write(_ context.Context, entry *domain.JournalEntry) {
	select {
	case s.queue <- entry:
	default:
		s.logger.Warn("Journal queue full, dropping entry",
			zap.String("op", entry.Op),
			zap.String("subject", entry.Subject),
		)
	}
}

// Run stores queued entries until ctx is cancelled, then drains what is
// left in the queue.
func (s *RepositorySink) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	s.logger.Info("Journal writer started")

	pruneTicker := time.NewTicker(10 * time.Minute)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.logger.Info("Journal writer stopped")
			return
		case entry := <-s.queue:
			s.store(ctx, entry)
		case <-pruneTicker.C:
			s.prune(ctx)
		}
	}
}

func (s *RepositorySink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case entry := <-s.queue:
			s.store(ctx, entry)
		default:
			return
		}
	}
}

func (s *RepositorySink) store(ctx context.Context, entry *domain.JournalEntry) {
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to store journal entry",
			zap.String("id", entry.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *RepositorySink) prune(ctx context.Context) {
	if s.retain <= 0 {
		return
	}
	removed, err := s.repo.Prune(ctx, s.retain)
	if err != nil {
		s.logger.Error("Failed to prune journal", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Debug("Pruned journal", zap.Int64("removed", removed))
	}
}

// Query implements Reader. Entries still queued are not included.
func (s *RepositorySink) Query(ctx context.Context, query domain.JournalQuery) ([]*domain.JournalEntry, int, error) {
	query.SetDefaults()
	return s.repo.List(ctx, query)
}
