// Package scheduler runs the periodic full resync of the registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/client"
	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// ErrNotReady is returned by Trigger when the client is not connected as a
// moderator.
var ErrNotReady = errors.New("client is not connected as a moderator")

// Syncer is the part of the client the scheduler drives.
type Syncer interface {
	State() client.State
	Auth() (domain.AuthLevel, string)
	FetchAll(ctx context.Context) error
}

// ResyncScheduler requests every emoji, user, risk and reason on a cron
// schedule. Runs are skipped while the client is disconnected or not
// allowed to moderate.
type ResyncScheduler struct {
	syncer Syncer
	logger *zap.Logger

	schedule     cron.Schedule
	expression   string
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	nextRun time.Time
	lastRun time.Time
	runs    int

	ticker *time.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResyncScheduler parses the 5-field cron expression and creates a
// scheduler.
func NewResyncScheduler(syncer Syncer, expression string, logger *zap.Logger) (*ResyncScheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression %q: %w", expression, err)
	}

	return &ResyncScheduler{
		syncer:       syncer,
		logger:       logger.Named("resync"),
		schedule:     schedule,
		expression:   expression,
		pollInterval: 30 * time.Second,
		now:          time.Now,
	}, nil
}

// Start starts the scheduler loop.
func (s *ResyncScheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.mu.Lock()
	s.nextRun = s.schedule.Next(s.now())
	next := s.nextRun
	s.mu.Unlock()

	s.ticker = time.NewTicker(s.pollInterval)
	s.wg.Add(1)
	go s.schedulerLoop()

	s.logger.Info("Resync scheduler started",
		zap.String("cron_expression", s.expression),
		zap.Time("next_run", next),
	)
}

// Stop gracefully stops the scheduler.
func (s *ResyncScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.wg.Wait()

	s.logger.Info("Resync scheduler stopped")
}

// NextRun returns the time of the next scheduled run.
func (s *ResyncScheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRun
}

// LastRun returns the time of the last run that requested data and the
// number of such runs.
func (s *ResyncScheduler) LastRun() (time.Time, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.runs
}

func (s *ResyncScheduler) schedulerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ticker.C:
			s.checkSchedule(s.ctx)
		}
	}
}

// checkSchedule runs the resync when it is due and computes the next run.
func (s *ResyncScheduler) checkSchedule(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := !s.nextRun.After(now)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	next := s.nextRun
	s.mu.Unlock()

	if !due {
		return
	}

	if err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrNotReady) {
			s.logger.Debug("Skipping scheduled resync", zap.Error(err))
		} else {
			s.logger.Warn("Scheduled resync failed", zap.Error(err))
		}
	}

	s.logger.Debug("Updated next run time", zap.Time("next_run", next))
}

// Trigger requests a full resync now.
func (s *ResyncScheduler) Trigger(ctx context.Context) error {
	if s.syncer.State() != client.StateConnected {
		return ErrNotReady
	}
	if level, _ := s.syncer.Auth(); !level.CanModerate() {
		return ErrNotReady
	}

	if err := s.syncer.FetchAll(ctx); err != nil {
		return fmt.Errorf("failed to request resync: %w", err)
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.runs++
	s.mu.Unlock()

	s.logger.Info("Resync requested")
	return nil
}
