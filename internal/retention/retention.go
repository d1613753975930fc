// Package retention prunes aged records on a cron schedule: expired
// API keys past their grace period and usage events past theirs.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/apisentinel/sentinel/internal/config"
	"github.com/apisentinel/sentinel/internal/observability"
)

// KeyPurger deletes expired key records older than a cutoff.
type KeyPurger interface {
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPurger deletes usage events older than a cutoff.
type EventPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the retention sweep over both stores.
type Sweeper struct {
	keys   KeyPurger
	events EventPurger
	cfg    config.RetentionConfig
	logger observability.Logger
	now    func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger used by the sweeper.
func WithSweeperLogger(logger observability.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperClock overrides the time source, for tests.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a sweeper over the given stores.
func NewSweeper(keys KeyPurger, events EventPurger, cfg config.RetentionConfig, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		keys:   keys,
		events: events,
		cfg:    cfg,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes expired keys whose expiry is older than the key grace
// period and usage events older than the usage grace period. A failure
// in one store does not stop the other sweep.
func (s *Sweeper) Sweep(ctx context.Context) (keysPurged, eventsPurged int64, err error) {
	now := s.now().UTC()

	keysPurged, keysErr := s.keys.PurgeExpiredBefore(ctx, now.Add(-s.cfg.KeyGrace.Duration()))
	if keysErr != nil {
		s.logger.Error("expired key purge failed", observability.Error(keysErr))
	}

	eventsPurged, eventsErr := s.events.PurgeBefore(ctx, now.Add(-s.cfg.UsageGrace.Duration()))
	if eventsErr != nil {
		s.logger.Error("usage event purge failed", observability.Error(eventsErr))
	}

	if keysErr != nil {
		return keysPurged, eventsPurged, fmt.Errorf("purge expired keys: %w", keysErr)
	}
	if eventsErr != nil {
		return keysPurged, eventsPurged, fmt.Errorf("purge usage events: %w", eventsErr)
	}

	s.logger.Info("retention sweep completed",
		observability.Int64("keys_purged", keysPurged),
		observability.Int64("events_purged", eventsPurged),
	)
	return keysPurged, eventsPurged, nil
}

// Scheduler runs the sweeper on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	schedule string
	cron     *cron.Cron
	logger   observability.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler running sweeper on the given cron
// expression (standard five-field syntax).
func NewScheduler(sweeper *Sweeper, schedule string, logger observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start validates the schedule and begins running sweeps. The context
// bounds each sweep; cancelling it does not stop the scheduler, call
// Stop for that.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, _, err := s.sweeper.Sweep(ctx); err != nil {
			s.logger.Error("scheduled retention sweep failed", observability.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", observability.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// NextRun returns the next scheduled sweep time, zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
