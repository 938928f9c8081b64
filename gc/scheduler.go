package gc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/metrics"
)

const (
	DefaultInterval     = 6 * time.Hour
	DefaultInitialDelay = 5 * time.Minute
)

// StatsSource reports catalog totals after each scheduled run.
type StatsSource interface {
	Stats(ctx context.Context) (interfaces.StorageStats, error)
}

// SchedulerConfig controls periodic collection.
type SchedulerConfig struct {
	// Interval between runs. Zero selects DefaultInterval.
	Interval time.Duration

	// InitialDelay before the first run. Negative runs immediately.
	InitialDelay time.Duration

	// DryRun makes scheduled runs report without deleting anything.
	DryRun bool

	// LockTTL bounds how long one replica may hold the run lock.
	// Zero uses Interval.
	LockTTL time.Duration
}

// Scheduler runs a Runner periodically. Only the replica holding the lock
// runs a given tick.
type Scheduler struct {
	cfg     SchedulerConfig
	runner  Runner
	locker  Locker
	stats   StatsSource
	metrics *metrics.GCRecorder
	log     *slog.Logger
}

// NewScheduler creates a scheduler. locker defaults to NopLocker; stats and
// recorder may be nil.
func NewScheduler(cfg SchedulerConfig, runner Runner, locker Locker, stats StatsSource, recorder *metrics.GCRecorder, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if locker == nil {
		locker = NopLocker{}
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		locker:  locker,
		stats:   stats,
		metrics: recorder,
		log:     log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Storage GC scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("initial_delay", s.cfg.InitialDelay),
		slog.Bool("dry_run", s.cfg.DryRun))

	if s.cfg.InitialDelay > 0 {
		timer := time.NewTimer(s.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("Storage GC scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs the collector once if this instance wins the lock.
func (s *Scheduler) Tick(ctx context.Context) {
	unlock, err := s.locker.Acquire(ctx, s.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		s.log.Debug("Storage GC skipped, another instance holds the lock")
		return
	} else if err != nil {
		s.log.Error("Storage GC lock unavailable", "err", err)
		return
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("Storage GC lock release failed", "err", err)
		}
	}()

	result, err := s.runner.Run(ctx, s.cfg.DryRun)
	if err != nil {
		s.log.Error("Storage GC run failed", "err", err)
		return
	}
	if len(result.Errors) > 0 {
		s.log.Warn("Storage GC finished with errors", slog.Int("errors", len(result.Errors)))
	}

	if s.stats == nil {
		return
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.log.Warn("Failed to refresh storage stats", "err", err)
		return
	}
	s.metrics.RecordStats(stats)
}
