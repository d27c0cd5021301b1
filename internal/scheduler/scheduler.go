// Package scheduler runs the end-of-day jobs on exchange-local cron
// schedules: the session archive and the daily metrics reset.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradeguard/internal/clock"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/metrics"
)

const (
	// resetSpec fires at exchange midnight.
	resetSpec   = "0 0 0 * * *"
	archiveLock = 10 * time.Minute
	jobTimeout  = 5 * time.Minute
)

// Scheduler wraps a seconds-resolution cron in the exchange time zone.
type Scheduler struct {
	cron     *cron.Cron
	archiver domain.Archiver
	clock    *clock.Clock
	locks    domain.LockManager
	now      func() time.Time
	logger   *slog.Logger
}

// Config selects the jobs to schedule. An empty ArchiveSpec or nil Archiver
// disables archiving.
type Config struct {
	ArchiveSpec string
	Archiver    domain.Archiver
	// Locks, when set, makes sure one replica archives a given day.
	Locks domain.LockManager
}

// New validates the cron specs and registers the jobs.
func New(cfg Config, clk *clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(clk.Location())),
		archiver: cfg.Archiver,
		clock:    clk,
		locks:    cfg.Locks,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "scheduler")),
	}

	if cfg.ArchiveSpec != "" && cfg.Archiver != nil {
		if _, err := s.cron.AddFunc(cfg.ArchiveSpec, func() { s.runArchive(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduler: archive schedule %q: %w", cfg.ArchiveSpec, err)
		}
	}
	if _, err := s.cron.AddFunc(resetSpec, s.resetDaily); err != nil {
		return nil, fmt.Errorf("scheduler: reset schedule: %w", err)
	}
	return s, nil
}

// Run starts the cron and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler: started", slog.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return ctx.Err()
}

// ArchiveDay archives tradingDate immediately, taking the archive lock.
func (s *Scheduler) ArchiveDay(ctx context.Context, tradingDate string) (int64, error) {
	if s.archiver == nil {
		return 0, errors.New("scheduler: archiving is not configured")
	}
	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, "archive:"+tradingDate, archiveLock)
		if err != nil {
			return 0, fmt.Errorf("scheduler: archive lock: %w", err)
		}
		defer release()
	}
	return s.archiver.ArchiveSessions(ctx, tradingDate)
}

func (s *Scheduler) runArchive(ctx context.Context) {
	now := s.now()
	if !s.clock.IsTradingDay(now) {
		s.logger.Debug("scheduler: not a trading day, skipping archive")
		return
	}
	date := s.clock.TradingDate(now)

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := s.ArchiveDay(ctx, date)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		s.logger.Info("scheduler: archive running elsewhere", slog.String("trading_date", date))
	case err != nil:
		s.logger.Error("scheduler: archive failed",
			slog.String("trading_date", date),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.Info("scheduler: archive complete",
			slog.String("trading_date", date),
			slog.Int64("sessions", n),
		)
	}
}

func (s *Scheduler) resetDaily() {
	metrics.ActiveSessions.Set(0)
}
