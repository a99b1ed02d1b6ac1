package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes persisted entries older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// DefaultRetentionSchedule runs pruning daily at 03:00.
const DefaultRetentionSchedule = "0 3 * * *"

// RetentionConfig configures a Retention job.
type RetentionConfig struct {
	Pruner Pruner
	MaxAge time.Duration // default: 30 days
	// Schedule is a standard five-field cron spec (default: "0 3 * * *").
	Schedule string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Retention prunes persisted entries on a cron schedule.
type Retention struct {
	pruner Pruner
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
	cron   *cron.Cron
}

// NewRetention validates the schedule and creates a stopped Retention job.
func NewRetention(cfg RetentionConfig) (*Retention, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRetentionSchedule
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}

	r := &Retention{
		pruner: cfg.Pruner,
		maxAge: cfg.MaxAge,
		now:    cfg.Now,
		logger: cfg.Logger,
		cron:   cron.New(),
	}
	r.cron.Schedule(schedule, cron.FuncJob(func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.logger.Error("usage retention failed", "error", err)
		}
	}))
	return r, nil
}

// Start starts the scheduler.
func (r *Retention) Start() {
	r.cron.Start()
	r.logger.Info("usage retention scheduled", "max_age", r.maxAge)
}

// Stop stops the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce prunes entries older than the configured age.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned usage entries", "count", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
