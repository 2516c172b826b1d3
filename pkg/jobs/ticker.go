package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickFunc is invoked on every scheduler tick.
type TickFunc func(context.Context) error

// Scheduler runs a function on a fixed cadence until its context is cancelled.
type Scheduler struct {
	name     string
	interval time.Duration
	fn       TickFunc
	logger   *zap.Logger
}

// NewScheduler builds a fixed-interval scheduler.
func NewScheduler(name string, interval time.Duration, fn TickFunc, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{name: name, interval: interval, fn: fn, logger: logger}
}

// Run executes the function immediately and then on every tick. Blocking;
// callers run it in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Sugar().Infow("scheduler started", "scheduler", s.name, "interval", s.interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Sugar().Infow("scheduler stopped", "scheduler", s.name)
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.fn(ctx); err != nil {
		s.logger.Sugar().Errorw("scheduled run failed", "scheduler", s.name, "error", err)
	}
}
