package sync

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs Runner once at startup and then every Interval until ctx
// is done. A failed pass is logged and the next tick proceeds as usual.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Logger   *slog.Logger
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Runner == nil {
		return errNoRunner
	}
	if s.Interval <= 0 {
		return nil
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := s.Runner.RunOnce(ctx); err != nil {
		logger.Error("initial refresh failed", "err", err)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Runner.RunOnce(ctx); err != nil {
				logger.Error("scheduled refresh failed", "err", err)
			}
		}
	}
}
