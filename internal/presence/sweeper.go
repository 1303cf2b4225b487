package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type sweepRunner interface {
	Sweep(ctx context.Context) (int64, error)
}

// Sweeper runs Sweep on a fixed interval until its context ends.
type Sweeper struct {
	runner   sweepRunner
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper constructs a Sweeper. A non-positive interval yields a Sweeper whose Run returns immediately.
func NewSweeper(runner sweepRunner, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{runner: runner, interval: interval, logger: logger}
}

// Run blocks until ctx is done. Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.runner.Sweep(ctx)
			if err != nil {
				s.logger.Warn("presence sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Debug("presence sweep removed stale records", zap.Int64("removed", removed))
			}
		}
	}
}
