// Package sweeper expires orders whose payment window has closed, which
// releases their expected amounts for reuse.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const batchSize = 200

type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

type Sweeper struct {
	store    Expirer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(s Expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: s, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("expiry sweep failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires every overdue order in batches and returns how many it
// expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	total := 0
	for {
		n, err := s.store.ExpireStale(ctx, now, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired stale orders", "count", total)
	}
	return total, nil
}
