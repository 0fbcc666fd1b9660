package auth

import (
	"context"
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// Sweeper deletes expired renewal tokens on a fixed interval.
type Sweeper struct {
	store    RenewalStore
	interval time.Duration
	logger   *logging.Logger
	onPurge  func(deleted int64)
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one hour.
func NewSweeper(store RenewalStore, interval time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval, logger: logger.With("component", "sweeper")}
}

// OnPurge registers fn to receive the row count of every successful sweep,
// including zero. It must be called before Run.
func (s *Sweeper) OnPurge(fn func(deleted int64)) {
	s.onPurge = fn
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// It always returns nil so it can run inside an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("renewal token sweeper started", "interval", s.interval.String())
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("renewal token sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("purging expired renewal tokens", "error", err)
		}
		return
	}
	if s.onPurge != nil {
		s.onPurge(n)
	}
	if n > 0 {
		s.logger.Info("purged expired renewal tokens", "count", n)
	}
}
