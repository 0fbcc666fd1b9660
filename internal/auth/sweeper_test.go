package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// countingStore counts PurgeExpired calls and delegates nothing else.
type countingStore struct {
	RenewalStore
	purges atomic.Int32
}

func (s *countingStore) PurgeExpired(context.Context) (int64, error) {
	s.purges.Add(1)
	return 0, nil
}

func TestSweeper_RunsUntilCancelled(t *testing.T) {
	store := &countingStore{}
	sweeper := NewSweeper(store, 10*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.purges.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("purges = %d after 2s, want at least 3", store.purges.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSweeper_PurgesExpiredRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := seedIdentity(t, env.db, "sweep@x.com", RoleViewer)

	if _, err := env.issuer.IssuePair(ctx, identity); err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	env.clock.Advance(8 * 24 * time.Hour)

	var reported []int64
	sweeper := NewSweeper(env.renewals, time.Hour, logging.Discard())
	sweeper.OnPurge(func(n int64) { reported = append(reported, n) })
	sweeper.sweep(ctx)
	sweeper.sweep(ctx)

	if n := countRenewalRows(t, env.db, identity.ID); n != 0 {
		t.Errorf("rows after sweep = %d, want 0", n)
	}
	if len(reported) != 2 || reported[0] != 1 || reported[1] != 0 {
		t.Errorf("reported = %v, want [1 0]", reported)
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	if s := NewSweeper(&countingStore{}, 0, logging.Discard()); s.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", s.interval)
	}
}
