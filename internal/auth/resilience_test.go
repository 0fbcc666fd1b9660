package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// Resilience tests verify that the auth subsystem handles races and store
// failures. These tests use the TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentRotation verifies that when several goroutines
// present the same renewal token, exactly one obtains a new pair.
func TestResilience_ConcurrentRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := seedIdentity(t, env.db, "race@x.com", RoleViewer)

	pair, err := env.issuer.IssuePair(ctx, identity)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan *RotationResult, attempts)
	errs := make(chan error, attempts)

	for n := 0; n < attempts; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.issuer.Rotate(ctx, pair.RenewalToken)
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	if len(results) != 1 {
		t.Fatalf("successful rotations = %d, want exactly 1", len(results))
	}
	for err := range errs {
		if !HasReason(err, ReasonInvalidToken) {
			t.Errorf("losing rotation error = %v, want invalid_token", err)
		}
	}

	winner := <-results
	if _, err := env.renewals.FindValid(ctx, winner.Pair.RenewalToken); err != nil {
		t.Errorf("winner's renewal token should be valid: %v", err)
	}

	active, _ := env.renewals.ListActiveByIdentity(ctx, identity.ID)
	if len(active) != 1 {
		t.Errorf("active renewal tokens = %d, want 1", len(active))
	}
}

// TestResilience_ConcurrentResetConsume verifies that a reset token can
// only be consumed once even when submitted concurrently.
func TestResilience_ConcurrentResetConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedIdentity(t, env.db, "reset-race@x.com", RoleViewer)

	req, err := env.reset.RequestReset(ctx, "reset-race@x.com")
	if err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}

	const attempts = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reset.Consume(ctx, req.Token, "new-password-"+string(rune('a'+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !HasReason(err, ReasonTokenMismatch):
				t.Errorf("losing consume error = %v, want token_mismatch", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", succeeded)
	}
}

// TestResilience_DeactivatedDuringSession verifies that rotation stops
// working once an identity is deactivated, while already-issued access
// tokens keep verifying until they expire.
func TestResilience_DeactivatedDuringSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := seedIdentity(t, env.db, "gone@x.com", RoleAnalyst)

	pair, err := env.issuer.IssuePair(ctx, identity)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	if err := env.identities.SetStatus(ctx, identity.ID, StatusInactive); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	res, err := env.issuer.Rotate(ctx, pair.RenewalToken)
	if !HasReason(err, ReasonAccountInactive) {
		t.Fatalf("Rotate() error = %v, want account_inactive", err)
	}
	if res.State != RotationRejected || res.Pair != nil {
		t.Errorf("Rotate() result = %+v, want rejected without a pair", res)
	}

	if _, err := env.signer.Verify(pair.AccessToken); err != nil {
		t.Errorf("access token should verify until expiry, got %v", err)
	}
}

// TestResilience_StoreDeadline verifies that a store call past its deadline
// surfaces as a transient persistence failure.
func TestResilience_StoreDeadline(t *testing.T) {
	env := newTestEnv(t)
	identity := seedIdentity(t, env.db, "slow@x.com", RoleViewer)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := env.issuer.IssuePair(ctx, identity)
	ae, ok := AsError(err)
	if !ok {
		t.Fatalf("IssuePair() error = %v, want *Error", err)
	}
	if ae.Kind != KindPersistence || !ae.Transient || ae.Reason != ReasonUnavailable {
		t.Errorf("IssuePair() = %s/%s transient=%v, want persistence/temporarily_unavailable transient",
			ae.Kind, ae.Reason, ae.Transient)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should be context.DeadlineExceeded")
	}
}
