package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// newTestRenewalStore returns a store over db with a settable clock.
func newTestRenewalStore(t *testing.T, db *sql.DB) (*SQLiteRenewalStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := NewRenewalStore(db, 0)
	store.now = clock.Now
	return store, clock
}

// countRenewalRows counts every stored renewal token of an identity.
func countRenewalRows(t *testing.T, db *sql.DB, identityID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM renewal_tokens WHERE identity_id = ?", identityID).Scan(&n); err != nil {
		t.Fatalf("counting renewal tokens: %v", err)
	}
	return n
}

func TestRenewalStore_CreateAndFindValid(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "store@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	token, err := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(token) != 2*renewalTokenBytes {
		t.Errorf("token length = %d, want %d hex chars", len(token), 2*renewalTokenBytes)
	}

	got, err := store.FindValid(ctx, token)
	if err != nil {
		t.Fatalf("FindValid() error = %v", err)
	}
	if got.IdentityID != identity.ID {
		t.Errorf("IdentityID = %q, want %q", got.IdentityID, identity.ID)
	}
	if got.TokenHash != HashToken(token) {
		t.Error("stored hash should be the SHA-256 of the raw token")
	}
	if got.Revoked || got.SuccessorID != "" {
		t.Errorf("new token = %+v, want unrevoked without successor", got)
	}

	var raw int
	if err := db.QueryRow("SELECT COUNT(*) FROM renewal_tokens WHERE token_hash = ?", token).Scan(&raw); err != nil {
		t.Fatalf("querying raw token: %v", err)
	}
	if raw != 0 {
		t.Error("the raw token must never be persisted")
	}
}

func TestRenewalStore_FindValidRejectsExpired(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "exp@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	token, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))

	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"before expiry", 59 * time.Minute, nil},
		{"at expiry", time.Minute, ErrRenewalTokenNotFound},
		{"after expiry", 24 * time.Hour, ErrRenewalTokenNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			_, err := store.FindValid(ctx, token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FindValid() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRenewalStore_Revoke(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "revoke@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	token, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))

	if err := store.Revoke(ctx, token, ""); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if _, err := store.FindValid(ctx, token); !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Errorf("FindValid() after revoke error = %v, want ErrRenewalTokenNotFound", err)
	}

	got, err := store.Lookup(ctx, token)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !got.Revoked {
		t.Error("Lookup() should report the token as revoked")
	}

	if err := store.Revoke(ctx, "unknown", ""); !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Errorf("Revoke(unknown) error = %v, want ErrRenewalTokenNotFound", err)
	}
}

func TestRenewalStore_Rotate(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "rotate@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	r1, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))

	r2, err := store.Rotate(ctx, r1, identity.ID, clock.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if r2 == r1 {
		t.Fatal("Rotate() must return a fresh token")
	}

	next, err := store.FindValid(ctx, r2)
	if err != nil {
		t.Fatalf("FindValid(r2) error = %v", err)
	}

	old, _ := store.Lookup(ctx, r1)
	if !old.Revoked {
		t.Error("presented token should be revoked")
	}
	if old.SuccessorID != next.ID {
		t.Errorf("SuccessorID = %q, want %q", old.SuccessorID, next.ID)
	}

	// Second presentation of r1 fails and leaves no extra row behind.
	if _, err := store.Rotate(ctx, r1, identity.ID, clock.Now().Add(2*time.Hour)); !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Errorf("Rotate(r1 again) error = %v, want ErrRenewalTokenNotFound", err)
	}
	if n := countRenewalRows(t, db, identity.ID); n != 2 {
		t.Errorf("row count = %d, want 2", n)
	}
}

func TestRenewalStore_RotateRollsBack(t *testing.T) {
	db := testDB(t)
	owner := seedIdentity(t, db, "owner@x.com", RoleViewer)
	other := seedIdentity(t, db, "other@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	token, _ := store.Create(ctx, owner.ID, clock.Now().Add(time.Hour))

	tests := []struct {
		name     string
		identity string
		advance  time.Duration
	}{
		{"wrong identity", other.ID, 0},
		{"expired", owner.ID, 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Advance(tt.advance)
			_, err := store.Rotate(ctx, token, tt.identity, clock.Now().Add(time.Hour))
			if !errors.Is(err, ErrRenewalTokenNotFound) {
				t.Fatalf("Rotate() error = %v, want ErrRenewalTokenNotFound", err)
			}
			if n := countRenewalRows(t, db, owner.ID) + countRenewalRows(t, db, other.ID); n != 1 {
				t.Errorf("row count = %d, want 1 (successor must be rolled back)", n)
			}
		})
	}

	got, _ := store.Lookup(ctx, token)
	if got.Revoked {
		t.Error("a failed rotation must not revoke the presented token")
	}
}

func TestRenewalStore_RevokeChain(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "chain@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()
	expiry := clock.Now().Add(time.Hour)

	r1, _ := store.Create(ctx, identity.ID, expiry)
	r2, _ := store.Rotate(ctx, r1, identity.ID, expiry)
	r3, _ := store.Rotate(ctx, r2, identity.ID, expiry)
	unrelated, _ := store.Create(ctx, identity.ID, expiry)

	first, _ := store.Lookup(ctx, r1)
	n, err := store.RevokeChain(ctx, first.ID)
	if err != nil {
		t.Fatalf("RevokeChain() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RevokeChain() revoked %d, want 1 (only r3 was live)", n)
	}

	if _, err := store.FindValid(ctx, r3); !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Errorf("FindValid(r3) error = %v, want ErrRenewalTokenNotFound", err)
	}
	if _, err := store.FindValid(ctx, unrelated); err != nil {
		t.Errorf("tokens outside the chain must survive, got %v", err)
	}
}

func TestRenewalStore_RevokeAllAndList(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "all@x.com", RoleViewer)
	other := seedIdentity(t, db, "keep@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	first, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))
	clock.Advance(time.Second)
	second, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))
	kept, _ := store.Create(ctx, other.ID, clock.Now().Add(time.Hour))

	active, err := store.ListActiveByIdentity(ctx, identity.ID)
	if err != nil {
		t.Fatalf("ListActiveByIdentity() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	if active[0].TokenHash != HashToken(second) || active[1].TokenHash != HashToken(first) {
		t.Error("ListActiveByIdentity() should return newest first")
	}

	n, err := store.RevokeAllForIdentity(ctx, identity.ID)
	if err != nil {
		t.Fatalf("RevokeAllForIdentity() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeAllForIdentity() = %d, want 2", n)
	}

	active, _ = store.ListActiveByIdentity(ctx, identity.ID)
	if len(active) != 0 {
		t.Errorf("len(active) after revoke = %d, want 0", len(active))
	}
	if _, err := store.FindValid(ctx, kept); err != nil {
		t.Errorf("other identity's token should survive, got %v", err)
	}
}

func TestRenewalStore_PurgeExpired(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "purge@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	short, _ := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))
	revoked, _ := store.Create(ctx, identity.ID, clock.Now().Add(48*time.Hour))
	_ = store.Revoke(ctx, revoked, "") //nolint:errcheck // test setup
	live, _ := store.Create(ctx, identity.ID, clock.Now().Add(48*time.Hour))

	clock.Advance(2 * time.Hour)

	count, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if count != 1 {
		t.Errorf("PurgeExpired() deleted %d, want 1", count)
	}

	if _, err := store.Lookup(ctx, short); !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Errorf("expired token should be deleted, got %v", err)
	}
	if _, err := store.Lookup(ctx, revoked); err != nil {
		t.Errorf("revoked but unexpired token should be kept, got %v", err)
	}
	if _, err := store.FindValid(ctx, live); err != nil {
		t.Errorf("live token should be kept, got %v", err)
	}
}

func TestRenewalStore_CollisionRetry(t *testing.T) {
	db := testDB(t)
	identity := seedIdentity(t, db, "collide@x.com", RoleViewer)
	store, clock := newTestRenewalStore(t, db)
	ctx := context.Background()

	sequence := func(tokens ...string) func() (string, error) {
		return func() (string, error) {
			next := tokens[0]
			if len(tokens) > 1 {
				tokens = tokens[1:]
			}
			return next, nil
		}
	}

	store.generate = sequence("aaaa", "aaaa", "bbbb")

	if tok, err := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour)); err != nil || tok != "aaaa" {
		t.Fatalf("first Create() = (%q, %v), want (aaaa, nil)", tok, err)
	}
	tok, err := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Create() after collision error = %v", err)
	}
	if tok != "bbbb" {
		t.Errorf("Create() = %q, want the retried token bbbb", tok)
	}

	store.generate = sequence("aaaa")
	if _, err := store.Create(ctx, identity.ID, clock.Now().Add(time.Hour)); !errors.Is(err, ErrTokenCollision) {
		t.Errorf("Create() error = %v, want ErrTokenCollision after one retry", err)
	}
}

func TestHashToken(t *testing.T) {
	hash1 := HashToken("raw-token")
	hash2 := HashToken("raw-token")
	hash3 := HashToken("different-token")

	if hash1 != hash2 {
		t.Error("same input should produce same hash")
	}
	if hash1 == hash3 {
		t.Error("different input should produce different hash")
	}
	if len(hash1) != 64 { //nolint:mnd // SHA-256 hex = 64 characters
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func newRenewalStoreWithMock(t *testing.T) (*SQLiteRenewalStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewRenewalStore(db, 0)
	store.now = newTestClock().Now
	store.generate = func() (string, error) { return "fixed-token", nil }
	return store, mock
}

func TestRenewalStore_Rotate_UpdateErrorRollsBack(t *testing.T) {
	store, mock := newRenewalStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+renewal_tokens`).
		WithArgs(sqlmock.AnyArg(), "id-1", HashToken("fixed-token"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+renewal_tokens\s+SET\s+revoked\s*=\s*1,\s*successor_id`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := store.Rotate(context.Background(), "presented", "id-1", time.Now().Add(time.Hour))
	if err == nil || !regexp.MustCompile(`revoking presented token: .*disk I/O error`).MatchString(err.Error()) {
		t.Fatalf("Rotate() error = %v, want wrapped update error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRenewalStore_Rotate_NoRowsRollsBack(t *testing.T) {
	store, mock := newRenewalStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+renewal_tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+renewal_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.Rotate(context.Background(), "presented", "id-1", time.Now().Add(time.Hour))
	if !errors.Is(err, ErrRenewalTokenNotFound) {
		t.Fatalf("Rotate() error = %v, want ErrRenewalTokenNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRenewalStore_Rotate_CommitError(t *testing.T) {
	store, mock := newRenewalStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+renewal_tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+renewal_tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	_, err := store.Rotate(context.Background(), "presented", "id-1", time.Now().Add(time.Hour))
	if err == nil || !regexp.MustCompile(`committing transaction: database is locked`).MatchString(err.Error()) {
		t.Fatalf("Rotate() error = %v, want commit error", err)
	}
}

func TestRenewalStore_PurgeExpired_DBError(t *testing.T) {
	store, mock := newRenewalStoreWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+renewal_tokens\s+WHERE\s+expires_at\s*<=\s*\?`).
		WillReturnError(errors.New("db down"))

	_, err := store.PurgeExpired(context.Background())
	if err == nil || !regexp.MustCompile(`purging expired renewal tokens: .*db down`).MatchString(err.Error()) {
		t.Fatalf("PurgeExpired() error = %v, want wrapped db error", err)
	}

	pe := persistenceError("purging", err)
	if pe.Transient || pe.Reason != ReasonInternal {
		t.Errorf("persistenceError() = %+v, want non-transient internal_error", pe)
	}
}
