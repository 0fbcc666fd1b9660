package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/database"
	"github.com/reportline/reportline-core/internal/infrastructure/logging"
	_ "github.com/reportline/reportline-core/migrations" // registers the schema
)

// testPassword is the password given to every seeded identity.
const testPassword = "test-password"

// testDB creates a temporary SQLite database with the full schema applied.
// A temp file is used so WAL mode works (in-memory doesn't support it).
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return db.DB
}

// seedIdentity inserts an active identity with testPassword and returns it.
func seedIdentity(t *testing.T, db *sql.DB, email string, role RoleID) *Identity {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	identity := &Identity{
		Email:        email,
		PasswordHash: hash,
		RoleID:       role,
		Status:       StatusActive,
	}
	if err := NewIdentityRepository(db, 0).Create(context.Background(), identity); err != nil {
		t.Fatalf("creating test identity %s: %v", email, err)
	}
	return identity
}

// testClock is a settable clock shared by the components under test.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// testEnv wires the auth components over one database and one clock.
type testEnv struct {
	db         *sql.DB
	clock      *testClock
	signer     *Signer
	identities *SQLiteIdentityRepository
	renewals   *SQLiteRenewalStore
	issuer     *Issuer
	reset      *ResetFlow
	notifier   *recordingNotifier
	auth       *Authenticator
	service    *Service
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()

	db := testDB(t)
	clock := newTestClock()

	signer := newTestSigner(t, clock.Now())
	signer.now = clock.Now

	identities := NewIdentityRepository(db, 5*time.Second)
	identities.now = clock.Now
	renewals := NewRenewalStore(db, 5*time.Second)
	renewals.now = clock.Now

	o := Options{
		RenewalTTL:    7 * 24 * time.Hour,
		ResetTTL:      24 * time.Hour,
		DefaultRoleID: RoleViewer,
		ResetLinkBase: "https://reports.example/reset",
	}
	for _, opt := range opts {
		opt(&o)
	}

	notifier := &recordingNotifier{}
	logger := logging.Discard()

	issuer := NewIssuer(signer, renewals, identities, o, logger)
	issuer.now = clock.Now
	reset := NewResetFlow(signer, identities, renewals, notifier, o, logger)
	reset.now = clock.Now
	authn := NewAuthenticator(identities, reset, o, logger)
	svc := NewService(ServiceDeps{
		Authenticator: authn,
		Issuer:        issuer,
		Reset:         reset,
		Identities:    identities,
		Renewals:      renewals,
		Logger:        logger,
	})
	svc.now = clock.Now

	return &testEnv{
		db:         db,
		clock:      clock,
		signer:     signer,
		identities: identities,
		renewals:   renewals,
		issuer:     issuer,
		reset:      reset,
		notifier:   notifier,
		auth:       authn,
		service:    svc,
	}
}

// recordingNotifier captures reset hand-offs instead of sending them.
type recordingNotifier struct {
	requests []ResetRequest
	err      error
}

func (n *recordingNotifier) NotifyPasswordReset(_ context.Context, req ResetRequest) error {
	if n.err != nil {
		return n.err
	}
	n.requests = append(n.requests, req)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) ResetRequest {
	t.Helper()
	if len(n.requests) == 0 {
		t.Fatal("no reset request was handed to the notifier")
	}
	return n.requests[len(n.requests)-1]
}
