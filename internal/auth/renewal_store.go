package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reportline/reportline-core/internal/infrastructure/database"
)

// renewalTokenBytes is the entropy of an opaque renewal token (256 bits).
const renewalTokenBytes = 32

// RenewalStore defines the interface for renewal token persistence.
// Every method takes the raw token and hashes it before touching storage.
type RenewalStore interface {
	Create(ctx context.Context, identityID string, expiresAt time.Time) (string, error)
	FindValid(ctx context.Context, token string) (*RenewalToken, error)
	Lookup(ctx context.Context, token string) (*RenewalToken, error)
	Revoke(ctx context.Context, token, successorID string) error
	Rotate(ctx context.Context, presented, identityID string, expiresAt time.Time) (string, error)
	RevokeChain(ctx context.Context, id string) (int64, error)
	RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error)
	ListActiveByIdentity(ctx context.Context, identityID string) ([]RenewalToken, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// SQLiteRenewalStore implements RenewalStore using SQLite.
type SQLiteRenewalStore struct {
	db       *sql.DB
	timeout  time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewRenewalStore creates a new SQLite-backed renewal token store.
// A positive timeout bounds every call.
func NewRenewalStore(db *sql.DB, timeout time.Duration) *SQLiteRenewalStore {
	return &SQLiteRenewalStore{
		db:       db,
		timeout:  timeout,
		now:      time.Now,
		generate: GenerateRenewalToken,
	}
}

// GenerateRenewalToken creates a cryptographically random renewal token.
func GenerateRenewalToken() (string, error) {
	b := make([]byte, renewalTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating renewal token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const renewalColumns = `id, identity_id, token_hash, expires_at, revoked, successor_id, created_at`

// Create generates and stores a new renewal token for identityID and
// returns the raw token once the row is committed. A hash collision is
// retried once with a fresh token.
func (s *SQLiteRenewalStore) Create(ctx context.Context, identityID string, expiresAt time.Time) (string, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	var token string
	err := s.withCollisionRetry(func() error {
		var err error
		token, _, err = s.insert(ctx, s.db, identityID, expiresAt)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// FindValid returns the stored token if it is neither revoked nor expired.
// Anything else is ErrRenewalTokenNotFound.
func (s *SQLiteRenewalStore) FindValid(ctx context.Context, token string) (*RenewalToken, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	return scanRenewalFrom(s.db.QueryRowContext(ctx,
		"SELECT "+renewalColumns+" FROM renewal_tokens WHERE token_hash = ? AND revoked = 0 AND expires_at > ?",
		HashToken(token), formatTime(s.now()),
	))
}

// Lookup returns the stored token in any state. It exists for replay
// detection; authentication decisions use FindValid.
func (s *SQLiteRenewalStore) Lookup(ctx context.Context, token string) (*RenewalToken, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	return scanRenewalFrom(s.db.QueryRowContext(ctx,
		"SELECT "+renewalColumns+" FROM renewal_tokens WHERE token_hash = ?",
		HashToken(token),
	))
}

// Revoke marks a token as revoked and, when successorID is non-empty,
// records the token that replaced it. Revocation never un-revokes.
func (s *SQLiteRenewalStore) Revoke(ctx context.Context, token, successorID string) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE renewal_tokens SET revoked = 1, successor_id = COALESCE(?, successor_id)
		 WHERE token_hash = ?`,
		nullString(successorID), HashToken(token),
	)
	if err != nil {
		return fmt.Errorf("revoking renewal token: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRenewalTokenNotFound
	}
	return nil
}

// Rotate exchanges presented for a new token in one transaction: the
// successor row is inserted, then presented is revoked only if it is still
// valid and belongs to identityID. When that conditional update affects no
// row (expired, revoked, or a concurrent rotation won) the transaction
// rolls back and ErrRenewalTokenNotFound is returned.
func (s *SQLiteRenewalStore) Rotate(ctx context.Context, presented, identityID string, expiresAt time.Time) (string, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	var token string
	err := s.withCollisionRetry(func() error {
		return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			next, nextID, err := s.insert(ctx, tx, identityID, expiresAt)
			if err != nil {
				return err
			}

			result, err := tx.ExecContext(ctx,
				`UPDATE renewal_tokens SET revoked = 1, successor_id = ?
				 WHERE token_hash = ? AND identity_id = ? AND revoked = 0 AND expires_at > ?`,
				nextID, HashToken(presented), identityID, formatTime(s.now()),
			)
			if err != nil {
				return fmt.Errorf("revoking presented token: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("revoking presented token: %w", err)
			}
			if rows == 0 {
				return ErrRenewalTokenNotFound
			}

			token = next
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// RevokeChain revokes every descendant of the token with the given row ID
// by following successor links forward. It returns the number of rows
// newly revoked.
func (s *SQLiteRenewalStore) RevokeChain(ctx context.Context, id string) (int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE chain(id) AS (
			SELECT successor_id FROM renewal_tokens WHERE id = ? AND successor_id IS NOT NULL
			UNION
			SELECT rt.successor_id FROM renewal_tokens rt
			JOIN chain c ON rt.id = c.id
			WHERE rt.successor_id IS NOT NULL
		)
		UPDATE renewal_tokens SET revoked = 1
		WHERE revoked = 0 AND id IN (SELECT id FROM chain)`, id)
	if err != nil {
		return 0, fmt.Errorf("revoking renewal chain: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// RevokeAllForIdentity revokes every outstanding token of an identity.
// Used after a password reset and by the admin force-logout.
func (s *SQLiteRenewalStore) RevokeAllForIdentity(ctx context.Context, identityID string) (int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		"UPDATE renewal_tokens SET revoked = 1 WHERE identity_id = ? AND revoked = 0", identityID)
	if err != nil {
		return 0, fmt.Errorf("revoking all renewal tokens for identity: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// ListActiveByIdentity returns all non-revoked, non-expired tokens of an
// identity, newest first.
func (s *SQLiteRenewalStore) ListActiveByIdentity(ctx context.Context, identityID string) ([]RenewalToken, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+renewalColumns+` FROM renewal_tokens
		 WHERE identity_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`, identityID, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("listing active renewal tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RenewalToken{}
	for rows.Next() {
		t, err := scanRenewalFrom(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating renewal tokens: %w", err)
	}
	return tokens, nil
}

// PurgeExpired deletes tokens past their expiry and returns the count.
// Revoked but unexpired rows are kept so replays can still be recognised.
func (s *SQLiteRenewalStore) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM renewal_tokens WHERE expires_at <= ?", formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("purging expired renewal tokens: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// insert stores a freshly generated token and returns it with its row ID.
func (s *SQLiteRenewalStore) insert(ctx context.Context, q database.DBTX, identityID string, expiresAt time.Time) (token, id string, err error) {
	token, err = s.generate()
	if err != nil {
		return "", "", err
	}
	id = uuid.NewString()

	_, err = q.ExecContext(ctx,
		`INSERT INTO renewal_tokens (id, identity_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		id, identityID, HashToken(token), formatTime(expiresAt), formatTime(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", "", ErrTokenCollision
		}
		return "", "", fmt.Errorf("creating renewal token: %w", err)
	}
	return token, id, nil
}

// withCollisionRetry runs fn again once if it reports a token collision.
func (s *SQLiteRenewalStore) withCollisionRetry(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrTokenCollision) {
		err = fn()
	}
	return err
}

// scanRenewalFrom scans a renewal token from any scanner (Row or Rows).
func scanRenewalFrom(sc scanner) (*RenewalToken, error) {
	var t RenewalToken
	var revoked int
	var successor sql.NullString
	var expiresAt, createdAt string

	if err := sc.Scan(&t.ID, &t.IdentityID, &t.TokenHash, &expiresAt, &revoked, &successor, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRenewalTokenNotFound
		}
		return nil, fmt.Errorf("scanning renewal token: %w", err)
	}

	t.Revoked = revoked != 0
	t.SuccessorID = successor.String
	t.ExpiresAt = parseTime(expiresAt)
	t.CreatedAt = parseTime(createdAt)

	return &t, nil
}
