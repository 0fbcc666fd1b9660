package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentityRepository defines the interface for identity persistence.
type IdentityRepository interface {
	Create(ctx context.Context, identity *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByEmailWithSecret(ctx context.Context, email string) (*Identity, error)
	FindByExternalID(ctx context.Context, externalID string) (*Identity, error)
	LinkExternalID(ctx context.Context, id, externalID string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetStatus(ctx context.Context, id string, status Status) error
	TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error
	SetResetCorrelation(ctx context.Context, id, token string) error
	ConsumeResetCorrelation(ctx context.Context, id, token, passwordHash string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteIdentityRepository implements IdentityRepository using SQLite.
type SQLiteIdentityRepository struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// NewIdentityRepository creates a new SQLite-backed identity repository.
// A positive timeout bounds every call.
func NewIdentityRepository(db *sql.DB, timeout time.Duration) *SQLiteIdentityRepository {
	return &SQLiteIdentityRepository{db: db, timeout: timeout, now: time.Now}
}

// identityColumns is the default projection. It never includes the hash.
const identityColumns = `id, email, external_id, role_id, status, last_authenticated_at,
	reset_correlation, created_at, updated_at`

// Create inserts a new identity. The ID is generated if empty and the email
// is normalised.
func (r *SQLiteIdentityRepository) Create(ctx context.Context, identity *Identity) error {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.Status == "" {
		identity.Status = StatusActive
	}
	identity.Email = NormalizeEmail(identity.Email)

	now := r.now().UTC()
	identity.CreatedAt = parseTime(formatTime(now))
	identity.UpdatedAt = identity.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, external_id, role_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.Email, nullString(identity.PasswordHash), nullString(identity.ExternalID),
		int64(identity.RoleID), string(identity.Status), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "external_id") {
				return ErrExternalIDExists
			}
			return ErrEmailExists
		}
		return fmt.Errorf("creating identity: %w", err)
	}

	return nil
}

// FindByID retrieves an identity by ID without its password hash.
func (r *SQLiteIdentityRepository) FindByID(ctx context.Context, id string) (*Identity, error) {
	return r.getIdentity(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = ?", id)
}

// FindByEmail retrieves an identity by email (case-insensitive) without its
// password hash.
func (r *SQLiteIdentityRepository) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.getIdentity(ctx, "SELECT "+identityColumns+" FROM identities WHERE email = ?", NormalizeEmail(email))
}

// FindByExternalID retrieves an identity linked to a federated account.
func (r *SQLiteIdentityRepository) FindByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	return r.getIdentity(ctx, "SELECT "+identityColumns+" FROM identities WHERE external_id = ?", externalID)
}

// FindByEmailWithSecret is the only query that loads password_hash. It is
// used by local authentication.
func (r *SQLiteIdentityRepository) FindByEmailWithSecret(ctx context.Context, email string) (*Identity, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var hash sql.NullString
	row := r.db.QueryRowContext(ctx,
		"SELECT "+identityColumns+", password_hash FROM identities WHERE email = ?", NormalizeEmail(email))
	identity, err := scanIdentityFrom(row, &hash)
	if err != nil {
		return nil, err
	}
	identity.PasswordHash = hash.String
	return identity, nil
}

// LinkExternalID backfills the external ID of an identity found by email.
func (r *SQLiteIdentityRepository) LinkExternalID(ctx context.Context, id, externalID string) error {
	return r.update(ctx, "linking external id",
		"UPDATE identities SET external_id = ?, updated_at = ? WHERE id = ?",
		externalID, formatTime(r.now()), id)
}

// UpdatePassword replaces an identity's password hash.
func (r *SQLiteIdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, "updating password",
		"UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, formatTime(r.now()), id)
}

// SetStatus activates or deactivates an identity.
func (r *SQLiteIdentityRepository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.update(ctx, "setting status",
		"UPDATE identities SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(r.now()), id)
}

// TouchLastAuthenticated records a successful login.
func (r *SQLiteIdentityRepository) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "recording login",
		"UPDATE identities SET last_authenticated_at = ? WHERE id = ?",
		formatTime(at), id)
}

// SetResetCorrelation stores the latest reset token, replacing any earlier one.
func (r *SQLiteIdentityRepository) SetResetCorrelation(ctx context.Context, id, token string) error {
	return r.update(ctx, "storing reset correlation",
		"UPDATE identities SET reset_correlation = ?, updated_at = ? WHERE id = ?",
		token, formatTime(r.now()), id)
}

// ConsumeResetCorrelation sets a new password hash and clears the
// correlation in one statement, but only while token is still the stored
// correlation. It reports false when another request consumed or replaced
// the token first.
func (r *SQLiteIdentityRepository) ConsumeResetCorrelation(ctx context.Context, id, token, passwordHash string) (bool, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = ?, reset_correlation = NULL, updated_at = ?
		 WHERE id = ? AND reset_correlation = ?`,
		passwordHash, formatTime(r.now()), id, token,
	)
	if err != nil {
		return false, fmt.Errorf("consuming reset correlation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consuming reset correlation: %w", err)
	}
	return rows == 1, nil
}

// Count returns the total number of identities.
func (r *SQLiteIdentityRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting identities: %w", err)
	}
	return count, nil
}

// update runs a single-row UPDATE and maps zero affected rows to
// ErrIdentityNotFound.
func (r *SQLiteIdentityRepository) update(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "external_id") {
			return ErrExternalIDExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// getIdentity executes a query and scans a single identity result.
func (r *SQLiteIdentityRepository) getIdentity(ctx context.Context, query string, args ...any) (*Identity, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	return scanIdentityFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanIdentityFrom scans the default projection plus any extra columns.
func scanIdentityFrom(s scanner, extra ...any) (*Identity, error) {
	var i Identity
	var externalID, lastAuth, correlation sql.NullString
	var roleID int64
	var status, createdAt, updatedAt string

	dest := append([]any{&i.ID, &i.Email, &externalID, &roleID, &status, &lastAuth,
		&correlation, &createdAt, &updatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("scanning identity: %w", err)
	}

	i.RoleID = RoleID(roleID)
	i.Status = Status(status)
	i.ExternalID = externalID.String
	i.ResetCorrelation = correlation.String
	if lastAuth.Valid {
		t := parseTime(lastAuth.String)
		i.LastAuthenticatedAt = &t
	}
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)

	return &i, nil
}

// Helper functions.

// bound applies the store timeout to ctx. A zero timeout leaves ctx as is.
func bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
