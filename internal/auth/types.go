package auth

import (
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// RoleID identifies a row in the roles table.
type RoleID int64

// Seeded roles. Additional roles may exist in the table; the gate only
// compares IDs.
const (
	RoleAdmin   RoleID = 1
	RoleAnalyst RoleID = 2
	RoleViewer  RoleID = 3
)

// String returns the seeded role name, or "role-<id>" for unknown IDs.
func (r RoleID) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleAnalyst:
		return "analyst"
	case RoleViewer:
		return "viewer"
	default:
		return "role-" + strconv.FormatInt(int64(r), 10)
	}
}

// ParseRole resolves a role name or numeric ID.
func ParseRole(s string) (RoleID, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "1":
		return RoleAdmin, true
	case "analyst", "2":
		return RoleAnalyst, true
	case "viewer", "3":
		return RoleViewer, true
	}
	return 0, false
}

// Status is the account state of an identity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Identity is an account that can authenticate.
//
// PasswordHash is only populated by FindByEmailWithSecret. ResetCorrelation
// holds the most recently issued, unconsumed password-reset token.
type Identity struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	ExternalID          string     `json:"-"`
	RoleID              RoleID     `json:"roleId"`
	Status              Status     `json:"status"`
	LastAuthenticatedAt *time.Time `json:"lastAuthenticatedAt,omitempty"`
	ResetCorrelation    string     `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Active reports whether the identity may sign in.
func (i *Identity) Active() bool {
	return i.Status == StatusActive
}

// RenewalToken is the stored form of an opaque renewal token. The raw token
// is never persisted; only its SHA-256 hash.
type RenewalToken struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identityId"`
	TokenHash   string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Revoked     bool      `json:"revoked"`
	SuccessorID string    `json:"successorId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Usable reports whether the token may still be exchanged at now.
func (t *RenewalToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenPair is the result of a successful login or rotation.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RenewalToken     string
	RenewalExpiresAt time.Time
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail reports whether s parses as a single bare address.
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Sentinel errors returned by the stores. Callers above the store layer
// translate them into *Error values.
var (
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrEmailExists          = errors.New("email already registered")
	ErrExternalIDExists     = errors.New("external id already linked")
	ErrRenewalTokenNotFound = errors.New("renewal token not found")
	ErrTokenCollision       = errors.New("renewal token collision")
)

// timeLayout is a fixed-width UTC layout so stored timestamps compare
// correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // format is controlled
	return t
}
