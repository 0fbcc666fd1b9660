package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies an *Error for transport mapping.
type Kind int

const (
	// KindAuthentication means the caller could not be identified (401).
	KindAuthentication Kind = iota + 1
	// KindAuthorization means the caller is known but not allowed (403).
	KindAuthorization
	// KindValidation covers reset-token and input failures (404/422).
	KindValidation
	// KindPersistence wraps store failures (500, or 503 when transient).
	KindPersistence
	// KindThrottled means a rate limit was hit (429).
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Machine-readable failure reasons. These strings are part of the HTTP
// contract and appear as the "message" field of error responses.
const (
	ReasonMissing            = "missing"
	ReasonMalformed          = "malformed"
	ReasonTokenExpired       = "token_expired"
	ReasonInvalidSignature   = "invalid_signature"
	ReasonInvalidToken       = "invalid_token"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonPasswordRequired   = "password_required"
	ReasonAccountInactive    = "account_inactive"
	ReasonEmailUnverified    = "email_unverified"
	ReasonInsufficientRole   = "insufficient_role"
	ReasonTokenMismatch      = "token_mismatch"
	ReasonUserNotFound       = "user_not_found"
	ReasonInvalidInput       = "invalid_input"
	ReasonUnsupportedMethod  = "unsupported_method"
	ReasonInternal           = "internal_error"
	ReasonUnavailable        = "temporarily_unavailable"
	ReasonTooManyRequests    = "too_many_requests"
)

// Error is the single failure type returned by the auth components.
type Error struct {
	Kind   Kind
	Reason string

	// Transient marks persistence failures that a client may retry.
	Transient bool

	// Err is the underlying cause. It is logged, never sent to clients
	// unless api.expose_errors is set.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and reason, so callers can write
// errors.Is(err, &auth.Error{Kind: auth.KindAuthentication, Reason: auth.ReasonTokenExpired}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// Expired reports whether the failure is an expired access token.
func (e *Error) Expired() bool {
	return e.Reason == ReasonTokenExpired
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason string) bool {
	ae, ok := AsError(err)
	return ok && ae.Reason == reason
}

func authenticationError(reason string) *Error {
	return &Error{Kind: KindAuthentication, Reason: reason}
}

func authorizationError(reason string) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason}
}

func validationError(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

// persistenceError wraps a store failure. Deadline expiry and SQLite lock
// contention are transient.
func persistenceError(op string, err error) *Error {
	if ae, ok := AsError(err); ok {
		return ae
	}
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTransient(err) {
		return &Error{Kind: KindPersistence, Reason: ReasonUnavailable, Transient: true, Err: wrapped}
	}
	return &Error{Kind: KindPersistence, Reason: ReasonInternal, Err: wrapped}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
