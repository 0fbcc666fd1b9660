package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// ResetRequest is handed to the ResetNotifier when a reset is requested.
type ResetRequest struct {
	IdentityID  string    `json:"identity_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	ResetURL    string    `json:"reset_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ResetNotifier delivers a reset link to the identity's owner. Mail
// transport itself lives outside this service.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, req ResetRequest) error
}

// ResetFlow issues, validates and consumes password-reset tokens.
//
// A reset token is a signed {uid, iat} JWT without exp. It is valid while
// it is younger than the configured TTL and equals the identity's stored
// correlation value. Consumption clears the correlation, so each token
// works at most once, and a newer request supersedes older tokens.
type ResetFlow struct {
	signer     *Signer
	identities IdentityRepository
	renewals   RenewalStore
	notifier   ResetNotifier
	ttl        time.Duration
	linkBase   string
	conceal    bool
	logger     *logging.Logger
	now        func() time.Time
}

// NewResetFlow creates a ResetFlow.
func NewResetFlow(signer *Signer, identities IdentityRepository, renewals RenewalStore, notifier ResetNotifier, o Options, logger *logging.Logger) *ResetFlow {
	return &ResetFlow{
		signer:     signer,
		identities: identities,
		renewals:   renewals,
		notifier:   notifier,
		ttl:        o.ResetTTL,
		linkBase:   o.ResetLinkBase,
		conceal:    o.ConcealUnknownEmail,
		logger:     logger.With("component", "reset"),
		now:        time.Now,
	}
}

// RequestReset issues a reset token for email, stores it as the identity's
// correlation value and hands it to the notifier.
//
// Unknown emails fail with user_not_found unless concealment is enabled,
// in which case (nil, nil) is returned.
func (f *ResetFlow) RequestReset(ctx context.Context, email string) (*ResetRequest, error) {
	email = NormalizeEmail(email)
	if email == "" || !IsValidEmail(email) {
		return nil, validationError(ReasonInvalidInput)
	}

	identity, err := f.identities.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			if f.conceal {
				f.logger.WithContext(ctx).Info("password reset requested for unknown email")
				return nil, nil
			}
			return nil, validationError(ReasonUserNotFound)
		}
		return nil, persistenceError("finding identity", err)
	}

	token, issuedAt, err := f.signer.SignReset(identity.ID)
	if err != nil {
		return nil, &Error{Kind: KindPersistence, Reason: ReasonInternal, Err: err}
	}

	if err := f.identities.SetResetCorrelation(ctx, identity.ID, token); err != nil {
		return nil, persistenceError("storing reset correlation", err)
	}

	req := ResetRequest{
		IdentityID:  identity.ID,
		Email:       identity.Email,
		Token:       token,
		ResetURL:    f.resetURL(token),
		RequestedAt: issuedAt,
	}

	if err := f.notifier.NotifyPasswordReset(ctx, req); err != nil {
		return nil, &Error{Kind: KindPersistence, Reason: ReasonUnavailable, Transient: true, Err: err}
	}

	f.logger.WithContext(ctx).Info("password reset requested", "identity_id", identity.ID)
	return &req, nil
}

// Validate checks a reset token without consuming it.
func (f *ResetFlow) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, validationError(ReasonInvalidToken)
	}

	identityID, issuedAt, err := f.signer.ParseReset(token)
	if err != nil {
		return nil, err
	}

	identity, err := f.identities.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, validationError(ReasonUserNotFound)
		}
		return nil, persistenceError("finding identity", err)
	}

	if f.now().Sub(issuedAt) > f.ttl {
		return nil, validationError(ReasonTokenExpired)
	}

	if identity.ResetCorrelation == "" ||
		subtle.ConstantTimeCompare([]byte(identity.ResetCorrelation), []byte(token)) != 1 {
		return nil, validationError(ReasonTokenMismatch)
	}

	return identity, nil
}

// Consume validates token, sets newPassword and clears the correlation.
// A second call with the same token fails with token_mismatch. All renewal
// tokens of the identity are revoked afterwards.
func (f *ResetFlow) Consume(ctx context.Context, token, newPassword string) (*Identity, error) {
	if newPassword == "" {
		return nil, validationError(ReasonPasswordRequired)
	}

	identity, err := f.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return nil, &Error{Kind: KindPersistence, Reason: ReasonInternal, Err: err}
	}

	ok, err := f.identities.ConsumeResetCorrelation(ctx, identity.ID, token, hash)
	if err != nil {
		return nil, persistenceError("consuming reset token", err)
	}
	if !ok {
		return nil, validationError(ReasonTokenMismatch)
	}
	identity.ResetCorrelation = ""

	n, err := f.renewals.RevokeAllForIdentity(ctx, identity.ID)
	if err != nil {
		f.logger.WithContext(ctx).Error("revoking sessions after password reset",
			"identity_id", identity.ID, "error", err)
	} else {
		f.logger.WithContext(ctx).Info("password reset completed",
			"identity_id", identity.ID, "sessions_revoked", n)
	}

	return identity, nil
}

func (f *ResetFlow) resetURL(token string) string {
	if f.linkBase == "" {
		return ""
	}
	u, err := url.Parse(f.linkBase)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
