package auth

import (
	"context"
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// Issuer mints access tokens and server-tracked renewal tokens, and runs
// the rotation protocol.
type Issuer struct {
	signer              *Signer
	store               RenewalStore
	identities          IdentityRepository
	renewalTTL          time.Duration
	revokeChainOnReplay bool
	logger              *logging.Logger
	now                 func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(signer *Signer, store RenewalStore, identities IdentityRepository, o Options, logger *logging.Logger) *Issuer {
	return &Issuer{
		signer:              signer,
		store:               store,
		identities:          identities,
		renewalTTL:          o.RenewalTTL,
		revokeChainOnReplay: o.RevokeChainOnReplay,
		logger:              logger.With("component", "issuer"),
		now:                 time.Now,
	}
}

// RenewalTTL returns the lifetime given to new renewal tokens.
func (i *Issuer) RenewalTTL() time.Duration {
	return i.renewalTTL
}

// IssueAccessToken signs an access token for identity. It has no side effects.
func (i *Issuer) IssueAccessToken(identity *Identity) (string, error) {
	token, _, err := i.signer.SignAccess(identity)
	if err != nil {
		return "", &Error{Kind: KindPersistence, Reason: ReasonInternal, Err: err}
	}
	return token, nil
}

// IssueRenewalToken stores a new renewal token for identityID and returns it
// once the row is committed.
func (i *Issuer) IssueRenewalToken(ctx context.Context, identityID string) (string, error) {
	token, err := i.store.Create(ctx, identityID, i.now().Add(i.renewalTTL))
	if err != nil {
		return "", persistenceError("issuing renewal token", err)
	}
	return token, nil
}

// IssuePair signs an access token, then persists a renewal token. If the
// renewal token cannot be stored no pair is returned.
func (i *Issuer) IssuePair(ctx context.Context, identity *Identity) (*TokenPair, error) {
	access, claims, err := i.signer.SignAccess(identity)
	if err != nil {
		return nil, &Error{Kind: KindPersistence, Reason: ReasonInternal, Err: err}
	}

	expiresAt := i.now().Add(i.renewalTTL)
	renewal, err := i.store.Create(ctx, identity.ID, expiresAt)
	if err != nil {
		return nil, persistenceError("issuing renewal token", err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RenewalToken:     renewal,
		RenewalExpiresAt: expiresAt,
	}, nil
}
