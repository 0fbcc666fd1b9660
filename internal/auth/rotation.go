package auth

import (
	"context"
	"errors"
)

// RotationState is the progress of one renewal-token exchange.
type RotationState int

const (
	// RotationPresented: a token was received and nothing is known yet.
	RotationPresented RotationState = iota
	// RotationValidated: the token is stored, unrevoked, unexpired and its
	// identity is active.
	RotationValidated
	// RotationRotated: the presented token is revoked and a successor issued.
	RotationRotated
	// RotationRejected: terminal failure; no tokens were issued.
	RotationRejected
)

func (s RotationState) String() string {
	switch s {
	case RotationPresented:
		return "presented"
	case RotationValidated:
		return "validated"
	case RotationRotated:
		return "rotated"
	case RotationRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RotationResult reports the final state of Rotate. Identity and Pair are
// set only when State is RotationRotated.
type RotationResult struct {
	State    RotationState
	Identity *Identity
	Pair     *TokenPair
}

// Rotate exchanges a renewal token for a new access/renewal pair. The
// presented token can be exchanged at most once: of two concurrent calls
// with the same token exactly one succeeds.
//
// The result is never nil. On failure its State is RotationRejected and the
// error is an *Error.
func (i *Issuer) Rotate(ctx context.Context, presented string) (*RotationResult, error) {
	res := &RotationResult{State: RotationPresented}
	reject := func(err *Error) (*RotationResult, error) {
		res.State = RotationRejected
		return res, err
	}

	if presented == "" {
		return reject(authenticationError(ReasonMissing))
	}

	stored, err := i.store.FindValid(ctx, presented)
	if err != nil {
		if errors.Is(err, ErrRenewalTokenNotFound) {
			i.handleReplay(ctx, presented)
			return reject(authenticationError(ReasonInvalidToken))
		}
		return reject(persistenceError("finding renewal token", err))
	}

	identity, err := i.identities.FindByID(ctx, stored.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return reject(authenticationError(ReasonInvalidToken))
		}
		return reject(persistenceError("loading identity", err))
	}
	if !identity.Active() {
		return reject(authenticationError(ReasonAccountInactive))
	}
	res.State = RotationValidated

	access, claims, err := i.signer.SignAccess(identity)
	if err != nil {
		return reject(&Error{Kind: KindPersistence, Reason: ReasonInternal, Err: err})
	}

	expiresAt := i.now().Add(i.renewalTTL)
	next, err := i.store.Rotate(ctx, presented, identity.ID, expiresAt)
	if err != nil {
		if errors.Is(err, ErrRenewalTokenNotFound) {
			// Lost a race with another rotation of the same token, or it
			// expired between the two reads.
			return reject(authenticationError(ReasonInvalidToken))
		}
		return reject(persistenceError("rotating renewal token", err))
	}

	res.State = RotationRotated
	res.Identity = identity
	res.Pair = &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RenewalToken:     next,
		RenewalExpiresAt: expiresAt,
	}
	return res, nil
}

// Revoke invalidates a renewal token on logout. Unknown or already revoked
// tokens are not an error.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := i.store.Revoke(ctx, token, ""); err != nil && !errors.Is(err, ErrRenewalTokenNotFound) {
		return persistenceError("revoking renewal token", err)
	}
	return nil
}

// handleReplay revokes the successor chain of a token that was already
// rotated, when chain revocation is enabled. Failures are logged only: the
// request is rejected either way.
func (i *Issuer) handleReplay(ctx context.Context, presented string) {
	if !i.revokeChainOnReplay {
		return
	}

	stored, err := i.store.Lookup(ctx, presented)
	if err != nil || !stored.Revoked || stored.SuccessorID == "" {
		return
	}

	n, err := i.store.RevokeChain(ctx, stored.ID)
	if err != nil {
		i.logger.WithContext(ctx).Error("revoking renewal chain after replay",
			"identity_id", stored.IdentityID, "error", err)
		return
	}
	i.logger.WithContext(ctx).Warn("renewal token replay detected, chain revoked",
		"identity_id", stored.IdentityID, "token_id", stored.ID, "revoked", n)
}
