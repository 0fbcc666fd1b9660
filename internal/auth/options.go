package auth

import (
	"time"

	"github.com/reportline/reportline-core/internal/infrastructure/config"
)

// Options are the tunables shared by the auth components.
type Options struct {
	// RenewalTTL is the lifetime of a renewal token.
	RenewalTTL time.Duration

	// ResetTTL is the maximum age of a password-reset token, measured from
	// its iat claim.
	ResetTTL time.Duration

	// DefaultRoleID is given to identities created by federated sign-up.
	DefaultRoleID RoleID

	// ResetLinkBase is the front-end URL that receives ?token=... in reset mails.
	ResetLinkBase string

	// RevokeChainOnReplay revokes all successors of a renewal token that is
	// presented again after it was rotated.
	RevokeChainOnReplay bool

	// ConcealUnknownEmail makes reset requests for unknown emails succeed
	// silently instead of failing with user_not_found.
	ConcealUnknownEmail bool
}

// OptionsFromConfig maps the auth section of the configuration.
func OptionsFromConfig(cfg config.AuthConfig) Options {
	return Options{
		RenewalTTL:          cfg.RenewalTokenTTL,
		ResetTTL:            cfg.Reset.TokenTTL,
		DefaultRoleID:       RoleID(cfg.DefaultRoleID),
		ResetLinkBase:       cfg.Reset.LinkBaseURL,
		RevokeChainOnReplay: cfg.RevokeChainOnReplay,
		ConcealUnknownEmail: cfg.Reset.ConcealUnknownEmail,
	}
}
