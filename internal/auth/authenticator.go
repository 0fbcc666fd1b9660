package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// Method names an authentication entry point.
type Method string

const (
	MethodLocal     Method = "local"
	MethodFederated Method = "federated"
	MethodReset     Method = "reset"
)

// Credentials is the closed set of inputs accepted by Authenticate.
// Only the types in this package implement it.
type Credentials interface {
	Method() Method
	credentials()
}

// LocalCredentials is an email and password pair.
type LocalCredentials struct {
	Email    string
	Password string
}

// FederatedCredentials is an identity asserted by an external provider.
// ExternalID must be stable for the provider; Email must be verified.
type FederatedCredentials struct {
	Provider      string
	ExternalID    string
	Email         string
	EmailVerified bool
}

// ResetCredentials consumes a password-reset token.
type ResetCredentials struct {
	Token       string
	NewPassword string
}

func (LocalCredentials) Method() Method     { return MethodLocal }
func (FederatedCredentials) Method() Method { return MethodFederated }
func (ResetCredentials) Method() Method     { return MethodReset }

func (LocalCredentials) credentials()     {}
func (FederatedCredentials) credentials() {}
func (ResetCredentials) credentials()     {}

// key namespaces the external ID by provider so two providers cannot
// collide on the same subject.
func (c FederatedCredentials) key() string {
	if c.Provider == "" {
		return c.ExternalID
	}
	return c.Provider + ":" + c.ExternalID
}

// Authenticator resolves credentials to an identity. It never issues tokens.
type Authenticator struct {
	identities  IdentityRepository
	reset       *ResetFlow
	defaultRole RoleID
	logger      *logging.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(identities IdentityRepository, reset *ResetFlow, o Options, logger *logging.Logger) *Authenticator {
	return &Authenticator{
		identities:  identities,
		reset:       reset,
		defaultRole: o.DefaultRoleID,
		logger:      logger.With("component", "authenticator"),
	}
}

// Authenticate dispatches on the credential type. Failures are *Error.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	switch c := creds.(type) {
	case LocalCredentials:
		return a.local(ctx, c)
	case FederatedCredentials:
		return a.federated(ctx, c)
	case ResetCredentials:
		return a.reset.Consume(ctx, c.Token, c.NewPassword)
	default:
		return nil, validationError(ReasonUnsupportedMethod)
	}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming spends roughly the cost of one password verification so
// unknown emails are not distinguishable by response time.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("reportline-timing-equalizer") //nolint:errcheck // empty hash just skips the work
	})
	if dummyHash != "" {
		_, _ = VerifyPassword(password, dummyHash) //nolint:errcheck // result is discarded
	}
}

func (a *Authenticator) local(ctx context.Context, c LocalCredentials) (*Identity, error) {
	email := NormalizeEmail(c.Email)
	if email == "" || c.Password == "" {
		return nil, authenticationError(ReasonInvalidCredentials)
	}

	identity, err := a.identities.FindByEmailWithSecret(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			equalizeTiming(c.Password)
			return nil, authenticationError(ReasonInvalidCredentials)
		}
		return nil, persistenceError("finding identity", err)
	}

	if identity.PasswordHash == "" {
		return nil, authenticationError(ReasonPasswordRequired)
	}

	ok, err := VerifyPassword(c.Password, identity.PasswordHash)
	if err != nil {
		a.logger.WithContext(ctx).Error("verifying stored password hash",
			"identity_id", identity.ID, "error", err)
		return nil, authenticationError(ReasonInvalidCredentials)
	}
	if !ok {
		return nil, authenticationError(ReasonInvalidCredentials)
	}

	if !identity.Active() {
		return nil, authenticationError(ReasonAccountInactive)
	}

	if NeedsRehash(identity.PasswordHash) {
		a.upgradeHash(ctx, identity.ID, c.Password)
	}

	identity.PasswordHash = ""
	return identity, nil
}

// upgradeHash re-hashes a legacy or outdated hash with the current
// parameters. Failure does not block the login.
func (a *Authenticator) upgradeHash(ctx context.Context, id, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = a.identities.UpdatePassword(ctx, id, hash)
	}
	if err != nil {
		a.logger.WithContext(ctx).Warn("upgrading password hash", "identity_id", id, "error", err)
		return
	}
	a.logger.WithContext(ctx).Info("password hash upgraded", "identity_id", id)
}

func (a *Authenticator) federated(ctx context.Context, c FederatedCredentials) (*Identity, error) {
	if c.ExternalID == "" {
		return nil, authenticationError(ReasonInvalidCredentials)
	}
	email := NormalizeEmail(c.Email)
	if !c.EmailVerified || !IsValidEmail(email) {
		return nil, authenticationError(ReasonEmailUnverified)
	}

	identity, err := a.findOrCreateFederated(ctx, c.key(), email)
	if errors.Is(err, ErrEmailExists) || errors.Is(err, ErrExternalIDExists) {
		// A concurrent sign-up created the row first.
		identity, err = a.findOrCreateFederated(ctx, c.key(), email)
	}
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, persistenceError("resolving federated identity", err)
	}

	if !identity.Active() {
		return nil, authenticationError(ReasonAccountInactive)
	}
	return identity, nil
}

func (a *Authenticator) findOrCreateFederated(ctx context.Context, externalID, email string) (*Identity, error) {
	identity, err := a.identities.FindByExternalID(ctx, externalID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, err
	}

	identity, err = a.identities.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if identity.ExternalID != "" && identity.ExternalID != externalID {
			a.logger.WithContext(ctx).Warn("federated login for email linked to another account",
				"identity_id", identity.ID)
			return nil, authenticationError(ReasonInvalidCredentials)
		}
		if identity.ExternalID == "" {
			if err := a.identities.LinkExternalID(ctx, identity.ID, externalID); err != nil {
				return nil, err
			}
			identity.ExternalID = externalID
			a.logger.WithContext(ctx).Info("linked federated account", "identity_id", identity.ID)
		}
		return identity, nil
	case errors.Is(err, ErrIdentityNotFound):
	default:
		return nil, err
	}

	identity = &Identity{
		Email:      email,
		ExternalID: externalID,
		RoleID:     a.defaultRole,
		Status:     StatusActive,
	}
	if err := a.identities.Create(ctx, identity); err != nil {
		return nil, err
	}
	a.logger.WithContext(ctx).Info("created federated identity",
		"identity_id", identity.ID, "role", identity.RoleID.String())
	return identity, nil
}
