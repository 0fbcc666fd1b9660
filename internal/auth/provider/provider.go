// Package provider defines the contract for federated identity providers
// and the PKCE and state helpers used by the OAuth handlers.
//
// Providers only assert identity facts. Creating or linking identities is
// done by auth.Authenticator.
package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/reportline/reportline-core/internal/auth"
)

// ErrUnknownProvider is returned by Registry.Get for unregistered names.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// Provider is an OAuth 2.0 / OIDC identity provider.
type Provider interface {
	// Name is the path segment used in /auth/oauth/{provider}/...
	Name() string

	// AuthCodeURL returns the provider's authorization URL for the given
	// state and S256 PKCE challenge.
	AuthCodeURL(state, codeChallenge string) string

	// Exchange trades an authorization code for verified identity facts.
	Exchange(ctx context.Context, code, codeVerifier string) (auth.FederatedCredentials, error)
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers providers by name. Later duplicates replace earlier ones.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// randomBytes is the entropy of state values and PKCE verifiers.
const randomBytes = 32

// NewState returns a random URL-safe state value.
func NewState() (string, error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewPKCE returns a random code verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string, err error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating pkce verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, ChallengeS256(verifier), nil
}

// ChallengeS256 derives the PKCE challenge for verifier.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
