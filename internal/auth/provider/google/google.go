// Package google implements federated login with Google over OpenID Connect.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/config"
)

const (
	providerName  = "google"
	defaultIssuer = "https://accounts.google.com"
)

// Provider verifies Google ID tokens obtained with the authorization-code
// flow and PKCE.
type Provider struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

// New discovers the issuer's endpoints and keys. The issuer defaults to
// Google's; tests point it at a local discovery server.
func New(ctx context.Context, cfg config.OIDCProviderConfig) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("initialising google oidc provider: %w", err)
	}

	return &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     oidcProvider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email"},
		},
		verifier: oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Name returns the provider identifier used by the registry.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL builds the authorization URL with S256 PKCE parameters.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades the code for tokens and verifies the ID token.
// The subject becomes the external ID.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (auth.FederatedCredentials, error) {
	token, err := p.oauthConfig.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return auth.FederatedCredentials{}, fmt.Errorf("google token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return auth.FederatedCredentials{}, errors.New("google did not return an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.FederatedCredentials{}, fmt.Errorf("verifying google id_token: %w", err)
	}

	var claims struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return auth.FederatedCredentials{}, fmt.Errorf("parsing google id_token claims: %w", err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return auth.FederatedCredentials{}, errors.New("google id_token missing sub or email")
	}

	return auth.FederatedCredentials{
		Provider:      providerName,
		ExternalID:    claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}
