package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audiences keep access and reset tokens from being accepted in place of
// each other even though both are signed with the same secret.
const (
	audienceAccess = "reportline-access"
	audienceReset  = "reportline-password-reset"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	IdentityID string `json:"id"`
	Email      string `json:"email"`
	RoleID     RoleID `json:"roleId"`
	jwt.RegisteredClaims
}

// resetClaims is the payload of a password-reset token. It deliberately has
// no exp claim; age is checked against iat by the reset flow.
type resetClaims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Signer creates and verifies HS256 tokens with a single injected secret.
// Verification never touches storage.
type Signer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewSigner creates a Signer. The secret must be non-empty.
func NewSigner(secret string, accessTTL time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signer secret is required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	return &Signer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Signer) AccessTTL() time.Duration {
	return s.accessTTL
}

// SignAccess issues an access token for identity.
func (s *Signer) SignAccess(identity *Identity) (string, *AccessClaims, error) {
	now := s.now()
	claims := &AccessClaims{
		IdentityID: identity.ID,
		Email:      identity.Email,
		RoleID:     identity.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing access token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, audience and expiry of an access token.
// Failures are *Error values with reason token_expired or invalid_signature.
func (s *Signer) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceAccess),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &Error{Kind: KindAuthentication, Reason: ReasonTokenExpired, Err: err}
		}
		return nil, &Error{Kind: KindAuthentication, Reason: ReasonInvalidSignature, Err: err}
	}

	if claims.IdentityID == "" || claims.Subject != claims.IdentityID {
		return nil, &Error{Kind: KindAuthentication, Reason: ReasonInvalidSignature,
			Err: errors.New("missing or inconsistent subject")}
	}

	return claims, nil
}

// SignReset issues a password-reset token carrying the base64url-encoded
// identity ID and the issuance time. A random jti keeps two tokens issued
// in the same second distinct.
func (s *Signer) SignReset(identityID string) (string, time.Time, error) {
	now := s.now()
	claims := &resetClaims{
		UID: base64.RawURLEncoding.EncodeToString([]byte(identityID)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Audience: jwt.ClaimStrings{audienceReset},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing reset token: %w", err)
	}
	return signed, claims.IssuedAt.Time, nil
}

// ParseReset verifies a reset token's signature and returns the identity
// ID and issuance time. It does not check age.
func (s *Signer) ParseReset(token string) (identityID string, issuedAt time.Time, err error) {
	claims := &resetClaims{}
	_, err = jwt.ParseWithClaims(token, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceReset),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", time.Time{}, &Error{Kind: KindValidation, Reason: ReasonInvalidToken, Err: err}
	}

	raw, err := base64.RawURLEncoding.DecodeString(claims.UID)
	if err != nil || len(raw) == 0 || claims.IssuedAt == nil {
		return "", time.Time{}, &Error{Kind: KindValidation, Reason: ReasonInvalidToken,
			Err: errors.New("reset token missing uid or iat")}
	}

	return string(raw), claims.IssuedAt.Time, nil
}

func (s *Signer) keyFunc(_ *jwt.Token) (any, error) {
	return s.secret, nil
}
