package auth

import "context"

type claimsKey struct{}

// ContextWithClaims returns a copy of ctx carrying verified access claims.
func ContextWithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims attached by the verification
// middleware, or nil.
func ClaimsFromContext(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(claimsKey{}).(*AccessClaims)
	return claims
}
