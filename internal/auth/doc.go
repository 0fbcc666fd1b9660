// Package auth authenticates Reportline users and manages their credentials.
//
// Two kinds of credential are issued on login:
//   - a short-lived HS256 access token, verified statelessly by Signer
//   - an opaque renewal token whose SHA-256 hash lives in renewal_tokens
//
// A renewal token is single-use. Issuer.Rotate exchanges it for a new pair
// in one transaction and records the successor, so two concurrent
// rotations of the same token can never both succeed.
//
// Entry points are a closed set of Credentials types dispatched by
// Authenticator.Authenticate. Password resets use a separate signed token
// bound to the identity's reset correlation value (see ResetFlow).
//
// Every failure crossing the package boundary is an *Error whose Kind
// determines the HTTP status and whose Reason is sent to clients.
package auth
