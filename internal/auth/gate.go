package auth

// RequireRole allows the request when the claims carry one of the allowed
// roles. Nil claims are an authentication failure, not an authorization one.
func RequireRole(claims *AccessClaims, allowed ...RoleID) error {
	if claims == nil {
		return authenticationError(ReasonMissing)
	}
	for _, r := range allowed {
		if claims.RoleID == r {
			return nil
		}
	}
	return authorizationError(ReasonInsufficientRole)
}
