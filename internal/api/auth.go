package api

import (
	"encoding/json"
	"net/http"

	"github.com/reportline/reportline-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// emailRequest is the request body for POST /auth/forgot-password.
type emailRequest struct {
	Email string `json:"email"`
}

// resetRequest is the request body for the reset-token endpoints.
type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
}

// userResponse is the public view of an identity.
type userResponse struct {
	ID     string      `json:"id"`
	Email  string      `json:"email"`
	RoleID auth.RoleID `json:"roleId"`
	Role   string      `json:"role"`
}

func userFromIdentity(i *auth.Identity) userResponse {
	return userResponse{ID: i.ID, Email: i.Email, RoleID: i.RoleID, Role: i.RoleID.String()}
}

func userFromClaims(c *auth.AccessClaims) userResponse {
	return userResponse{ID: c.IdentityID, Email: c.Email, RoleID: c.RoleID, Role: c.RoleID.String()}
}

// decodeJSON reads a JSON body into v. It writes a 400 and returns false
// when the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w)
		return false
	}
	return true
}

// handleLogin authenticates an email and password and issues one token
// pair: the access token in the body and the renewal token as a cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.service.Login(r.Context(), auth.LocalCredentials{Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRenewalCookie(w, res.Pair.RenewalToken, s.service.RenewalTTL())
	writeOK(w, map[string]any{
		"token": res.Pair.AccessToken,
		"user":  userFromIdentity(res.Identity),
	})
}

// handleRefresh rotates the renewal token from the cookie. Any
// authentication failure clears the cookie; a transient store failure
// leaves it so the client can retry.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Refresh(r.Context(), s.renewalCookie(r))
	if err != nil {
		if ae, ok := auth.AsError(err); !ok || ae.Kind != auth.KindPersistence {
			s.clearRenewalCookie(w)
		}
		s.writeAuthError(w, r, err)
		return
	}

	s.setRenewalCookie(w, res.Pair.RenewalToken, s.service.RenewalTTL())
	writeOK(w, map[string]any{
		"token":        res.Pair.AccessToken,
		"refreshToken": res.Pair.RenewalToken,
	})
}

// handleVerify returns the identity carried by a valid access token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	writeOK(w, map[string]any{"user": userFromClaims(claims)})
}

// handleLogout revokes the presented renewal token, if any, and always
// clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	err := s.service.Logout(r.Context(), s.renewalCookie(r))
	s.clearRenewalCookie(w)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, nil)
}

// handleForgotPassword starts the reset flow. The reset link is handed to
// the mailer, never returned to the caller.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := s.service.RequestReset(r.Context(), req.Email, clientIP(r)); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, nil)
}

// handleVerifyResetToken checks a reset token without consuming it, so the
// front end can show the form only for live links.
func (s *Server) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity, err := s.service.ValidateReset(r.Context(), req.Token)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"email": identity.Email})
}

// handleResetPassword consumes a reset token and sets the new password.
// The caller is not signed in; it logs in with the new password.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := s.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, nil)
}
