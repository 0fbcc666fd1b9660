package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/auth/provider"
)

// reasonInvalidState is sent to the failure redirect when the state or
// PKCE cookies do not match the callback.
const reasonInvalidState = "invalid_state"

// handleOAuthLogin redirects to the provider with a fresh state and S256
// PKCE challenge, keeping state and verifier in short-lived cookies.
func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	p, err := s.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "unknown_provider"})
		return
	}

	state, err := provider.NewState()
	if err != nil {
		s.logger.Error("generating oauth state", "error", err)
		writeInternalError(w)
		return
	}
	verifier, challenge, err := provider.NewPKCE()
	if err != nil {
		s.logger.Error("generating pkce verifier", "error", err)
		writeInternalError(w)
		return
	}

	s.setOAuthCookie(w, stateCookieName, state)
	s.setOAuthCookie(w, pkceCookieName, verifier)
	http.Redirect(w, r, p.AuthCodeURL(state, challenge), http.StatusFound)
}

// handleOAuthCallback completes a federated login. Success sets the renewal
// cookie and redirects to the front end, which then calls
// /auth/refresh-token for its first access token. Failures redirect to the
// failure page with ?error=<reason>.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := s.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "unknown_provider"})
		return
	}

	verifier, ok := s.consumeOAuthCookies(w, r)
	if !ok {
		s.oauthFailure(w, r, reasonInvalidState)
		return
	}

	if e := r.URL.Query().Get("error"); e != "" {
		s.logger.Info("oauth provider returned an error", "provider", p.Name(), "error", e)
		s.oauthFailure(w, r, auth.ReasonInvalidCredentials)
		return
	}

	creds, err := p.Exchange(r.Context(), r.URL.Query().Get("code"), verifier)
	if err != nil {
		s.logger.WithContext(r.Context()).Warn("oauth code exchange failed", "provider", p.Name(), "error", err)
		reason := auth.ReasonInvalidCredentials
		if ae, ok := auth.AsError(err); ok {
			reason = ae.Reason
		}
		s.oauthFailure(w, r, reason)
		return
	}

	res, err := s.service.Login(r.Context(), creds)
	if err != nil {
		reason := auth.ReasonInternal
		if ae, ok := auth.AsError(err); ok {
			reason = ae.Reason
		}
		s.oauthFailure(w, r, reason)
		return
	}

	s.setRenewalCookie(w, res.Pair.RenewalToken, s.service.RenewalTTL())
	http.Redirect(w, r, s.authCfg.OAuth.SuccessRedirect, http.StatusFound)
}

// consumeOAuthCookies checks the state query against its cookie, returns
// the PKCE verifier and expires both cookies.
func (s *Server) consumeOAuthCookies(w http.ResponseWriter, r *http.Request) (string, bool) {
	defer s.clearOAuthCookie(w, stateCookieName)
	defer s.clearOAuthCookie(w, pkceCookieName)

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || state == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(stateCookie.Value)) != 1 {
		return "", false
	}

	pkce, err := r.Cookie(pkceCookieName)
	if err != nil || pkce.Value == "" {
		return "", false
	}
	return pkce.Value, true
}

// oauthFailure redirects to the configured failure page.
func (s *Server) oauthFailure(w http.ResponseWriter, r *http.Request, reason string) {
	target, err := url.Parse(s.authCfg.OAuth.FailureRedirect)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: reason})
		return
	}
	q := target.Query()
	q.Set("error", reason)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
