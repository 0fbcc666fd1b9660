package api

import (
	"net/http"
	"strings"
	"time"
)

// OAuth round-trip cookies. They live only for the redirect to the
// provider and back.
const (
	stateCookieName = "__oauth_state"
	pkceCookieName  = "__oauth_pkce"
	oauthCookieTTL  = 5 * time.Minute
	oauthCookiePath = "/auth/oauth/"
)

// sameSite maps the configured policy name.
func sameSite(policy string) http.SameSite {
	switch strings.ToLower(policy) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// setRenewalCookie stores the renewal token. The access token is never
// put in a cookie.
func (s *Server) setRenewalCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	c := s.authCfg.Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite(c.SameSite),
	})
}

// clearRenewalCookie expires the renewal-token cookie.
func (s *Server) clearRenewalCookie(w http.ResponseWriter) {
	c := s.authCfg.Cookie
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite(c.SameSite),
	})
}

// renewalCookie returns the presented renewal token, or "".
func (s *Server) renewalCookie(r *http.Request) string {
	c, err := r.Cookie(s.authCfg.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// setOAuthCookie stores a short-lived OAuth round-trip value. SameSite is
// always Lax: the provider's redirect back is a top-level cross-site GET.
func (s *Server) setOAuthCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.authCfg.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearOAuthCookie expires an OAuth round-trip cookie.
func (s *Server) clearOAuthCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     oauthCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.authCfg.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
