package api

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/auth/provider"
)

// fakeProvider accepts the code "good" and asserts creds for it.
type fakeProvider struct {
	creds       auth.FederatedCredentials
	err         error
	gotVerifier string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) AuthCodeURL(state, challenge string) string {
	q := url.Values{"state": {state}, "code_challenge": {challenge}, "code_challenge_method": {"S256"}}
	return "https://idp.example/authorize?" + q.Encode()
}

func (f *fakeProvider) Exchange(_ context.Context, code, verifier string) (auth.FederatedCredentials, error) {
	f.gotVerifier = verifier
	if f.err != nil {
		return auth.FederatedCredentials{}, f.err
	}
	if code != "good" {
		return auth.FederatedCredentials{}, &auth.Error{Kind: auth.KindAuthentication, Reason: auth.ReasonInvalidCredentials}
	}
	return f.creds, nil
}

// startOAuth runs the login redirect and returns the state plus both
// round-trip cookies.
func startOAuth(t *testing.T, env *testEnv) (string, []*http.Cookie) {
	t.Helper()

	w := env.do(t, http.MethodGet, "/auth/oauth/fake/login", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", w.Code)
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing Location: %v", err)
	}
	if loc.Host != "idp.example" {
		t.Errorf("redirect host = %q", loc.Host)
	}

	state := responseCookie(w, stateCookieName)
	pkce := responseCookie(w, pkceCookieName)
	if state == nil || pkce == nil {
		t.Fatal("login should set state and pkce cookies")
	}
	if state.Path != oauthCookiePath || !state.HttpOnly {
		t.Errorf("state cookie = %+v", state)
	}
	if loc.Query().Get("state") != state.Value {
		t.Error("redirect state does not match the state cookie")
	}
	if loc.Query().Get("code_challenge") != provider.ChallengeS256(pkce.Value) {
		t.Error("redirect challenge is not S256 of the pkce cookie")
	}

	return state.Value, []*http.Cookie{state, pkce}
}

func callback(t *testing.T, env *testEnv, query url.Values, cookies []*http.Cookie) *http.Response {
	t.Helper()

	mods := make([]func(*http.Request), 0, len(cookies))
	for _, c := range cookies {
		mods = append(mods, withCookie(c))
	}
	w := env.do(t, http.MethodGet, "/auth/oauth/fake/callback?"+query.Encode(), nil, mods...)
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302 (body %s)", w.Code, w.Body.String())
	}
	return w.Result()
}

func TestOAuth_Success(t *testing.T) {
	env := newTestEnv(t)
	env.provider.creds = auth.FederatedCredentials{
		Provider:      "fake",
		ExternalID:    "sub-42",
		Email:         "Fed.User@Example.com",
		EmailVerified: true,
	}

	state, cookies := startOAuth(t, env)
	resp := callback(t, env, url.Values{"code": {"good"}, "state": {state}}, cookies)

	if got := resp.Header.Get("Location"); got != "/reports" {
		t.Errorf("Location = %q, want /reports", got)
	}
	if env.provider.gotVerifier != cookies[1].Value {
		t.Error("exchange should receive the verifier from the pkce cookie")
	}

	var renewal *http.Cookie
	cleared := map[string]bool{}
	for _, c := range resp.Cookies() {
		switch c.Name {
		case env.cfg.Auth.Cookie.Name:
			renewal = c
		case stateCookieName, pkceCookieName:
			cleared[c.Name] = c.MaxAge < 0
		}
	}
	if renewal == nil || renewal.Value == "" {
		t.Fatal("callback should set the renewal cookie")
	}
	if !cleared[stateCookieName] || !cleared[pkceCookieName] {
		t.Errorf("round-trip cookies should be cleared, got %v", cleared)
	}

	identity, err := env.identities.FindByExternalID(context.Background(), "fake:sub-42")
	if err != nil {
		t.Fatalf("federated identity not created: %v", err)
	}
	if identity.Email != "fed.user@example.com" || identity.RoleID != auth.RoleViewer {
		t.Errorf("identity = %+v", identity)
	}

	// The front end gets its first access token by rotating the cookie.
	w := env.do(t, http.MethodPost, "/auth/refresh-token", nil, withCookie(renewal))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", w.Code, w.Body.String())
	}
	claims, err := env.signer.Verify(decode(t, w)["token"].(string))
	if err != nil || claims.IdentityID != identity.ID {
		t.Errorf("Verify() = %+v, %v", claims, err)
	}
}

func TestOAuth_CallbackFailures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*fakeProvider)
		query      func(state string) url.Values
		cookies    func([]*http.Cookie) []*http.Cookie
		wantReason string
	}{
		{
			name:       "state mismatch",
			query:      func(string) url.Values { return url.Values{"code": {"good"}, "state": {"forged"}} },
			wantReason: reasonInvalidState,
		},
		{
			name:       "missing state cookie",
			query:      func(s string) url.Values { return url.Values{"code": {"good"}, "state": {s}} },
			cookies:    func(c []*http.Cookie) []*http.Cookie { return c[1:] },
			wantReason: reasonInvalidState,
		},
		{
			name:       "missing pkce cookie",
			query:      func(s string) url.Values { return url.Values{"code": {"good"}, "state": {s}} },
			cookies:    func(c []*http.Cookie) []*http.Cookie { return c[:1] },
			wantReason: reasonInvalidState,
		},
		{
			name:       "provider error",
			query:      func(s string) url.Values { return url.Values{"error": {"access_denied"}, "state": {s}} },
			wantReason: auth.ReasonInvalidCredentials,
		},
		{
			name:       "bad code",
			query:      func(s string) url.Values { return url.Values{"code": {"bad"}, "state": {s}} },
			wantReason: auth.ReasonInvalidCredentials,
		},
		{
			name: "unverified email",
			setup: func(f *fakeProvider) {
				f.creds = auth.FederatedCredentials{Provider: "fake", ExternalID: "sub-1", Email: "x@example.com"}
			},
			query:      func(s string) url.Values { return url.Values{"code": {"good"}, "state": {s}} },
			wantReason: auth.ReasonEmailUnverified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env.provider)
			}

			state, cookies := startOAuth(t, env)
			if tt.cookies != nil {
				cookies = tt.cookies(cookies)
			}
			resp := callback(t, env, tt.query(state), cookies)

			loc, err := url.Parse(resp.Header.Get("Location"))
			if err != nil {
				t.Fatalf("parsing Location: %v", err)
			}
			if loc.Path != "/login" || loc.Query().Get("error") != tt.wantReason {
				t.Errorf("Location = %q, want /login?error=%s", loc, tt.wantReason)
			}
			for _, c := range resp.Cookies() {
				if c.Name == env.cfg.Auth.Cookie.Name {
					t.Error("a failed callback must not set the renewal cookie")
				}
			}
		})
	}
}

func TestOAuth_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/auth/oauth/nope/login", "/auth/oauth/nope/callback"} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}
