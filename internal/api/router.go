package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reportline/reportline-core/internal/auth"
)

// healthCheckTimeout bounds each dependency probe on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.tracingMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		// Public: the caller proves identity with a password, a cookie or
		// a reset token.
		r.Post("/login", s.handleLogin)
		r.Post("/refresh-token", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/verify-reset-password-token", s.handleVerifyResetToken)
		r.Post("/reset-password", s.handleResetPassword)

		r.Get("/oauth/{provider}/login", s.handleOAuthLogin)
		r.Get("/oauth/{provider}/callback", s.handleOAuthCallback)

		// Bearer-authenticated
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/verify", s.handleVerify)
			r.Get("/sessions", s.handleListSessions)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(requireRole(auth.RoleAdmin))

		r.Delete("/identities/{id}/sessions", s.handleRevokeIdentitySessions)
		r.Post("/renewal-tokens/purge", s.handlePurgeRenewalTokens)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

// handleHealth runs every registered dependency check. Any failure turns
// the response into 503 so load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	checks := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			overall = "degraded"
			s.logger.Warn("health check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}
