package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reportline/reportline-core/internal/auth"
)

// handleListSessions returns the caller's active renewal tokens.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	tokens, err := s.service.Sessions(r.Context(), claims.IdentityID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeOK(w, map[string]any{
		"sessions": tokens,
		"count":    len(tokens),
	})
}

// handleRevokeIdentitySessions revokes every renewal token of an identity.
// Access tokens already issued stay valid until they expire.
func (s *Server) handleRevokeIdentitySessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := auth.ClaimsFromContext(r.Context())

	n, err := s.service.RevokeSessions(r.Context(), id)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.logger.Info("identity sessions revoked", "identity_id", id, "revoked_by", claims.IdentityID, "count", n)
	writeOK(w, map[string]any{"revoked": n})
}

// handlePurgeRenewalTokens deletes expired renewal tokens on demand, in
// addition to the background sweeper.
func (s *Server) handlePurgeRenewalTokens(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.Purge(r.Context())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"purged": n})
}
