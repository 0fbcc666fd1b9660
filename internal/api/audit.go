package api

import (
	"net/http"
	"strconv"

	"github.com/reportline/reportline-core/internal/audit"
)

// handleListAudit returns a page of the auth audit trail.
//
// Query parameters:
//   - event: login, refresh, logout, reset_request, reset_consume, session_revoke
//   - outcome: success or failure
//   - identity_id: entries for one identity
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "audit_disabled"})
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Event:      q.Get("event"),
		Outcome:    q.Get("outcome"),
		IdentityID: q.Get("identity_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w)
		return
	}

	writeOK(w, map[string]any{
		"entries": result.Entries,
		"total":   result.Total,
		"limit":   result.Limit,
		"offset":  result.Offset,
	})
}
