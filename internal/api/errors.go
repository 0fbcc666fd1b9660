package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/reportline/reportline-core/internal/auth"
)

// errorResponse is the body of every failed request.
//
// Message carries the machine-readable reason (invalid_credentials,
// token_expired, ...). Expired is only present on authentication failures
// so clients can tell "rotate" from "log in again".
type errorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Expired   *bool  `json:"expired,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeOK writes {success:true} merged with fields.
func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeBadRequest writes a 400 for bodies that are not valid JSON.
func writeBadRequest(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Message: auth.ReasonInvalidInput})
}

// writeInternalError writes a 500 response.
func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: auth.ReasonInternal})
}

// statusFor maps an auth failure to its HTTP status.
func statusFor(ae *auth.Error) int {
	switch ae.Kind {
	case auth.KindAuthentication:
		return http.StatusUnauthorized
	case auth.KindAuthorization:
		return http.StatusForbidden
	case auth.KindValidation:
		if ae.Reason == auth.ReasonUserNotFound {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case auth.KindThrottled:
		return http.StatusTooManyRequests
	case auth.KindPersistence:
		if ae.Transient {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError writes err as an error response. Errors that are not
// *auth.Error are treated as internal. Persistence causes are logged and
// only sent to the client when api.expose_errors is set.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := auth.AsError(err)
	if !ok {
		ae = &auth.Error{Kind: auth.KindPersistence, Reason: auth.ReasonInternal, Err: err}
	}

	resp := errorResponse{Message: ae.Reason}
	switch ae.Kind {
	case auth.KindAuthentication:
		expired := ae.Expired()
		resp.Expired = &expired
	case auth.KindPersistence:
		resp.Retryable = ae.Transient
		s.logger.WithContext(r.Context()).Error("request failed",
			"path", r.URL.Path,
			"reason", ae.Reason,
			"error", ae.Err,
			"request_id", requestIDFrom(r.Context()),
		)
		if s.cfg.ExposeErrors && ae.Err != nil {
			resp.Detail = ae.Err.Error()
		}
	case auth.KindThrottled:
		w.Header().Set("Retry-After", retryAfterSeconds(s.authCfg.Reset.Window))
	}

	writeJSON(w, statusFor(ae), resp)
}

// retryAfterSeconds formats the throttle window for the Retry-After header.
func retryAfterSeconds(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
