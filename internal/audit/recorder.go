package audit

import (
	"context"
	"time"

	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// writeTimeout bounds one audit insert so a slow disk cannot stall a login.
const writeTimeout = 2 * time.Second

// Recorder writes auth events to the audit trail. It implements
// auth.EventRecorder; write failures are logged and dropped.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger.With("component", "audit")}
}

// RecordAuthEvent stores e. The request context's cancellation is ignored
// so that events for aborted requests are still recorded.
func (r *Recorder) RecordAuthEvent(ctx context.Context, e auth.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := &Entry{
		Event:      e.Name,
		Method:     string(e.Method),
		Outcome:    OutcomeSuccess,
		IdentityID: e.IdentityID,
		Source:     SourceAPI,
		CreatedAt:  e.At,
	}
	if !e.Success {
		entry.Outcome = OutcomeFailure
		entry.Reason = e.Reason
	}

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.WithContext(ctx).Error("writing audit entry", "event", e.Name, "error", err)
	}
}
