package auth

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

const tracerName = "github.com/reportline/reportline-core/internal/auth"

// Event names passed to the EventRecorder.
const (
	EventLogin         = "login"
	EventRefresh       = "refresh"
	EventLogout        = "logout"
	EventResetRequest  = "reset_request"
	EventResetConsume  = "reset_consume"
	EventSessionRevoke = "session_revoke"
)

// AuthEvent is one auth outcome reported to the EventRecorder. It never
// carries tokens or passwords.
type AuthEvent struct {
	Name       string
	Method     Method
	Success    bool
	Reason     string
	IdentityID string
	At         time.Time
}

// EventRecorder receives auth outcomes for the audit trail and time-series
// telemetry. Implementations must return quickly and never fail the caller.
type EventRecorder interface {
	RecordAuthEvent(ctx context.Context, event AuthEvent)
}

// RequestLimiter counts requests per key in a window. Allow reports false
// once the key is over its budget.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ServiceDeps are the collaborators of a Service. Recorder and Limiter are
// optional.
type ServiceDeps struct {
	Authenticator *Authenticator
	Issuer        *Issuer
	Reset         *ResetFlow
	Identities    IdentityRepository
	Renewals      RenewalStore
	Logger        *logging.Logger
	Recorder      EventRecorder
	Limiter       RequestLimiter
}

// Service is the entry point used by the transport layer. It combines the
// authenticator, the issuer and the reset flow.
type Service struct {
	authn      *Authenticator
	issuer     *Issuer
	reset      *ResetFlow
	identities IdentityRepository
	renewals   RenewalStore
	logger     *logging.Logger
	recorder   EventRecorder
	limiter    RequestLimiter
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates a Service.
func NewService(d ServiceDeps) *Service {
	recorder := d.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		authn:      d.Authenticator,
		issuer:     d.Issuer,
		reset:      d.Reset,
		identities: d.Identities,
		renewals:   d.Renewals,
		logger:     d.Logger.With("component", "auth"),
		recorder:   recorder,
		limiter:    d.Limiter,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// LoginResult is a successful login.
type LoginResult struct {
	Identity *Identity
	Pair     *TokenPair
}

// RenewalTTL returns the lifetime of issued renewal tokens, used for the
// cookie max-age.
func (s *Service) RenewalTTL() time.Duration {
	return s.issuer.RenewalTTL()
}

// Login authenticates local or federated credentials and issues exactly one
// token pair. Reset credentials are rejected: consuming a reset token never
// signs the caller in.
func (s *Service) Login(ctx context.Context, creds Credentials) (res *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login",
		trace.WithAttributes(attribute.String("auth.method", string(creds.Method()))))
	defer func() { s.finish(ctx, span, EventLogin, creds.Method(), res.identityID(), err) }()

	if creds.Method() == MethodReset {
		return nil, validationError(ReasonUnsupportedMethod)
	}

	identity, err := s.authn.Authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuer.IssuePair(ctx, identity)
	if err != nil {
		return nil, err
	}

	// Only a login that produced a pair counts. If the stamp cannot be
	// written the pair is withdrawn so the error leaves no live session.
	now := s.now()
	if err := s.identities.TouchLastAuthenticated(ctx, identity.ID, now); err != nil {
		if rerr := s.issuer.Revoke(ctx, pair.RenewalToken); rerr != nil {
			s.logger.WithContext(ctx).Warn("withdrawing renewal token failed",
				"identity_id", identity.ID, "error", rerr)
		}
		return nil, persistenceError("recording login", err)
	}
	identity.LastAuthenticatedAt = &now

	s.logger.WithContext(ctx).Info("login succeeded",
		"identity_id", identity.ID, "method", string(creds.Method()))
	return &LoginResult{Identity: identity, Pair: pair}, nil
}

func (r *LoginResult) identityID() string {
	if r == nil || r.Identity == nil {
		return ""
	}
	return r.Identity.ID
}

// Refresh runs the rotation protocol for a presented renewal token.
func (s *Service) Refresh(ctx context.Context, renewalToken string) (*RotationResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")

	res, err := s.issuer.Rotate(ctx, renewalToken)
	var identityID string
	if res.Identity != nil {
		identityID = res.Identity.ID
	}
	span.SetAttributes(attribute.String("auth.rotation_state", res.State.String()))
	s.finish(ctx, span, EventRefresh, "", identityID, err)
	return res, err
}

// Logout revokes the renewal token if one was presented.
func (s *Service) Logout(ctx context.Context, renewalToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(ctx, span, EventLogout, "", "", err) }()

	return s.issuer.Revoke(ctx, renewalToken)
}

// RequestReset throttles by email and client address, then starts the
// reset flow. A nil request with a nil error means the email is unknown
// and concealment is on.
func (s *Service) RequestReset(ctx context.Context, email, clientIP string) (req *ResetRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.RequestReset")
	defer func() {
		var id string
		if req != nil {
			id = req.IdentityID
		}
		s.finish(ctx, span, EventResetRequest, MethodReset, id, err)
	}()

	if err := s.throttle(ctx, "reset:email:"+NormalizeEmail(email)); err != nil {
		return nil, err
	}
	if clientIP != "" {
		if err := s.throttle(ctx, "reset:ip:"+clientIP); err != nil {
			return nil, err
		}
	}

	return s.reset.RequestReset(ctx, email)
}

// ValidateReset checks a reset token without consuming it.
func (s *Service) ValidateReset(ctx context.Context, token string) (*Identity, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ValidateReset")
	defer span.End()

	identity, err := s.reset.Validate(ctx, token)
	if err != nil {
		markSpan(span, err)
	}
	return identity, err
}

// ResetPassword consumes a reset token through the reset credential path
// and sets newPassword. No tokens are issued.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (identity *Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer func() {
		var id string
		if identity != nil {
			id = identity.ID
		}
		s.finish(ctx, span, EventResetConsume, MethodReset, id, err)
	}()

	return s.authn.Authenticate(ctx, ResetCredentials{Token: token, NewPassword: newPassword})
}

// Sessions lists the active renewal tokens of an identity.
func (s *Service) Sessions(ctx context.Context, identityID string) ([]RenewalToken, error) {
	tokens, err := s.renewals.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, persistenceError("listing sessions", err)
	}
	return tokens, nil
}

// RevokeSessions revokes every renewal token of an identity and returns
// how many were active.
func (s *Service) RevokeSessions(ctx context.Context, identityID string) (n int64, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.RevokeSessions")
	defer func() { s.finish(ctx, span, EventSessionRevoke, "", identityID, err) }()

	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return 0, validationError(ReasonUserNotFound)
		}
		return 0, persistenceError("finding identity", err)
	}

	n, err = s.renewals.RevokeAllForIdentity(ctx, identityID)
	if err != nil {
		return 0, persistenceError("revoking sessions", err)
	}
	s.logger.WithContext(ctx).Info("sessions revoked", "identity_id", identityID, "count", n)
	return n, nil
}

// Purge deletes expired renewal tokens.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	n, err := s.renewals.PurgeExpired(ctx)
	if err != nil {
		return 0, persistenceError("purging renewal tokens", err)
	}
	return n, nil
}

// throttle consults the limiter. Limiter failures let the request through.
func (s *Service) throttle(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger.WithContext(ctx).Warn("rate limiter unavailable", "error", err)
		return nil
	}
	if !ok {
		return &Error{Kind: KindThrottled, Reason: ReasonTooManyRequests}
	}
	return nil
}

// finish ends span and reports the outcome to the recorder.
func (s *Service) finish(ctx context.Context, span trace.Span, name string, method Method, identityID string, err error) {
	defer span.End()

	event := AuthEvent{
		Name:       name,
		Method:     method,
		Success:    err == nil,
		IdentityID: identityID,
		At:         s.now(),
	}
	if err != nil {
		markSpan(span, err)
		if ae, ok := AsError(err); ok {
			event.Reason = ae.Reason
			if ae.Kind == KindPersistence {
				s.logger.WithContext(ctx).Error("auth operation failed", "event", name, "error", err)
			}
		} else {
			event.Reason = ReasonInternal
		}
	}
	s.recorder.RecordAuthEvent(ctx, event)
}

func markSpan(span trace.Span, err error) {
	reason := ReasonInternal
	if ae, ok := AsError(err); ok {
		reason = ae.Reason
	}
	span.SetAttributes(attribute.String("auth.reason", reason))
	span.SetStatus(codes.Error, reason)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(context.Context, AuthEvent) {}
