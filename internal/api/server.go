// Package api provides the HTTP interface of Reportline's credential
// lifecycle: login, renewal-token rotation, verification, logout, the
// password-reset flow, federated login and session administration.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/reportline/reportline-core/internal/audit"
	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/auth/provider"
	"github.com/reportline/reportline-core/internal/infrastructure/config"
	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthCheckFunc reports whether a dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Auth      config.AuthConfig
	Logger    *logging.Logger
	Service   *auth.Service
	Signer    *auth.Signer
	Providers *provider.Registry

	// DB is used for pool statistics on /admin/metrics. Optional.
	DB *sql.DB

	// Audit backs /admin/audit. Optional.
	Audit audit.Repository

	// Checks are run by /health. "database" should always be present;
	// optional integrations (mqtt, influxdb, redis) are added when enabled.
	Checks map[string]HealthCheckFunc

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	authCfg   config.AuthConfig
	logger    *logging.Logger
	service   *auth.Service
	signer    *auth.Signer
	providers *provider.Registry
	db        *sql.DB
	audit     audit.Repository
	checks    map[string]HealthCheckFunc
	version   string
	startTime time.Time
	tracer    trace.Tracer
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	providers := deps.Providers
	if providers == nil {
		providers = provider.NewRegistry()
	}

	return &Server{
		cfg:       deps.Config,
		authCfg:   deps.Auth,
		logger:    deps.Logger.With("component", "api"),
		service:   deps.Service,
		signer:    deps.Signer,
		providers: providers,
		db:        deps.DB,
		audit:     deps.Audit,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
		tracer:    otel.Tracer("github.com/reportline/reportline-core/internal/api"),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding errors (port in use, bad address) are returned directly; the
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
