// Reportline Core - authentication and credential lifecycle service.
//
// This is the main entry point. It wires the SQLite stores, the token
// signer, the audit trail, the optional MQTT mailer hand-off, InfluxDB telemetry, Redis
// throttling and OIDC providers into the HTTP API, then waits for a
// shutdown signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/reportline/reportline-core/migrations"

	"github.com/reportline/reportline-core/internal/api"
	"github.com/reportline/reportline-core/internal/audit"
	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/auth/provider"
	"github.com/reportline/reportline-core/internal/auth/provider/google"
	"github.com/reportline/reportline-core/internal/infrastructure/config"
	"github.com/reportline/reportline-core/internal/infrastructure/database"
	"github.com/reportline/reportline-core/internal/infrastructure/influxdb"
	"github.com/reportline/reportline-core/internal/infrastructure/logging"
	"github.com/reportline/reportline-core/internal/infrastructure/mqtt"
	"github.com/reportline/reportline-core/internal/infrastructure/redis"
	"github.com/reportline/reportline-core/internal/infrastructure/tracing"
	"github.com/reportline/reportline-core/internal/notify"
	"github.com/reportline/reportline-core/internal/ratelimit"
	"github.com/reportline/reportline-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds flushing of traces on exit.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Reportline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := shutdownTracing(sctx); shutdownErr != nil {
			log.Error("error flushing traces", "error", shutdownErr)
		}
	}()

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthCheckFunc{"database": db.HealthCheck}

	// Password-reset hand-off: the mailer listens on MQTT when enabled.
	var notifier auth.ResetNotifier = notify.NewLogNotifier(log)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		notifier = notify.NewMQTTNotifier(mqttClient)
		checks["mqtt"] = mqttClient.HealthCheck
	} else {
		log.Warn("MQTT disabled, password reset links will only be logged")
	}

	// Auth events always go to the audit trail, and to InfluxDB when enabled.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	var influxRecorder auth.EventRecorder
	var purgeReporter func(int64)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		influxRecorder = telemetry.NewRecorder(influxClient)
		purgeReporter = telemetry.PurgeCounter(influxClient)
		checks["influxdb"] = influxClient.HealthCheck
	} else {
		log.Info("InfluxDB disabled")
	}
	recorder := telemetry.Combine(influxRecorder, audit.NewRecorder(auditRepo, log))

	// Reset request throttling (optional)
	var limiter auth.RequestLimiter
	if cfg.Redis.Enabled {
		redisClient, redisErr := redis.Connect(ctx, cfg.Redis)
		if redisErr != nil {
			return fmt.Errorf("connecting to Redis: %w", redisErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		rl, rlErr := ratelimit.New(redisClient, cfg.Auth.Reset.MaxRequests, cfg.Auth.Reset.Window)
		if rlErr != nil {
			return fmt.Errorf("creating rate limiter: %w", rlErr)
		}
		limiter = rl
		checks["redis"] = func(ctx context.Context) error { return redis.HealthCheck(ctx, redisClient) }
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	} else {
		log.Info("Redis disabled, password reset requests are not throttled")
	}

	providers, err := buildProviders(ctx, cfg, log)
	if err != nil {
		return err
	}

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("creating token signer: %w", err)
	}

	opts := auth.OptionsFromConfig(cfg.Auth)
	identities := auth.NewIdentityRepository(db.DB, cfg.Auth.StoreTimeout)
	renewals := auth.NewRenewalStore(db.DB, cfg.Auth.StoreTimeout)

	issuer := auth.NewIssuer(signer, renewals, identities, opts, log)
	reset := auth.NewResetFlow(signer, identities, renewals, notifier, opts, log)
	authn := auth.NewAuthenticator(identities, reset, opts, log)
	service := auth.NewService(auth.ServiceDeps{
		Authenticator: authn,
		Issuer:        issuer,
		Reset:         reset,
		Identities:    identities,
		Renewals:      renewals,
		Logger:        log,
		Recorder:      recorder,
		Limiter:       limiter,
	})

	if _, seedErr := auth.SeedAdmin(ctx, identities, cfg.Auth.BootstrapAdminEmail, log, os.Stderr); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Auth:      cfg.Auth,
		Logger:    log,
		Service:   service,
		Signer:    signer,
		Providers: providers,
		DB:        db.DB,
		Audit:     auditRepo,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	sweeper := auth.NewSweeper(renewals, cfg.Auth.PurgeInterval, log)
	if purgeReporter != nil {
		sweeper.OnPurge(purgeReporter)
	}
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, Redis,
	// InfluxDB, MQTT, database, tracing.

	log.Info("Reportline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses REPORTLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("REPORTLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker and logs connection changes.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	return client, nil
}

// buildProviders registers the enabled OIDC providers. Discovery runs at
// startup, so a misconfigured issuer fails fast.
func buildProviders(ctx context.Context, cfg *config.Config, log *logging.Logger) (*provider.Registry, error) {
	var list []provider.Provider

	if cfg.Auth.OAuth.Google.Enabled {
		g, err := google.New(ctx, cfg.Auth.OAuth.Google)
		if err != nil {
			return nil, fmt.Errorf("configuring google sign-in: %w", err)
		}
		list = append(list, g)
	}

	registry := provider.NewRegistry(list...)
	log.Info("oauth providers configured", "providers", registry.Names())
	return registry, nil
}
