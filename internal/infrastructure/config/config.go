package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override, e.g.
// REPORTLINE_AUTH_JWT_SECRET or REPORTLINE_DATABASE_PATH.
const envPrefix = "REPORTLINE_"

// Config is the root configuration structure for Reportline.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	MQTT     MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Tracing  TracingConfig  `yaml:"tracing" envPrefix:"TRACING_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOGGING_"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host" env:"HOST"`
	Port     int              `yaml:"port" env:"PORT"`
	TLS      TLSConfig        `yaml:"tls" envPrefix:"TLS_"`
	Timeouts APITimeoutConfig `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	CORS     CORSConfig       `yaml:"cors" envPrefix:"CORS_"`

	// ExposeErrors includes persistence error details in 5xx responses.
	// Development only.
	ExposeErrors bool `yaml:"expose_errors" env:"EXPOSE_ERRORS"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" env:"READ"`
	Write int `yaml:"write" env:"WRITE"`
	Idle  int `yaml:"idle" env:"IDLE"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `yaml:"allowed_methods" env:"ALLOWED_METHODS" envSeparator:","`
	AllowedHeaders []string `yaml:"allowed_headers" env:"ALLOWED_HEADERS" envSeparator:","`
}

// AuthConfig contains credential lifecycle settings.
type AuthConfig struct {
	// JWTSecret signs access tokens and password-reset tokens. Required.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`

	// AccessTokenTTL is the lifetime of a signed access token. Access tokens
	// cannot be revoked, so keep this short.
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`

	// RenewalTokenTTL is the lifetime of a server-tracked renewal token and
	// the max-age of its cookie.
	RenewalTokenTTL time.Duration `yaml:"renewal_token_ttl" env:"RENEWAL_TOKEN_TTL"`

	// StoreTimeout bounds every store call made on behalf of a request.
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`

	// PurgeInterval is how often expired renewal tokens are deleted.
	PurgeInterval time.Duration `yaml:"purge_interval" env:"PURGE_INTERVAL"`

	// DefaultRoleID is assigned to identities created without an explicit role
	// (federated sign-up, operator CLI without -role).
	DefaultRoleID int64 `yaml:"default_role_id" env:"DEFAULT_ROLE_ID"`

	// RevokeChainOnReplay revokes every successor of a renewal token when an
	// already-revoked token is presented again.
	RevokeChainOnReplay bool `yaml:"revoke_chain_on_replay" env:"REVOKE_CHAIN_ON_REPLAY"`

	// BootstrapAdminEmail creates an admin identity on first boot when the
	// identity table is empty. Empty disables seeding.
	BootstrapAdminEmail string `yaml:"bootstrap_admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`

	Cookie CookieConfig `yaml:"cookie" envPrefix:"COOKIE_"`
	Reset  ResetConfig  `yaml:"reset" envPrefix:"RESET_"`
	OAuth  OAuthConfig  `yaml:"oauth" envPrefix:"OAUTH_"`
}

// CookieConfig controls the renewal-token cookie.
type CookieConfig struct {
	Name     string `yaml:"name" env:"NAME"`
	Domain   string `yaml:"domain" env:"DOMAIN"`
	Secure   bool   `yaml:"secure" env:"SECURE"`
	SameSite string `yaml:"same_site" env:"SAME_SITE"` // lax, strict, none
}

// ResetConfig controls the password-reset flow.
type ResetConfig struct {
	// TokenTTL is checked against the token's issuance time.
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`

	// LinkBaseURL is the front-end page that receives ?token=... in reset mails.
	LinkBaseURL string `yaml:"link_base_url" env:"LINK_BASE_URL"`

	// ConcealUnknownEmail acknowledges reset requests for unknown emails
	// instead of answering 404.
	ConcealUnknownEmail bool `yaml:"conceal_unknown_email" env:"CONCEAL_UNKNOWN_EMAIL"`

	// MaxRequests per Window, per email and per client IP. Only enforced
	// when Redis is enabled.
	MaxRequests int           `yaml:"max_requests" env:"MAX_REQUESTS"`
	Window      time.Duration `yaml:"window" env:"WINDOW"`
}

// OAuthConfig contains federated login settings.
type OAuthConfig struct {
	// SuccessRedirect is where the browser lands after a federated login.
	// The front end then calls /auth/refresh-token to obtain an access token.
	SuccessRedirect string `yaml:"success_redirect" env:"SUCCESS_REDIRECT"`

	// FailureRedirect receives ?error=<reason> when a federated login fails.
	FailureRedirect string `yaml:"failure_redirect" env:"FAILURE_REDIRECT"`

	Google OIDCProviderConfig `yaml:"google" envPrefix:"GOOGLE_"`
}

// OIDCProviderConfig configures one OpenID Connect provider.
type OIDCProviderConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Issuer       string `yaml:"issuer" env:"ISSUER"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker carries password-reset mail hand-offs to the mailer service.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled" env:"ENABLED"`
	Broker    MQTTBrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" env:"QOS"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     int `yaml:"max_delay" env:"MAX_DELAY"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// RedisConfig contains Redis settings used for request throttling.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// TracingConfig contains OpenTelemetry export settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: REPORTLINE_SECTION_KEY
// For example: REPORTLINE_DATABASE_PATH, REPORTLINE_AUTH_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults exposes the built-in configuration, used by tests and by the
// operator CLI when no config file exists.
func Defaults() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/reportline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Auth: AuthConfig{
			AccessTokenTTL:  15 * time.Minute,
			RenewalTokenTTL: 7 * 24 * time.Hour,
			StoreTimeout:    5 * time.Second,
			PurgeInterval:   time.Hour,
			DefaultRoleID:   3,
			Cookie: CookieConfig{
				Name:     "renewalToken",
				Secure:   true,
				SameSite: "lax",
			},
			Reset: ResetConfig{
				TokenTTL:    24 * time.Hour,
				MaxRequests: 5,
				Window:      15 * time.Minute,
			},
			OAuth: OAuthConfig{
				SuccessRedirect: "/",
				FailureRedirect: "/login",
				Google: OIDCProviderConfig{
					Issuer: "https://accounts.google.com",
				},
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "reportline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Tracing: TracingConfig{
			ServiceName: "reportline",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies REPORTLINE_* environment variables on top of the
// file values. Unset variables leave the loaded value untouched.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix})
}

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Credentialed CORS with a wildcard would hand renewal tokens to any site.
	for _, origin := range c.API.CORS.AllowedOrigins {
		if origin == "*" {
			errs = append(errs, "api.cors.allowed_origins must list explicit origins, not \"*\"")
			break
		}
	}

	// A forged access token grants report access until expiry, and nothing
	// can revoke it, so the secret has no default.
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (set REPORTLINE_AUTH_JWT_SECRET)")
	} else if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "auth.jwt_secret must be at least 32 characters")
	}

	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, "auth.access_token_ttl must be positive")
	}
	if c.Auth.RenewalTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, "auth.renewal_token_ttl must be longer than auth.access_token_ttl")
	}
	if c.Auth.StoreTimeout <= 0 {
		errs = append(errs, "auth.store_timeout must be positive")
	}
	if c.Auth.PurgeInterval <= 0 {
		errs = append(errs, "auth.purge_interval must be positive")
	}
	if c.Auth.DefaultRoleID <= 0 {
		errs = append(errs, "auth.default_role_id must be a positive role id")
	}
	if c.Auth.Cookie.Name == "" {
		errs = append(errs, "auth.cookie.name is required")
	}
	switch strings.ToLower(c.Auth.Cookie.SameSite) {
	case "lax", "strict", "none":
	default:
		errs = append(errs, "auth.cookie.same_site must be lax, strict, or none")
	}
	if c.Auth.Reset.TokenTTL < time.Minute {
		errs = append(errs, "auth.reset.token_ttl must be at least 1m")
	}

	if g := c.Auth.OAuth.Google; g.Enabled {
		if g.ClientID == "" || g.ClientSecret == "" || g.RedirectURL == "" {
			errs = append(errs, "auth.oauth.google requires client_id, client_secret, and redirect_url")
		}
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
