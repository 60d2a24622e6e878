// Package config provides configuration management for the SMART-on-FHIR
// gateway service. It supports environment variable-based configuration with
// validation and default values for all service components including server,
// Keycloak, FHIR upstream, client assertion, security, and logging settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// MinPortNumber is the minimum valid port number.
	MinPortNumber = 1
	// MaxPortNumber is the maximum valid port number.
	MaxPortNumber = 65535
	// MinAssertionLifetime is the minimum client assertion lifetime.
	MinAssertionLifetime = 30 * time.Second
	// MaxAssertionLifetime is the maximum client assertion lifetime allowed
	// by the SMART Backend Services profile (5 minutes).
	MaxAssertionLifetime = 5 * time.Minute
)

// Config represents the complete configuration for the gateway service,
// aggregating all component-specific configurations.
type Config struct {
	// Environment holds environment-specific settings.
	Environment EnvironmentConfig `envconfig:"ENVIRONMENT"`
	// Server contains HTTP server configuration including ports, timeouts, and TLS settings.
	Server ServerConfig `envconfig:"SERVER"`
	// Redis contains Redis connection configuration used for rate limiting.
	Redis RedisConfig `envconfig:"REDIS"`
	// Keycloak contains the upstream authorization server configuration.
	Keycloak KeycloakConfig `envconfig:"KEYCLOAK"`
	// FHIR contains the upstream FHIR server configuration.
	FHIR FHIRConfig `envconfig:"FHIR"`
	// Assertion contains client assertion signing settings.
	Assertion AssertionConfig `envconfig:"ASSERTION"`
	// Security contains security-related settings like CORS and rate limiting.
	Security SecurityConfig `envconfig:"SECURITY"`
	// Logging contains logging configuration.
	Logging LoggingConfig `envconfig:"LOGGING"`
	// Monitor contains monitoring relay configuration.
	Monitor MonitorConfig `envconfig:"MONITOR"`
	// AppAutoRegister contains app auto-registration configuration.
	AppAutoRegister AppAutoRegisterConfig `envconfig:"APP_AUTO_REGISTER"`
}

type Environment string

const (
	Local   Environment = "LOCAL"
	NonProd Environment = "NONPROD"
	Prod    Environment = "PROD"
)

// EnvironmentConfig holds environment-specific settings.
type EnvironmentConfig struct {
	// Environment indicates the current running environment (LOCAL, NONPROD, PROD).
	Environment Environment `envconfig:"ENV" default:"LOCAL"`
}

// ServerConfig holds HTTP server configuration including network settings,
// timeouts, and TLS certificate paths.
type ServerConfig struct {
	// Port is the HTTP server listening port.
	Port int `envconfig:"PORT"             default:"8445"`
	// Host is the network interface to bind to.
	Host string `envconfig:"HOST"             default:"0.0.0.0"`
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"     default:"15s"`
	// WriteTimeout is the maximum duration before timing out writes.
	// The WebSocket endpoint escapes it by hijacking the connection; the
	// SSE endpoint clears its write deadline on connect.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT"    default:"60s"`
	// IdleTimeout is the maximum amount of time to wait for keep-alive connections.
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT"     default:"120s"`
	// ShutdownTimeout is the maximum time to wait for graceful server shutdown.
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// TLSCert is the path to the TLS certificate file for HTTPS.
	TLSCert string `envconfig:"TLS_CERT"`
	// TLSKey is the path to the TLS private key file for HTTPS.
	TLSKey string `envconfig:"TLS_KEY"`
}

// RedisConfig contains Redis connection configuration. Redis is optional and
// only backs the per-client rate limiter; when unreachable the gateway runs
// without rate limiting.
type RedisConfig struct {
	// URL is the Redis connection URL.
	URL string `envconfig:"URL"           default:"redis://localhost:6379"`
	// Password is the Redis authentication password.
	Password string `envconfig:"PASSWORD"`
	// DB is the Redis database number to use.
	DB int `envconfig:"DB"            default:"0"`
	// MaxRetries is the maximum number of retry attempts for failed operations.
	MaxRetries int `envconfig:"MAX_RETRIES"   default:"3"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `envconfig:"POOL_SIZE"     default:"10"`
	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT"  default:"5s"`
	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT"  default:"3s"`
	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// KeycloakConfig contains the upstream Keycloak authorization server
// configuration including the admin service account used by the relay.
type KeycloakConfig struct {
	// BaseURL is the Keycloak server base URL (e.g. "https://auth.example.com").
	BaseURL string `envconfig:"BASE_URL"        default:"http://localhost:8080"`
	// Realm is the Keycloak realm holding SMART apps and users.
	Realm string `envconfig:"REALM"           default:"smart"`
	// AdminClientID is the service account client used for admin API calls.
	AdminClientID string `envconfig:"ADMIN_CLIENT_ID" default:"gateway-admin"`
	// AdminClientSecret is the service account client secret.
	AdminClientSecret string `envconfig:"ADMIN_CLIENT_SECRET"`
	// Timeout is the HTTP timeout for admin API calls.
	Timeout time.Duration `envconfig:"TIMEOUT"         default:"10s"`
}

// FHIRConfig contains the upstream FHIR server configuration.
type FHIRConfig struct {
	// BaseURL is the upstream FHIR server base URL (e.g. "http://hapi:8080/fhir").
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8090/fhir"`
	// Timeout is the per-request timeout applied by the reverse proxy transport.
	Timeout time.Duration `envconfig:"TIMEOUT"  default:"30s"`
}

// AssertionConfig contains client assertion signing settings used by the
// backend-services test harness and the clientctl tooling.
type AssertionConfig struct {
	// Algorithm is the JWT signing algorithm for client assertions.
	// SMART Backend Services requires RS384 or ES384.
	Algorithm string `envconfig:"ALGORITHM" default:"RS384"`
	// Lifetime is the client assertion validity window (exp - iat).
	Lifetime time.Duration `envconfig:"LIFETIME"  default:"2m"`
}

// SecurityConfig contains security-related settings including
// rate limiting, CORS configuration, and trusted proxies.
type SecurityConfig struct {
	// RateLimitRPS is the maximum requests per second per client.
	RateLimitRPS int `envconfig:"RATE_LIMIT_RPS"    default:"100"`
	// RateLimitBurst is the maximum burst size for rate limiting.
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST"  default:"200"`
	// AllowedOrigins are the CORS allowed origins.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"   default:"*"`
	// AllowedMethods are the CORS allowed HTTP methods.
	AllowedMethods []string `envconfig:"ALLOWED_METHODS"   default:"GET,POST,PUT,DELETE,OPTIONS"`
	// AllowedHeaders are the CORS allowed headers.
	AllowedHeaders []string `envconfig:"ALLOWED_HEADERS"   default:"*"`
	// ExposedHeaders are the CORS exposed headers.
	ExposedHeaders []string `envconfig:"EXPOSED_HEADERS"`
	// AllowCredentials determines if CORS allows credentials.
	AllowCredentials bool `envconfig:"ALLOW_CREDENTIALS" default:"true"`
	// MaxAge is the CORS preflight cache duration in seconds.
	MaxAge int `envconfig:"MAX_AGE"           default:"86400"`
	// TrustedProxies are the trusted proxy IP addresses or networks.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

// LoggingConfig contains logging configuration including
// log level, format, and output destination.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `envconfig:"LEVEL"  default:"info"`
	// Format is the log output format (json, text).
	Format string `envconfig:"FORMAT" default:"json"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `envconfig:"OUTPUT" default:"stdout"`
}

// MonitorConfig contains the monitoring relay configuration.
type MonitorConfig struct {
	// BufferSize is the number of recent events retained for dashboard loads.
	BufferSize int `envconfig:"BUFFER_SIZE"   default:"256"`
	// ClientQueue is the per-subscriber send queue depth. Subscribers that
	// fall behind by more than this are dropped.
	ClientQueue int `envconfig:"CLIENT_QUEUE"  default:"64"`
	// PingInterval is the WebSocket keepalive ping interval.
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
}

// AppAutoRegisterConfig contains app auto-registration configuration
// for automatically creating SMART apps in Keycloak at startup.
type AppAutoRegisterConfig struct {
	// Enabled determines if app auto-registration is enabled.
	Enabled bool `envconfig:"ENABLED"           default:"false"`
	// ConfigPath is the path to the app configuration file.
	ConfigPath string `envconfig:"CONFIG_PATH"       default:"configs/apps.json"`
	// CacheFile is the JSON scratch file recording previously registered
	// apps so repeated startups skip redundant registration calls.
	CacheFile string `envconfig:"CACHE_FILE"        default:"configs/.registered-apps.json"`
	// CreateSampleApp determines if the sample app should be created.
	CreateSampleApp bool `envconfig:"CREATE_SAMPLE_APP" default:"false"`
}

// Load reads configuration from environment variables and returns
// a validated Config instance. It returns an error if configuration
// is invalid or required values are missing.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.applyServiceURLDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyServiceURLDefaults swaps the compiled-in localhost defaults for the
// environment's in-cluster URLs when no explicit override was given.
// Explicit KEYCLOAK_BASE_URL / FHIR_BASE_URL values always win.
func (c *Config) applyServiceURLDefaults() {
	if c.Environment.Environment == Local {
		return
	}

	local := Config{Environment: EnvironmentConfig{Environment: Local}}
	localURLs := local.GetServiceURLs()
	envURLs := c.GetServiceURLs()

	if c.Keycloak.BaseURL == localURLs.KeycloakBaseURL {
		c.Keycloak.BaseURL = envURLs.KeycloakBaseURL
	}
	if c.FHIR.BaseURL == localURLs.FHIRBaseURL {
		c.FHIR.BaseURL = envURLs.FHIRBaseURL
	}
}

// Validate performs comprehensive validation of all configuration values,
// ensuring they meet security and operational requirements.
func (c *Config) Validate() error {
	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return errors.New("server port must be between 1 and 65535")
	}

	if c.Keycloak.BaseURL == "" {
		return errors.New("keycloak base URL is required")
	}

	if c.Keycloak.Realm == "" {
		return errors.New("keycloak realm is required")
	}

	if c.FHIR.BaseURL == "" {
		return errors.New("FHIR base URL is required")
	}

	// SMART Backend Services permits only asymmetric signing.
	validAlgorithms := map[string]bool{
		"RS384": true, "ES384": true,
	}
	if !validAlgorithms[c.Assertion.Algorithm] {
		return fmt.Errorf("unsupported assertion algorithm: %s", c.Assertion.Algorithm)
	}

	if c.Assertion.Lifetime < MinAssertionLifetime || c.Assertion.Lifetime > MaxAssertionLifetime {
		return fmt.Errorf("assertion lifetime must be between %s and %s",
			MinAssertionLifetime, MaxAssertionLifetime)
	}

	if c.Monitor.BufferSize <= 0 {
		return errors.New("monitor buffer size must be positive")
	}

	return nil
}

// ServerAddr returns the formatted server address string in host:port format.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsTLSEnabled returns true if both TLS certificate and key paths are configured.
func (c *Config) IsTLSEnabled() bool {
	return c.Server.TLSCert != "" && c.Server.TLSKey != ""
}

// RealmURL returns the issuer URL of the configured Keycloak realm.
func (c *Config) RealmURL() string {
	return fmt.Sprintf("%s/realms/%s", c.Keycloak.BaseURL, c.Keycloak.Realm)
}

// AdminRealmURL returns the admin REST base URL of the configured realm.
func (c *Config) AdminRealmURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.Keycloak.BaseURL, c.Keycloak.Realm)
}

// TokenURL returns the realm's OAuth2 token endpoint.
func (c *Config) TokenURL() string {
	return c.RealmURL() + "/protocol/openid-connect/token"
}
