package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8445,
			Host: "0.0.0.0",
		},
		Keycloak: KeycloakConfig{
			BaseURL: "http://localhost:8080",
			Realm:   "smart",
		},
		FHIR: FHIRConfig{
			BaseURL: "http://localhost:8090/fhir",
		},
		Assertion: AssertionConfig{
			Algorithm: "RS384",
			Lifetime:  2 * time.Minute,
		},
		Monitor: MonitorConfig{
			BufferSize:   256,
			ClientQueue:  64,
			PingInterval: 30 * time.Second,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8445, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8080", cfg.Keycloak.BaseURL)
	assert.Equal(t, "smart", cfg.Keycloak.Realm)
	assert.Equal(t, "gateway-admin", cfg.Keycloak.AdminClientID)
	assert.Equal(t, "http://localhost:8090/fhir", cfg.FHIR.BaseURL)
	assert.Equal(t, "RS384", cfg.Assertion.Algorithm)
	assert.Equal(t, 2*time.Minute, cfg.Assertion.Lifetime)
	assert.Equal(t, 256, cfg.Monitor.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Monitor.PingInterval)
	assert.False(t, cfg.AppAutoRegister.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("KEYCLOAK_BASE_URL", "https://auth.example.com")
	t.Setenv("KEYCLOAK_REALM", "clinical")
	t.Setenv("FHIR_BASE_URL", "https://fhir.example.com/r4")
	t.Setenv("ASSERTION_ALGORITHM", "ES384")
	t.Setenv("MONITOR_PING_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://auth.example.com", cfg.Keycloak.BaseURL)
	assert.Equal(t, "clinical", cfg.Keycloak.Realm)
	assert.Equal(t, "https://fhir.example.com/r4", cfg.FHIR.BaseURL)
	assert.Equal(t, "ES384", cfg.Assertion.Algorithm)
	assert.Equal(t, 15*time.Second, cfg.Monitor.PingInterval)
}

func TestLoad_ServiceURLDefaultsPerEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "PROD")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://keycloak.auth.svc.cluster.local:8080", cfg.Keycloak.BaseURL)
	assert.Equal(t, "http://hapi-fhir.fhir.svc.cluster.local:8080/fhir", cfg.FHIR.BaseURL)
}

func TestLoad_ExplicitURLsBeatEnvironmentDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT_ENV", "NONPROD")
	t.Setenv("KEYCLOAK_BASE_URL", "https://auth.staging.example.com")
	t.Setenv("FHIR_BASE_URL", "https://fhir.staging.example.com/r4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://auth.staging.example.com", cfg.Keycloak.BaseURL)
	assert.Equal(t, "https://fhir.staging.example.com/r4", cfg.FHIR.BaseURL)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port_too_low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server port",
		},
		{
			name:    "port_too_high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "missing_keycloak_url",
			mutate:  func(c *Config) { c.Keycloak.BaseURL = "" },
			wantErr: "keycloak base URL",
		},
		{
			name:    "missing_realm",
			mutate:  func(c *Config) { c.Keycloak.Realm = "" },
			wantErr: "keycloak realm",
		},
		{
			name:    "missing_fhir_url",
			mutate:  func(c *Config) { c.FHIR.BaseURL = "" },
			wantErr: "FHIR base URL",
		},
		{
			name:    "symmetric_assertion_algorithm",
			mutate:  func(c *Config) { c.Assertion.Algorithm = "HS256" },
			wantErr: "unsupported assertion algorithm",
		},
		{
			name:    "assertion_lifetime_too_short",
			mutate:  func(c *Config) { c.Assertion.Lifetime = 10 * time.Second },
			wantErr: "assertion lifetime",
		},
		{
			name:    "assertion_lifetime_too_long",
			mutate:  func(c *Config) { c.Assertion.Lifetime = 10 * time.Minute },
			wantErr: "assertion lifetime",
		},
		{
			name:    "zero_monitor_buffer",
			mutate:  func(c *Config) { c.Monitor.BufferSize = 0 },
			wantErr: "monitor buffer size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_URLHelpers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()

	assert.Equal(t, "0.0.0.0:8445", cfg.ServerAddr())
	assert.Equal(t, "http://localhost:8080/realms/smart", cfg.RealmURL())
	assert.Equal(t, "http://localhost:8080/admin/realms/smart", cfg.AdminRealmURL())
	assert.Equal(t, "http://localhost:8080/realms/smart/protocol/openid-connect/token", cfg.TokenURL())
}

func TestConfig_IsTLSEnabled(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.False(t, cfg.IsTLSEnabled())

	cfg.Server.TLSCert = "/certs/server.crt"
	assert.False(t, cfg.IsTLSEnabled())

	cfg.Server.TLSKey = "/certs/server.key"
	assert.True(t, cfg.IsTLSEnabled())
}
