package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FILE", "DATABASE_TYPE", "DATABASE_PATH", "DATABASE_URL",
	"CONFIG_ENCRYPTION_KEY", "CACHE_BACKEND", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB",
	"REDIS_POOL_SIZE", "DISCOVERY_CACHE_TTL", "CACHE_SWEEP_SCHEDULE", "FETCH_CONCURRENCY",
	"FETCH_TIMEOUT", "PROBE_TIMEOUT", "REQUEST_TIMEOUT", "VALIDATION_PROBE_RATE",
	"HEALTH_FAILURE_THRESHOLD", "HEALTH_RECOVERY_THRESHOLD", "HEALTH_CHECK_SCHEDULE",
	"HEALTH_CHECK_TIMEOUT", "HEALTH_CHECKS_ENABLED", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
	"MICROSOFT_CLIENT_ID", "MICROSOFT_CLIENT_SECRET", "MICROSOFT_TENANT",
	"TLS_CERT_FILE", "TLS_KEY_FILE", "SHUTDOWN_TIMEOUT",
}

func clearTestEnvVars(t *testing.T) {
	for _, key := range testEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, "./calsync.db", config.DatabasePath)
	assert.Equal(t, "local", config.CacheBackend)
	assert.Equal(t, 300*time.Second, config.DiscoveryCacheTTL)
	assert.Equal(t, "@every 10m", config.CacheSweepSchedule)
	assert.Equal(t, 20, config.FetchConcurrency)
	assert.Equal(t, 30*time.Second, config.FetchTimeout)
	assert.Equal(t, 5*time.Second, config.ProbeTimeout)
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
	assert.Equal(t, 6, config.ValidationProbeRate)
	assert.Equal(t, 3, config.HealthFailureThreshold)
	assert.Equal(t, 2, config.HealthRecoveryThreshold)
	assert.Equal(t, "@every 5m", config.HealthCheckSchedule)
	assert.Equal(t, 30*time.Second, config.HealthCheckTimeout)
	assert.True(t, config.HealthChecksEnabled)
	assert.Equal(t, "common", config.MicrosoftTenant)
	assert.Equal(t, 30*time.Second, config.ShutdownTimeout)

	assert.NoError(t, config.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://calsync@localhost/calsync")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DISCOVERY_CACHE_TTL", "10m")
	t.Setenv("FETCH_CONCURRENCY", "5")
	t.Setenv("HEALTH_CHECK_TIMEOUT", "1d")
	t.Setenv("HEALTH_CHECKS_ENABLED", "false")

	config := Load()
	require.NoError(t, config.Validate())

	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "postgres", config.DatabaseType)
	assert.Equal(t, 3, config.RedisDB)
	assert.Equal(t, 10*time.Minute, config.DiscoveryCacheTTL)
	assert.Equal(t, 5, config.FetchConcurrency)
	assert.Equal(t, 24*time.Hour, config.HealthCheckTimeout)
	assert.False(t, config.HealthChecksEnabled)
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "99999")
	t.Setenv("FETCH_TIMEOUT", "soon")
	t.Setenv("FETCH_CONCURRENCY", "0")
	t.Setenv("CONFIG_ENCRYPTION_KEY", "short")

	err := Load().Validate()
	require.Error(t, err)

	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)
	assert.Contains(t, err.Error(), "FETCH_TIMEOUT must be a valid duration")
	assert.Contains(t, err.Error(), "PORT must be a valid port number")
	assert.Contains(t, err.Error(), "FETCH_CONCURRENCY must be a positive number")
	assert.Contains(t, err.Error(), "CONFIG_ENCRYPTION_KEY")
}

func TestValidate(t *testing.T) {
	clearTestEnvVars(t)

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad database type", func(c *Config) { c.DatabaseType = "mysql" }, "DATABASE_TYPE"},
		{"postgres without url", func(c *Config) { c.DatabaseType = "postgres" }, "DATABASE_URL is required"},
		{"bad cache backend", func(c *Config) { c.CacheBackend = "memcached" }, "CACHE_BACKEND"},
		{"redis db out of range", func(c *Config) { c.CacheBackend = "redis"; c.RedisDB = 16 }, "REDIS_DB"},
		{"zero ttl", func(c *Config) { c.DiscoveryCacheTTL = 0 }, "DISCOVERY_CACHE_TTL must be positive"},
		{"zero threshold", func(c *Config) { c.HealthFailureThreshold = 0 }, "HEALTH_FAILURE_THRESHOLD"},
		{"memory store", func(c *Config) { c.DatabaseType = "memory" }, ""},
		{"google id without secret", func(c *Config) { c.GoogleClientID = "id" }, "GOOGLE_CLIENT_SECRET"},
		{"cert without key", func(c *Config) { c.TLSCertFile = "server.pem" }, "TLS_KEY_FILE"},
		{"valid key", func(c *Config) { c.EncryptionKey = "0123456789abcdef0123456789abcdef" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Load()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("CALSYNC_TEST_BOOL", "1")
	assert.True(t, getBoolEnv("CALSYNC_TEST_BOOL", false))

	t.Setenv("CALSYNC_TEST_BOOL", "nope")
	assert.False(t, getBoolEnv("CALSYNC_TEST_BOOL", false))

	t.Setenv("CALSYNC_TEST_BOOL", "")
	assert.True(t, getBoolEnv("CALSYNC_TEST_BOOL", true))
}
