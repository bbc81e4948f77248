// Package config loads service configuration from environment variables.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file; stdout when empty
//   - TLS_CERT_FILE, TLS_KEY_FILE: Serve HTTPS when both are set
//   - SHUTDOWN_TIMEOUT: Grace period for in-flight requests and jobs (default: 30s)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./calsync.db)
//   - DATABASE_URL: PostgreSQL connection URL (required for postgres)
//   - CONFIG_ENCRYPTION_KEY: Key for encrypting stored credentials (32 characters if provided)
//
// Cache Configuration:
//   - CACHE_BACKEND: "local" or "redis" (default: local)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//   - DISCOVERY_CACHE_TTL: Discovery cache lifetime (default: 300s)
//   - CACHE_SWEEP_SCHEDULE: Cron spec for expired entry sweeps (default: @every 10m)
//
// Calendar Access:
//   - FETCH_CONCURRENCY: Max in-flight calendar fetches per call (default: 20)
//   - FETCH_TIMEOUT: Per-calendar fetch timeout (default: 30s)
//   - PROBE_TIMEOUT: Server flavor probe timeout (default: 5s)
//   - REQUEST_TIMEOUT: Timeout for other provider calls (default: 30s)
//   - VALIDATION_PROBE_RATE: Connectivity probes per minute per provider and host (default: 6)
//
// Hosted Providers:
//   - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET: OAuth client used to refresh Google tokens
//   - MICROSOFT_CLIENT_ID, MICROSOFT_CLIENT_SECRET: OAuth client used to refresh Outlook tokens
//   - MICROSOFT_TENANT: Azure AD tenant (default: common)
//
// Health Checks:
//   - HEALTH_FAILURE_THRESHOLD: Hard failures before deactivation (default: 3)
//   - HEALTH_RECOVERY_THRESHOLD: Successes before a degraded integration is healthy (default: 2)
//   - HEALTH_CHECK_SCHEDULE: Cron spec for background checks (default: @every 5m)
//   - HEALTH_CHECK_TIMEOUT: Per-check timeout (default: 30s)
//   - HEALTH_CHECKS_ENABLED: Run background checks on HEALTH_CHECK_SCHEDULE (default: true)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"calsync/internal/common/utils"

	"go.uber.org/multierr"
)

// Config holds all configuration values. Load fills it from the environment;
// Validate must be called before use.
type Config struct {
	// Application settings
	Port     string
	LogLevel string
	LogFile  string

	TLSCertFile     string
	TLSKeyFile      string
	ShutdownTimeout time.Duration

	// Persistence
	DatabaseType  string
	DatabasePath  string
	DatabaseURL   string
	EncryptionKey string

	// Cache and Redis
	CacheBackend       string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	RedisPoolSize      int
	DiscoveryCacheTTL  time.Duration
	CacheSweepSchedule string

	// Calendar access
	FetchConcurrency    int
	FetchTimeout        time.Duration
	ProbeTimeout        time.Duration
	RequestTimeout      time.Duration
	ValidationProbeRate int

	// Hosted providers
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenant       string

	// Health checks
	HealthFailureThreshold  int
	HealthRecoveryThreshold int
	HealthCheckSchedule     string
	HealthCheckTimeout      time.Duration
	HealthChecksEnabled     bool

	parseErrors []error
}

// Load creates a Config from environment variables. Malformed numeric or
// duration values keep their defaults and are reported by Validate.
func Load() *Config {
	c := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		DatabaseType:  getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:  getEnv("DATABASE_PATH", "./calsync.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),

		CacheBackend:       getEnv("CACHE_BACKEND", "local"),
		RedisAddress:       getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		CacheSweepSchedule: getEnv("CACHE_SWEEP_SCHEDULE", "@every 10m"),

		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenant:       getEnv("MICROSOFT_TENANT", "common"),

		HealthCheckSchedule: getEnv("HEALTH_CHECK_SCHEDULE", "@every 5m"),
		HealthChecksEnabled: getBoolEnv("HEALTH_CHECKS_ENABLED", true),
	}

	c.ShutdownTimeout = c.durationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	c.RedisDB = c.intEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.intEnv("REDIS_POOL_SIZE", 10)
	c.DiscoveryCacheTTL = c.durationEnv("DISCOVERY_CACHE_TTL", 300*time.Second)

	c.FetchConcurrency = c.intEnv("FETCH_CONCURRENCY", 20)
	c.FetchTimeout = c.durationEnv("FETCH_TIMEOUT", 30*time.Second)
	c.ProbeTimeout = c.durationEnv("PROBE_TIMEOUT", 5*time.Second)
	c.RequestTimeout = c.durationEnv("REQUEST_TIMEOUT", 30*time.Second)
	c.ValidationProbeRate = c.intEnv("VALIDATION_PROBE_RATE", 6)

	c.HealthFailureThreshold = c.intEnv("HEALTH_FAILURE_THRESHOLD", 3)
	c.HealthRecoveryThreshold = c.intEnv("HEALTH_RECOVERY_THRESHOLD", 2)
	c.HealthCheckTimeout = c.durationEnv("HEALTH_CHECK_TIMEOUT", 30*time.Second)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) intEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// durationEnv accepts Go durations plus the "d" and "w" suffixes.
func (c *Config) durationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := utils.ParseDuration(value)
	if err != nil {
		c.parseErrors = append(c.parseErrors, fmt.Errorf("%s must be a valid duration (e.g. '300s', '5m'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	err := multierr.Combine(c.parseErrors...)

	if port, perr := strconv.Atoi(c.Port); perr != nil || port < 1 || port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT must be a valid port number between 1 and 65535"))
	}

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			err = multierr.Append(err, fmt.Errorf("DATABASE_PATH is required when using SQLite"))
		}
	case "postgres", "postgresql":
		if c.DatabaseURL == "" {
			err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required when using PostgreSQL"))
		}
	case "memory":
	default:
		err = multierr.Append(err, fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'"))
	}

	switch c.CacheBackend {
	case "local":
	case "redis":
		if c.RedisAddress == "" {
			err = multierr.Append(err, fmt.Errorf("REDIS_ADDRESS is required when CACHE_BACKEND is redis"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			err = multierr.Append(err, fmt.Errorf("REDIS_DB must be a number between 0 and 15"))
		}
		if c.RedisPoolSize < 1 {
			err = multierr.Append(err, fmt.Errorf("REDIS_POOL_SIZE must be a positive number"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("CACHE_BACKEND must be 'local' or 'redis'"))
	}

	positive := []struct {
		name  string
		value int
	}{
		{"FETCH_CONCURRENCY", c.FetchConcurrency},
		{"VALIDATION_PROBE_RATE", c.ValidationProbeRate},
		{"HEALTH_FAILURE_THRESHOLD", c.HealthFailureThreshold},
		{"HEALTH_RECOVERY_THRESHOLD", c.HealthRecoveryThreshold},
	}
	for _, p := range positive {
		if p.value < 1 {
			err = multierr.Append(err, fmt.Errorf("%s must be a positive number", p.name))
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"DISCOVERY_CACHE_TTL", c.DiscoveryCacheTTL},
		{"FETCH_TIMEOUT", c.FetchTimeout},
		{"PROBE_TIMEOUT", c.ProbeTimeout},
		{"REQUEST_TIMEOUT", c.RequestTimeout},
		{"HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive", d.name))
		}
	}

	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		err = multierr.Append(err, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if (c.MicrosoftClientID == "") != (c.MicrosoftClientSecret == "") {
		err = multierr.Append(err, fmt.Errorf("MICROSOFT_CLIENT_ID and MICROSOFT_CLIENT_SECRET must be set together"))
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		err = multierr.Append(err, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		err = multierr.Append(err, fmt.Errorf("CONFIG_ENCRYPTION_KEY must be exactly 32 characters (256 bits) when provided"))
	}

	return err
}
