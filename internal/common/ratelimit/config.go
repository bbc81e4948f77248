// Package ratelimit provides keyed rate limiting, either in process with
// golang.org/x/time/rate or shared through Redis.
package ratelimit

import (
	"fmt"
	"time"
)

// BackendType defines the rate limiter backend
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// Config represents rate limiter configuration
type Config struct {
	// MaxRequests per Window for each key
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	Enabled     bool          `json:"enabled"`

	Type      BackendType `json:"type"`
	KeyPrefix string      `json:"key_prefix,omitempty"`

	// Cleanup settings for local limiters
	MaxKeys       int           `json:"max_keys,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty"`
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Type == "" {
		c.Type = BackendLocal
	}

	switch c.Type {
	case BackendLocal:
		if c.MaxKeys <= 0 {
			c.MaxKeys = 10000
		}
		if c.CleanupPeriod <= 0 {
			c.CleanupPeriod = 5 * time.Minute
		}
	case BackendRedis:
		if c.KeyPrefix == "" {
			c.KeyPrefix = "calsync:ratelimit:"
		}
	default:
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	return nil
}
