package cache

import (
	"fmt"
	"time"

	"calsync/internal/common/errors"

	"github.com/go-redis/redis/v8"
)

// Type selects the cache backend
type Type string

const (
	TypeLocal Type = "local"
	TypeRedis Type = "redis"
)

// Config holds cache configuration. RedisClient is required for TypeRedis;
// TTL and CleanupInterval only apply to the in-process backend.
type Config struct {
	Type            Type
	TTL             time.Duration
	CleanupInterval time.Duration
	KeyPrefix       string
	RedisClient     *redis.Client
}

func DefaultConfig() Config {
	return Config{
		Type:            TypeLocal,
		TTL:             5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
		KeyPrefix:       "calsync:",
	}
}

// New builds the configured backend. An empty type means local.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case TypeLocal, "":
		cleanup := cfg.CleanupInterval
		if cleanup <= 0 {
			cleanup = 2 * cfg.TTL
		}
		return NewLocalCache(cfg.TTL, cleanup), nil
	case TypeRedis:
		if cfg.RedisClient == nil {
			return nil, errors.ConfigError("redis cache requires a redis client")
		}
		return NewRedisCache(cfg.RedisClient, cfg.KeyPrefix), nil
	}
	return nil, errors.ConfigError(fmt.Sprintf("unknown cache backend %q", cfg.Type))
}
