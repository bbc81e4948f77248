package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits or rejects one event for a key without blocking
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisInterface is the subset of the Redis client the distributed limiter needs
type RedisInterface interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// New creates the limiter selected by config.Type
func New(config Config, redisClient RedisInterface) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return Unlimited{}, nil
	}

	switch config.Type {
	case BackendRedis:
		return NewDistributedLimiter(config, redisClient)
	default:
		return NewLocalLimiter(config)
	}
}

// Unlimited admits everything
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// LocalLimiter keeps one token bucket per key
type LocalLimiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates a keyed token-bucket limiter. Each key refills at
// MaxRequests per Window with a burst of MaxRequests.
func NewLocalLimiter(config Config) (*LocalLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &LocalLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}, nil
}

// Allow reports whether an event for key may happen now
func (rl *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !rl.config.Enabled {
		return true, nil
	}
	return rl.limiterFor(key).Allow(), nil
}

func (rl *LocalLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		every := rl.config.Window / time.Duration(rl.config.MaxRequests)
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(every), rl.config.MaxRequests)}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup(now)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

// cleanup removes limiters that have not been used within CleanupPeriod
func (rl *LocalLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.CleanupPeriod)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = now
}

// ActiveKeys returns the number of tracked keys
func (rl *LocalLimiter) ActiveKeys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// DistributedLimiter applies a Redis sliding window shared by all instances
type DistributedLimiter struct {
	config      Config
	redisClient RedisInterface
}

// NewDistributedLimiter creates a Redis-backed limiter
func NewDistributedLimiter(config Config, redisClient RedisInterface) (*DistributedLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required for distributed rate limiter")
	}
	return &DistributedLimiter{config: config, redisClient: redisClient}, nil
}

// Allow reports whether an event for key may happen now
func (rl *DistributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !rl.config.Enabled {
		return true, nil
	}
	allowed, _, err := rl.redisClient.CheckRateLimit(ctx, rl.config.KeyPrefix+key, rl.config.MaxRequests, rl.config.Window)
	if err != nil {
		return false, err
	}
	return allowed, nil
}
