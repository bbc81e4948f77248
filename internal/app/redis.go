package app

import (
	"fmt"

	"calsync/internal/common/cache"
	"calsync/internal/common/logging"
	"calsync/internal/redis"
)

// initializeRedis connects only when CACHE_BACKEND is redis; a configured
// but unreachable Redis is a startup error.
func (app *App) initializeRedis() error {
	if app.Config.CacheBackend != "redis" {
		app.Logger.Info("Redis: Not configured, using in-process cache and limiter")
		return nil
	}

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	app.Redis = client
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}

func (app *App) initializeCache() error {
	cfg := cache.DefaultConfig()
	cfg.TTL = app.Config.DiscoveryCacheTTL
	cfg.CleanupInterval = 2 * app.Config.DiscoveryCacheTTL
	if app.Redis != nil {
		cfg.Type = cache.TypeRedis
		cfg.RedisClient = app.Redis.Redis()
	}

	c, err := cache.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.Cache = c
	app.Logger.Info("Discovery cache initialized",
		logging.String("type", string(cfg.Type)),
		logging.Duration("ttl", cfg.TTL),
	)
	return nil
}
