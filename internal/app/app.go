// Package app assembles the process from configuration: storage, the
// optional Redis connection, caches, limiters, the engine service, the
// background scheduler and the HTTP server.
package app

import (
	"context"

	"calsync/internal/circuitbreaker"
	"calsync/internal/common/cache"
	"calsync/internal/common/logging"
	"calsync/internal/common/ratelimit"
	"calsync/internal/config"
	"calsync/internal/health"
	"calsync/internal/locks"
	"calsync/internal/metrics"
	"calsync/internal/redis"
	"calsync/internal/scheduler"
	"calsync/internal/service"
	"calsync/internal/storage"

	"go.uber.org/multierr"
)

// App holds all the application dependencies
type App struct {
	Config    *config.Config
	Store     storage.Store
	Redis     *redis.Client
	Cache     cache.Cache
	Limiter   ratelimit.Limiter
	Breakers  *circuitbreaker.Manager
	Locks     locks.Locker
	Metrics   *metrics.Metrics
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Logger    logging.Logger
}

// New creates the application. Components are initialized in dependency
// order; a failure releases what was already opened.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
		Metrics: metrics.New(),
	}

	if err := app.initializeStorage(); err != nil {
		return nil, err
	}
	if err := app.initializeRedis(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeCache(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeRateLimiter(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeLocks(); err != nil {
		app.Cleanup()
		return nil, err
	}

	app.Breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), app.Logger)
	infra := service.Infra{
		Store:    app.Store,
		Cache:    app.Cache,
		Limiter:  app.Limiter,
		Breakers: app.Breakers,
		Locks:    app.Locks,
		Metrics:  app.Metrics,
		Logger:   logging.GetGlobalLogger(),
	}
	// Health checks run on whichever instance holds the job lock, so the
	// counters live next to it in Redis.
	if app.Redis != nil {
		infra.HealthRecords = health.NewCacheRecords(app.Cache)
	}
	app.Service = service.Build(cfg, infra)

	if err := app.initializeScheduler(); err != nil {
		app.Cleanup()
		return nil, err
	}
	return app, nil
}

// Shutdown stops the scheduler, waiting for running jobs until ctx ends
func (app *App) Shutdown(ctx context.Context) error {
	if app.Scheduler == nil {
		return nil
	}
	return app.Scheduler.Stop(ctx)
}

// Cleanup releases storage and Redis connections
func (app *App) Cleanup() {
	var err error
	if app.Store != nil {
		err = multierr.Append(err, app.Store.Close())
	}
	if app.Redis != nil {
		err = multierr.Append(err, app.Redis.Close())
	}
	if err != nil {
		app.Logger.Warn("Cleanup failed", logging.Err(err))
	}
}
