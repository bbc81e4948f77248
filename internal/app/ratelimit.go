package app

import (
	"fmt"
	"time"

	"calsync/internal/common/logging"
	"calsync/internal/common/ratelimit"
)

// initializeRateLimiter bounds connectivity probes per provider and host.
// With Redis the budget is shared by every instance.
func (app *App) initializeRateLimiter() error {
	cfg := ratelimit.Config{
		MaxRequests: app.Config.ValidationProbeRate,
		Window:      time.Minute,
		Enabled:     true,
		Type:        ratelimit.BackendLocal,
		KeyPrefix:   "calsync:probe:",
	}

	var backend ratelimit.RedisInterface
	if app.Redis != nil {
		cfg.Type = ratelimit.BackendRedis
		backend = app.Redis
	}

	limiter, err := ratelimit.New(cfg, backend)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	app.Limiter = limiter
	app.Logger.Info("Validation probe limit",
		logging.Int("per_minute", cfg.MaxRequests),
		logging.String("backend", string(cfg.Type)),
	)
	return nil
}
