package app

import (
	"context"

	"calsync/internal/common/logging"
	"calsync/internal/locks"
	"calsync/internal/scheduler"
)

// initializeLocks shares job locks through Redis when it is configured, so
// a scheduled job runs on one instance at a time.
func (app *App) initializeLocks() error {
	if app.Redis == nil {
		app.Locks = locks.NewLocal()
		return nil
	}
	l, err := locks.NewRedsync(app.Redis, app.Logger)
	if err != nil {
		return err
	}
	app.Locks = l
	return nil
}

// initializeScheduler registers the background jobs. Health checks honor
// per-integration backoff; the sweep drops expired discovery entries.
func (app *App) initializeScheduler() error {
	app.Scheduler = scheduler.New(app.Logger)

	if app.Config.HealthChecksEnabled {
		err := app.Scheduler.Add(app.exclusive(scheduler.Job{
			Name:    "health-checks",
			Spec:    app.Config.HealthCheckSchedule,
			Timeout: 2 * app.Config.HealthCheckTimeout,
			Run: func(ctx context.Context) error {
				_, err := app.Service.RunHealthChecks(ctx, false)
				return err
			},
		}))
		if err != nil {
			return err
		}
	}

	return app.Scheduler.Add(app.exclusive(scheduler.Job{
		Name:    "discovery-cache-sweep",
		Spec:    app.Config.CacheSweepSchedule,
		Timeout: app.Config.RequestTimeout,
		Run: func(ctx context.Context) error {
			removed, err := app.Service.SweepDiscoveryCache(ctx)
			if err != nil {
				return err
			}
			if removed > 0 {
				app.Logger.Debug("Discovery cache swept", logging.Int("removed", removed))
			}
			return nil
		},
	}))
}

// exclusive makes job skip its run when another holder has its lock
func (app *App) exclusive(job scheduler.Job) scheduler.Job {
	run := job.Run
	job.Run = func(ctx context.Context) error {
		ran, err := app.Locks.TryRun(ctx, job.Name, job.Timeout, run)
		if !ran && err == nil {
			app.Logger.Debug("Job skipped, lock held elsewhere", logging.String("job", job.Name))
		}
		return err
	}
	return job
}
