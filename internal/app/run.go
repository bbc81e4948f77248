package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"calsync/internal/common/logging"
	"calsync/internal/config"

	"github.com/joho/godotenv"
)

// Run loads configuration, starts the API and the scheduler, and blocks
// until SIGINT or SIGTERM or a server failure.
func Run() error {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg := config.Load()
	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := app.NewServer()
	errCh, err := srv.Start()
	if err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	app.Scheduler.Start()
	logging.Info("calsync started",
		logging.String("port", cfg.Port),
		logging.Any("jobs", app.Scheduler.Jobs()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logging.Info("Shutting down")
	case serveErr = <-errCh:
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Scheduler did not stop in time", logging.Err(err))
	}

	logging.Info("Server exited")
	return serveErr
}
