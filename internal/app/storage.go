package app

import (
	"fmt"

	"calsync/internal/common/logging"
	"calsync/internal/storage"

	// Backends register themselves with the storage registry
	_ "calsync/internal/storage/memory"
	_ "calsync/internal/storage/postgres"
	_ "calsync/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL")
	case "memory":
		app.Logger.Warn("Database: in-memory, integrations are lost on restart")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.New(app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Store = store
	return nil
}
