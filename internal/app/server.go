package app

import (
	"net/http"

	"calsync/internal/handlers"
	"calsync/internal/middleware"
	"calsync/internal/server"
)

// Handler builds the HTTP API with request middleware
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Service, app.Metrics, app.Logger)
	return h.Router(
		middleware.RequestID,
		middleware.Recover(app.Logger),
		middleware.Logging(app.Logger),
	)
}

// NewServer creates the HTTP server for the configured port and TLS files
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile, app.Logger)
}
