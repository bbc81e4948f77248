// Package handlers exposes the integration engine over a JSON HTTP API.
package handlers

import (
	"net/http"

	"calsync/internal/common/logging"
	"calsync/internal/metrics"
	"calsync/internal/service"

	"github.com/gorilla/mux"
)

type Handlers struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  logging.Logger
}

func New(svc *service.Service, m *metrics.Metrics, logger logging.Logger) *Handlers {
	return &Handlers{
		svc:     svc,
		metrics: m,
		logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "handlers")),
	}
}

// Routes registers every endpoint on r
func (h *Handlers) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/providers", h.GetProviders).Methods(http.MethodGet)

	// Integrations
	api.HandleFunc("/integrations", h.ListIntegrations).Methods(http.MethodGet)
	api.HandleFunc("/integrations", h.CreateIntegration).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{id}", h.GetIntegration).Methods(http.MethodGet)
	api.HandleFunc("/integrations/{id}", h.DeleteIntegration).Methods(http.MethodDelete)
	api.HandleFunc("/integrations/{id}/test", h.TestConnection).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{id}/calendars", h.DiscoverCalendars).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/integrations/{id}/cache", h.ClearCache).Methods(http.MethodDelete)

	// Events
	api.HandleFunc("/integrations/{id}/events", h.GetEvents).Methods(http.MethodGet)
	api.HandleFunc("/integrations/{id}/events", h.CreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{id}/events/{uid}", h.UpdateEvent).Methods(http.MethodPut)
	api.HandleFunc("/integrations/{id}/events/{uid}", h.DeleteEvent).Methods(http.MethodDelete)

	// Health
	api.HandleFunc("/health/checks", h.RunHealthChecks).Methods(http.MethodPost)
	api.HandleFunc("/health/{kind}/{id}", h.GetHealthStatus).Methods(http.MethodGet)
	api.HandleFunc("/health/{kind}/{id}/reactivate", h.Reactivate).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/health", h.GetUserHealthReport).Methods(http.MethodGet)
}

// Router builds a mux router with every route and the request middleware
func (h *Handlers) Router(middleware ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware...)
	h.Routes(r)
	return r
}

// HealthCheck reports whether storage is reachable
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		h.logger.Warn("Health check failed", logging.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetProviders lists registered providers with their configuration schemas
func (h *Handlers) GetProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Providers())
}
