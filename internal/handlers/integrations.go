package handlers

import (
	"net/http"

	"calsync/internal/common/errors"
	"calsync/internal/common/pagination"
	"calsync/internal/models"

	"github.com/gorilla/mux"
)

// IntegrationRequest is the body of CreateIntegration. Credentials are
// accepted here but never echoed back.
type IntegrationRequest struct {
	UserID        string                 `json:"user_id"`
	Kind          models.Kind            `json:"kind"`
	Provider      string                 `json:"provider"`
	Name          string                 `json:"name"`
	BaseURL       string                 `json:"base_url"`
	SkipTLSVerify bool                   `json:"skip_tls_verify"`
	Credentials   models.Credentials     `json:"credentials"`
	CalendarList  []models.CalendarEntry `json:"calendar_list"`
}

func (req IntegrationRequest) integration() *models.Integration {
	return &models.Integration{
		UserID:        req.UserID,
		Kind:          req.Kind,
		Provider:      req.Provider,
		Name:          req.Name,
		BaseURL:       req.BaseURL,
		SkipTLSVerify: req.SkipTLSVerify,
		Credentials:   req.Credentials,
		CalendarList:  req.CalendarList,
	}
}

// ListIntegrations returns one page of a user's integrations
// @Summary List integrations
// @Tags integrations
// @Produce json
// @Param user_id query string true "Owner"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Router /api/integrations [get]
func (h *Handlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, errors.ValidationError("user_id is required"), "")
		return
	}

	integrations, err := h.svc.ListIntegrations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, pagination.Slice(integrations, pagination.ParseParams(r)))
}

// CreateIntegration validates connectivity and stores a new integration
// @Summary Create integration
// @Tags integrations
// @Accept json
// @Produce json
// @Router /api/integrations [post]
func (h *Handlers) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req IntegrationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}

	in := req.integration()
	if err := h.svc.CreateIntegration(r.Context(), in); err != nil {
		h.writeError(w, err, req.Provider)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (h *Handlers) GetIntegration(w http.ResponseWriter, r *http.Request) {
	in, err := h.svc.GetIntegration(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *Handlers) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteIntegration(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestConnection probes the integration's server with its stored credentials
func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := h.svc.TestConnection(r.Context(), id)
	if err != nil {
		h.writeError(w, err, h.providerOf(r, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
}

// DiscoverCalendars lists the account's calendars; force=true bypasses the cache
func (h *Handlers) DiscoverCalendars(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	calendars, err := h.svc.DiscoverCalendars(r.Context(), id, queryBool(r, "force"))
	if err != nil {
		h.writeError(w, err, h.providerOf(r, id))
		return
	}
	writeJSON(w, http.StatusOK, calendars)
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
