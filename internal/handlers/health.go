package handlers

import (
	"net/http"

	"calsync/internal/common/errors"
	"calsync/internal/models"

	"github.com/gorilla/mux"
)

// RunHealthChecks checks every active integration. With force=true
// integrations waiting out a transient backoff are checked too.
func (h *Handlers) RunHealthChecks(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.RunHealthChecks(r.Context(), queryBool(r, "force"))
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetHealthStatus(w http.ResponseWriter, r *http.Request) {
	kind, id, err := healthTarget(r)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GetHealthStatus(kind, id))
}

// Reactivate re-enables an integration deactivated after repeated failures
func (h *Handlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	kind, id, err := healthTarget(r)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	rec, err := h.svc.Reactivate(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) GetUserHealthReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetUserHealthReport(r.Context(), mux.Vars(r)["user_id"]))
}

func healthTarget(r *http.Request) (models.Kind, string, error) {
	vars := mux.Vars(r)
	kind := models.Kind(vars["kind"])
	if kind != models.KindCalendar && kind != models.KindVideo {
		return "", "", errors.ValidationError("kind must be calendar or video")
	}
	return kind, vars["id"], nil
}
