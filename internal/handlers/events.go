package handlers

import (
	"net/http"
	"time"

	"calsync/internal/models"

	"github.com/gorilla/mux"
)

// GetEvents reads events between start and end (RFC 3339, default the
// current month). With selected=true only the selected calendars are read
// and failing calendars are skipped; otherwise every configured calendar is
// read and the call fails when all of them fail.
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	start, err := queryTime(r, "start")
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		h.writeError(w, err, "")
		return
	}

	var events []models.Event
	if queryBool(r, "selected") {
		events, err = h.svc.FetchEvents(r.Context(), id, start, end)
	} else {
		events, err = h.svc.GetEvents(r.Context(), id, start, end)
	}
	if err != nil {
		h.writeError(w, err, h.providerOf(r, id))
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// EventRequest is the writable subset of an event
type EventRequest struct {
	UID         string    `json:"uid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Status      string    `json:"status"`
	Recurrence  string    `json:"recurrence"`
}

func (req EventRequest) event() models.Event {
	return models.Event{
		UID:         req.UID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       req.Start,
		End:         req.End,
		AllDay:      req.AllDay,
		Status:      req.Status,
		Recurrence:  req.Recurrence,
	}
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}

	ev, err := h.svc.CreateEvent(r.Context(), id, req.event())
	if err != nil {
		h.writeError(w, err, h.providerOf(r, id))
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}
	req.UID = vars["uid"]

	ev, err := h.svc.UpdateEvent(r.Context(), vars["id"], vars["uid"], req.event())
	if err != nil {
		h.writeError(w, err, h.providerOf(r, vars["id"]))
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.DeleteEvent(r.Context(), vars["id"], vars["uid"]); err != nil {
		h.writeError(w, err, h.providerOf(r, vars["id"]))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
