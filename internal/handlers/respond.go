package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"calsync/internal/classifier"
	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and a body safe to show to users.
// Provider failures are sanitized; local validation messages pass through.
func (h *Handlers) writeError(w http.ResponseWriter, err error, provider string) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.InternalError("unexpected error", err)
	}

	resp := ErrorResponse{Type: string(appErr.Type), Code: appErr.Code}
	switch {
	case appErr.Type == errors.ErrTypeInternal:
		h.logger.Error("Request failed", err)
		resp.Error = "Internal server error"
	case fromProvider(appErr):
		resp.Error = classifier.SanitizeMessage(err, provider, h.logger)
		resp.Hint = classifier.RecoveryHint(classifier.Classify(err), provider)
	default:
		resp.Error = appErr.Message
	}

	writeJSON(w, statusFor(appErr.Type), resp)
}

// fromProvider reports whether the error came back from a calendar server
// rather than from local validation or storage.
func fromProvider(e *errors.AppError) bool {
	if e.StatusCode() != 0 {
		return true
	}
	switch e.Type {
	case errors.ErrTypeAuth, errors.ErrTypePermission, errors.ErrTypeNetwork, errors.ErrTypeTimeout, errors.ErrTypeRateLimit:
		return true
	}
	return false
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return http.StatusBadRequest
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypePermission:
		return http.StatusForbidden
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrTypeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}

// queryTime parses an RFC 3339 query parameter; a missing one is zero.
func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.ValidationError(name + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// providerOf looks up the provider tag of an integration for error messages
func (h *Handlers) providerOf(r *http.Request, id string) string {
	in, err := h.svc.GetIntegration(r.Context(), id)
	if err != nil {
		h.logger.Debug("Provider lookup failed", logging.String("integration_id", id), logging.Err(err))
		return ""
	}
	return in.Provider
}
