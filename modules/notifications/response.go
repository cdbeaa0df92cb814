package notifications

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/notifykit/pkg/notify"
)

// jsonResponse is the standard JSON envelope.
type jsonResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *errorDetail   `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body jsonResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, jsonResponse{Data: data})
}

// writeError maps domain errors to HTTP statuses: validation failures are
// the caller's fault, unknown rows are 404, everything else is opaque 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notify.ErrValidation):
		writeJSON(w, http.StatusBadRequest, jsonResponse{
			Error: &errorDetail{Code: "validation_error", Message: err.Error()},
		})
	case errors.Is(err, notify.ErrNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{
			Error: &errorDetail{Code: "not_found", Message: "notification not found"},
		})
	case errors.Is(err, notify.ErrSweepInProgress):
		writeJSON(w, http.StatusConflict, jsonResponse{
			Error: &errorDetail{Code: "sweep_in_progress", Message: "a sweep is already running"},
		})
	default:
		writeJSON(w, http.StatusInternalServerError, jsonResponse{
			Error: &errorDetail{Code: "internal_error"},
		})
	}
}
