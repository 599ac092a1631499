package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecothreads-notify/internal/application/notification"
	"github.com/ecothreads-notify/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResultEnvelope wraps the outcome of a single-record trigger.
type ResultEnvelope struct {
	Result *notification.Result `json:"result,omitempty"`
}

// BatchEnvelope wraps the outcome of a fan-out or sweep.
type BatchEnvelope struct {
	Trigger    string                `json:"trigger"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	Suppressed int                   `json:"suppressed"`
	Skipped    int                   `json:"skipped"`
	Items      []notification.Result `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain sentinel errors to status codes. Anything unknown is a 500
// and its detail is not echoed back.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
