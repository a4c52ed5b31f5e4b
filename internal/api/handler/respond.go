package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reelhub/publish-queue/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// errorCodes lists the sentinels a client can act on. Anything else is a 500
// whose detail stays in the server log.
var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnsupportedPlatform, http.StatusUnprocessableEntity, "unsupported_platform"},
	{domain.ErrInvalidVideoID, http.StatusUnprocessableEntity, "invalid_video_id"},
	{domain.ErrInvalidPriority, http.StatusUnprocessableEntity, "invalid_priority"},
	{domain.ErrInvalidMaxRetries, http.StatusUnprocessableEntity, "invalid_max_retries"},
	{domain.ErrInvalidMetadata, http.StatusUnprocessableEntity, "invalid_metadata"},
	{domain.ErrConflictingSchedule, http.StatusUnprocessableEntity, "conflicting_schedule"},
	{domain.ErrInvalidStatus, http.StatusUnprocessableEntity, "invalid_status"},
	{domain.ErrBatchEmpty, http.StatusUnprocessableEntity, "batch_empty"},
	{domain.ErrBatchTooLarge, http.StatusUnprocessableEntity, "batch_too_large"},
}

// mapError translates domain sentinel errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			respondJSON(w, e.status, errorBody{Error: err.Error(), Code: e.code})
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "internal server error")
}
