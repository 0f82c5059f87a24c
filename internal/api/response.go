package api

import (
	"encoding/json"
	"net/http"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
)

// WriteJSON sends a JSON response with the given status. Used by the
// playlist, health and device routes and the liveevents status route;
// /debug/metrics is served by promhttp, and the stream proxy writes its
// own response format directly.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an AppError as JSON with its mapped HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, map[string]any{
		"request_id": GetRequestID(r),
		"error":      appErr.ErrorBody(),
	})
}
