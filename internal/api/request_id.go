package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// requestIDHeader is read from inbound requests, so an id minted by an
// upstream proxy survives, and echoed on every response.
const requestIDHeader = "x-request-id"

// RequestIDMiddleware mints the correlation id every other middleware and
// the error body key on.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request's correlation id, or "" outside a
// RequestIDMiddleware-wrapped request.
func GetRequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if value := r.Context().Value(requestIDKey); value != nil {
		if requestID, ok := value.(string); ok {
			return requestID
		}
	}
	return ""
}
