package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jmylchreest/ttshub/internal/observability"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID stamps every request with an id: the caller's X-Request-ID
// if present, a fresh UUID otherwise. The id is echoed on the response
// and stored in the context for access and panic logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := observability.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
