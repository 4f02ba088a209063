package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForSSE gates a compression middleware so event streams
// stay uncompressed. Compressed responses buffer, and buffering breaks
// the per-event flushing SSE depends on.
func SkipCompressionForSSE(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			// The Ollama relay decides between JSON and SSE from the
			// request body, so its routes skip compression outright.
			if strings.Contains(r.URL.Path, "/ollama/") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
