// Package proxy relays browser traffic to the optional local sidecars:
// an Ollama server for LLM text and a DrawThings (A1111-style) server
// for image generation. Streaming endpoints re-frame upstream
// newline-JSON as SSE; JSON endpoints pass documents through. Neither
// sidecar is required for the service to run, so transport failures map
// to engine_unavailable instead of taking requests down.
package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/httpclient"
)

// Per-call deadlines. Streaming relays intentionally have none: the
// client controls the lifetime.
const (
	tagsTimeout      = 20 * time.Second
	psTimeout        = 10 * time.Second
	showTimeout      = 20 * time.Second
	deleteTimeout    = 30 * time.Second
	forwardTimeout   = 120 * time.Second
	inventoryTimeout = 10 * time.Second
	llmTimeout       = 20 * time.Second
	cliTimeout       = 120 * time.Second
	listTimeout      = 20 * time.Second
	imageTimeout     = 5 * time.Minute
)

// Upstream carries a sidecar response for status-preserving passthrough.
type Upstream struct {
	Status      int
	ContentType string
	Body        []byte
}

// Write copies the upstream response onto w.
func (u *Upstream) Write(w http.ResponseWriter) {
	ct := u.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(u.Status)
	w.Write(u.Body)
}

// newProxyClient builds the shared sidecar client. Proxied POSTs are not
// idempotent, so there are no retries; deadlines come from the caller's
// context so the same client serves both bounded JSON calls and
// unbounded streams.
func newProxyClient(logger *slog.Logger) *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:             0,
		RetryAttempts:       0,
		CircuitThreshold:    3,
		CircuitTimeout:      30 * time.Second,
		CircuitHalfOpenMax:  1,
		EnableDecompression: true,
		Logger:              logger,
	})
}

// readUpstream drains a sidecar response into an Upstream.
func readUpstream(resp *http.Response) (*Upstream, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindUnavailable, err, "reading upstream response")
	}
	return &Upstream{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// snippet bounds a response body for inclusion in error messages.
func snippet(body []byte, max int) string {
	s := string(body)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
