// Package httpclient wraps net/http with the resilience the sidecar
// services need: a circuit breaker so a wedged XTTS server or Ollama
// daemon fails fast instead of stacking timeouts, optional retries with
// exponential backoff for idempotent calls, and transparent response
// decompression (gzip, deflate, brotli).
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/ttshub/internal/version"
)

// Sentinel errors surfaced to callers.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

const (
	defaultRetryDelay    = time.Second
	defaultRetryMaxDelay = 30 * time.Second
	defaultBackoff       = 2.0
	acceptedEncodings    = "gzip, deflate, br"
)

// Config tunes a Client. The zero value gives a no-retry client with an
// always-closed breaker and no overall timeout; per-call deadlines then
// come from the request context.
type Config struct {
	// Timeout bounds each whole request; zero leaves bounding to the
	// request context.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first try. Keep
	// zero for non-idempotent calls.
	RetryAttempts int

	// RetryDelay, RetryMaxDelay and BackoffMultiplier shape the backoff
	// between retries. Zero values take the package defaults.
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold is the consecutive-failure count that opens the
	// breaker; zero disables it.
	CircuitThreshold int

	// CircuitTimeout is how long the breaker stays open before probing.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax caps in-flight probes while half-open.
	CircuitHalfOpenMax int

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// EnableDecompression decodes gzip/deflate/brotli response bodies.
	EnableDecompression bool

	// Logger receives request traces; nil uses slog.Default.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client; nil builds one from
	// Timeout.
	BaseClient *http.Client
}

// Client is an http.Client front with breaker, retry and decompression.
type Client struct {
	cfg     Config
	base    *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New builds a Client from cfg, filling defaulted fields.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = defaultBackoff
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// Do executes req under the request's own context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// Get issues a GET to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// DoWithContext executes req, consulting the breaker before each try and
// retrying transport errors and retryable statuses up to RetryAttempts.
// Context cancellation aborts immediately and is never retried.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptedEncodings)
	}

	var lastErr error
	delay := c.cfg.RetryDelay

	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", redactURL(req.URL)))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.cfg.BackoffMultiplier), c.cfg.RetryMaxDelay)
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit open, skipping request",
				slog.String("url", redactURL(req.URL)))
			continue
		}

		start := time.Now()
		resp, err := c.base.Do(req.WithContext(ctx))
		elapsed := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("method", req.Method),
				slog.String("url", redactURL(req.URL)),
				slog.Duration("elapsed", elapsed),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if retryable(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status",
				slog.String("method", req.Method),
				slog.String("url", redactURL(req.URL)),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt))
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("method", req.Method),
			slog.String("url", redactURL(req.URL)),
			slog.Int("status", resp.StatusCode),
			slog.Duration("elapsed", elapsed))

		if c.cfg.EnableDecompression {
			resp.Body = decodeBody(resp, c.logger)
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// CircuitState reports the breaker state, for probes and tests.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// retryable reports whether a status code signals a transient upstream
// condition worth another try.
func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// redactedParams are query keys whose values never reach the log.
var redactedParams = map[string]struct{}{
	"password": {}, "passwd": {}, "pass": {}, "pwd": {},
	"token": {}, "api_key": {}, "apikey": {}, "key": {},
	"secret": {}, "auth": {}, "authorization": {},
	"credential": {}, "credentials": {},
}

// redactURL renders u with credential-bearing query values masked.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clone := *u
	query := clone.Query()
	for param := range redactedParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	clone.RawQuery = query.Encode()
	return clone.String()
}

// decodeBody wraps resp.Body with the decoder its Content-Encoding asks
// for. Unknown encodings and broken gzip headers fall back to the raw
// body so the caller still sees the bytes.
func decodeBody(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "":
		return resp.Body
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("bad gzip body, passing through raw",
				slog.String("error", err.Error()))
			return resp.Body
		}
		return &decodedBody{reader: reader, raw: resp.Body}
	case "deflate":
		return &decodedBody{reader: flate.NewReader(resp.Body), raw: resp.Body}
	case "br":
		return &decodedBody{reader: brotli.NewReader(resp.Body), raw: resp.Body}
	default:
		return resp.Body
	}
}

// decodedBody reads through a decoder while closing the raw body.
type decodedBody struct {
	reader io.Reader
	raw    io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) { return d.reader.Read(p) }

func (d *decodedBody) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.raw.Close()
}
