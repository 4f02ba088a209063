package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/httpclient"
	"github.com/jmylchreest/ttshub/internal/util"
)

const ollamaBinaryEnv = "TTSHUB_OLLAMA_BINARY"

// Terminal escape sequences leak into `ollama rm` output when the CLI
// detects a TTY-ish pipe; strip them before pattern matching.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// runner abstracts process execution for the CLI fallback.
type runner interface {
	Run(ctx context.Context, cmd execx.Command) (*execx.Result, error)
}

// Ollama proxies the local Ollama server. Bounded calls (tags, show,
// delete) carry short deadlines; generate/chat/pull relay upstream
// streaming output as SSE with no server-side timeout.
type Ollama struct {
	cfg    config.OllamaConfig
	http   *httpclient.Client
	run    runner
	logger *slog.Logger
}

// NewOllama builds the proxy. Missing config falls back to the standard
// local endpoint and default model.
func NewOllama(cfg config.OllamaConfig, logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = "http://127.0.0.1:11434"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = "phi3:latest"
	}
	return &Ollama{
		cfg:    cfg,
		http:   newProxyClient(logger),
		run:    execx.Runner{},
		logger: logger,
	}
}

// WithRunner swaps the process runner for the delete fallback.
func (o *Ollama) WithRunner(r runner) *Ollama {
	o.run = r
	return o
}

// URL reports the upstream base URL the proxy talks to.
func (o *Ollama) URL() string {
	return o.cfg.URL
}

// Tags passes /api/tags through.
func (o *Ollama) Tags(ctx context.Context) (json.RawMessage, error) {
	return o.roundTrip(ctx, http.MethodGet, "/api/tags", nil, tagsTimeout, "/tags")
}

// Ps passes /api/ps through.
func (o *Ollama) Ps(ctx context.Context) (json.RawMessage, error) {
	return o.roundTrip(ctx, http.MethodGet, "/api/ps", nil, psTimeout, "/ps")
}

// Generate proxies /api/generate. A streaming request is relayed onto w
// as SSE and returns (nil, nil); otherwise the upstream document comes
// back for a plain JSON response.
func (o *Ollama) Generate(ctx context.Context, w http.ResponseWriter, body map[string]any) (json.RawMessage, error) {
	return o.forward(ctx, w, "/generate", body)
}

// Chat proxies /api/chat with the same streaming contract as Generate.
func (o *Ollama) Chat(ctx context.Context, w http.ResponseWriter, body map[string]any) (json.RawMessage, error) {
	return o.forward(ctx, w, "/chat", body)
}

func (o *Ollama) forward(ctx context.Context, w http.ResponseWriter, api string, body map[string]any) (json.RawMessage, error) {
	if body == nil {
		body = map[string]any{}
	}
	if streamRequested(body["stream"], false) {
		o.stream(ctx, w, api, body)
		return nil, nil
	}
	if _, ok := body["stream"]; !ok {
		body["stream"] = false
	}
	return o.roundTrip(ctx, http.MethodPost, "/api"+api, body, forwardTimeout, api)
}

// Pull proxies /api/pull. Pulls stream progress by default; only an
// explicit stream=false turns the call into a single blocking request,
// which runs without a deadline because large models take a while.
func (o *Ollama) Pull(ctx context.Context, w http.ResponseWriter, body map[string]any) (json.RawMessage, error) {
	name := firstString(body, "model", "name")
	if name == "" {
		return nil, apperr.BadRequest("Field 'model' is required.")
	}
	upstream := map[string]any{"name": name}
	if !streamRequested(body["stream"], true) {
		upstream["stream"] = false
		return o.roundTrip(ctx, http.MethodPost, "/api/pull", upstream, 0, "/pull")
	}
	o.stream(ctx, w, "/pull", upstream)
	return nil, nil
}

// Show fetches /api/show for one model.
func (o *Ollama) Show(ctx context.Context, model string) (json.RawMessage, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, apperr.BadRequest("Provide ?model=name or body {model:name}")
	}
	return o.roundTrip(ctx, http.MethodPost, "/api/show", map[string]string{"name": model}, showTimeout, "/show")
}

// Delete removes a model via /api/delete. Older Ollama builds answer
// 404/405 there, so when the config allows it the proxy falls back to
// `ollama rm` on the host.
func (o *Ollama) Delete(ctx context.Context, model string) (json.RawMessage, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, apperr.BadRequest("Provide ?model=name or body {model:name}")
	}

	payload, err := json.Marshal(map[string]string{"name": model})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encoding delete payload", err)
	}
	dctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(dctx, http.MethodDelete, o.cfg.URL+"/api/delete", bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "building delete request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.DoWithContext(dctx, req)
	if err != nil {
		return nil, apperr.Unavailablef("Ollama /delete failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(body) == 0 {
			body = []byte(`{"status":"deleted"}`)
		}
		return body, nil
	}
	if (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed) && o.cfg.AllowCLI {
		o.logger.Info("ollama delete falling back to cli",
			slog.String("model", model),
			slog.Int("status", resp.StatusCode))
		return o.deleteViaCLI(ctx, model)
	}
	return nil, apperr.Unavailablef("Ollama /delete failed: status %d: %s", resp.StatusCode, snippet(body, 200))
}

// deleteViaCLI shells out to `ollama rm`. A model that is already gone
// counts as success so the UI can treat delete as idempotent.
func (o *Ollama) deleteViaCLI(ctx context.Context, model string) (json.RawMessage, error) {
	bin, err := util.ResolveBinary("", "ollama", ollamaBinaryEnv)
	if err != nil {
		return nil, apperr.Unavailablef("Ollama /delete fallback failed: %v", err)
	}
	res, err := o.run.Run(ctx, execx.Command{
		Path:    bin,
		Args:    []string{"rm", model},
		Timeout: cliTimeout,
	})
	if err != nil {
		return nil, apperr.Unavailablef("Ollama /delete fallback failed: %v", err)
	}

	out := stripANSI(string(res.Stdout))
	errOut := stripANSI(res.Stderr)
	combined := strings.ToLower(out + " " + errOut)
	missing := strings.Contains(combined, "not found") ||
		strings.Contains(combined, "no such model") ||
		strings.Contains(combined, "does not exist")

	if res.ExitCode == 0 || missing {
		doc := map[string]string{"status": "deleted", "source": "cli"}
		if missing {
			doc["note"] = "already missing"
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "encoding delete result", err)
		}
		return data, nil
	}

	detail := errOut
	if detail == "" {
		detail = out
	}
	if detail == "" {
		detail = fmt.Sprintf("ollama rm exited with code %d", res.ExitCode)
	}
	return nil, apperr.Unavailablef("Ollama /delete fallback failed: %s", detail)
}

// roundTrip performs one bounded JSON call against the upstream. Any
// failure, transport or status, folds into engine_unavailable so the
// handler can answer 503 uniformly. A timeout of zero means none.
func (o *Ollama) roundTrip(ctx context.Context, method, api string, payload any, timeout time.Duration, op string) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrapf(apperr.KindInternal, err, "encoding %s payload", op)
		}
		body = bytes.NewReader(data)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, o.cfg.URL+api, body)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindInternal, err, "building %s request", op)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := o.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, apperr.Unavailablef("Ollama %s failed: %v", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Unavailablef("Ollama %s failed: %v", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Unavailablef("Ollama %s failed: status %d: %s", op, resp.StatusCode, snippet(data, 200))
	}
	return data, nil
}

// stream relays the upstream response as SSE. The preamble goes out
// before the upstream connect, so failures past that point terminate
// the stream rather than changing the response status.
func (o *Ollama) stream(ctx context.Context, w http.ResponseWriter, api string, body map[string]any) {
	s, err := startSSE(w)
	if err != nil {
		o.logger.Warn("sse start failed", slog.String("api", api), slog.String("error", err.Error()))
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		o.logger.Warn("encoding stream payload failed", slog.String("api", api), slog.String("error", err.Error()))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL+"/api"+api, bytes.NewReader(data))
	if err != nil {
		o.logger.Warn("building stream request failed", slog.String("api", api), slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.DoWithContext(ctx, req)
	if err != nil {
		o.logger.Warn("ollama stream connect failed",
			slog.String("api", api),
			slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Warn("ollama stream rejected",
			slog.String("api", api),
			slog.Int("status", resp.StatusCode))
		return
	}
	if err := s.relay(resp.Body); err != nil {
		o.logger.Debug("ollama stream ended early",
			slog.String("api", api),
			slog.String("error", err.Error()))
	}
}

// streamRequested reads the loose stream flag from a decoded JSON body:
// any non-zero, non-empty value counts as true, absence as def.
func streamRequested(v any, def bool) bool {
	switch t := v.(type) {
	case nil:
		return def
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

// firstString returns the first non-empty trimmed string under keys.
func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := body[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func stripANSI(s string) string {
	return strings.TrimSpace(ansiPattern.ReplaceAllString(s, ""))
}
