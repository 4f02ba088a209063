package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// Meta describes an engine for the API.
type Meta struct {
	ID            string            `json:"id"`
	Label         string            `json:"label"`
	Description   string            `json:"description"`
	Available     bool              `json:"available"`
	RequiresVoice bool              `json:"requiresVoice"`
	Supports      map[string]bool   `json:"supports"`
	Defaults      map[string]string `json:"defaults"`
	Status        string            `json:"status"`
}

// Result is a completed synthesis. The header fields are always set and
// the file behind Path already exists under the output tree; the rest
// are engine-specific echoes that marshal only when set.
type Result struct {
	ID         string `json:"id"`
	Engine     string `json:"engine"`
	Voice      string `json:"voice"`
	Path       string `json:"path"`
	Filename   string `json:"filename"`
	SampleRate int    `json:"sample_rate"`

	// Voice-bank echoes.
	Locale      string         `json:"locale,omitempty"`
	Accent      *voices.Accent `json:"accent,omitempty"`
	Language    string         `json:"language,omitempty"`
	Speed       *float64       `json:"speed,omitempty"`
	TrimSilence *bool          `json:"trim_silence,omitempty"`
	Text        string         `json:"text,omitempty"`

	// Cloning echoes.
	Style             string `json:"style,omitempty"`
	Reference         string `json:"reference,omitempty"`
	ReferenceName     string `json:"reference_name,omitempty"`
	ReferenceRelative string `json:"reference_relative,omitempty"`
	Watermark         string `json:"watermark,omitempty"`

	// Dialogue echoes.
	Seed    *int64 `json:"seed,omitempty"`
	Speaker string `json:"speaker,omitempty"`
}

// Request is a prepared synthesis input produced by Prepare. Requests
// are engine-specific; handing one to a different engine's Synthesize
// is a programming error and reports as internal.
type Request interface {
	engineID() string
}

// Engine is one synthesis backend.
type Engine interface {
	// ID is the stable engine identifier ("kokoro", "xtts", ...).
	ID() string

	// Meta reports the engine descriptor with availability evaluated now.
	Meta() Meta

	// Available re-checks backend prerequisites: binaries, model files,
	// reference clips. Results are never cached between calls, so an
	// operator can drop files in place and retry without a restart.
	Available() bool

	// Prepare validates and normalizes a raw payload into a request.
	Prepare(p Payload) (Request, error)

	// Synthesize renders a prepared request to a clip in the output tree.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Voices builds the engine's catalog payload. Never fails: an engine
	// with nothing to offer returns an empty catalog with a hint message.
	Voices() *voices.Catalog
}

// runner abstracts execx so tests can fake subprocess behavior.
type runner interface {
	Run(ctx context.Context, cmd execx.Command) (*execx.Result, error)
}

// resolveInterpreter resolves a configured interpreter, which may be a
// path or a bare command name. fallback is consulted when the
// configured value is empty or does not resolve; ok is false when
// nothing does.
func resolveInterpreter(configured, fallback string) (string, bool) {
	for _, candidate := range []string{configured, fallback} {
		if candidate == "" {
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, true
		}
	}
	return "", false
}

// pythonEnv returns the torch/CUDA environment defaults the Python
// backends expect, minus any the operator already set. The backends run
// CPU-only; without these, torch probes accelerators and either crashes
// on partial MPS support or grabs a GPU another process is using.
func pythonEnv() []string {
	defaults := [][2]string{
		{"PYTORCH_ENABLE_MPS_FALLBACK", "1"},
		{"PYTORCH_MPS_HIGH_WATERMARK_RATIO", "0.0"},
		{"CUDA_VISIBLE_DEVICES", "-1"},
	}
	var env []string
	for _, kv := range defaults {
		if _, ok := os.LookupEnv(kv[0]); !ok {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}

// formatFloat renders a float for an argv slot without trailing zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// mapRunError converts a failed execx invocation into the engine's
// client-facing error: timeouts keep their own message, cancellation
// passes through, and anything else means the tool never started.
func mapRunError(err error, timeoutMsg, startMsg string) error {
	switch {
	case errors.Is(err, execx.ErrTimeout):
		return apperr.Timeout(timeoutMsg)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperr.Wrap(apperr.KindEngineFailure, startMsg, err)
	}
}

// failureDetail folds a tool's output into a one-line diagnostic for
// non-zero exits: trailing stderr lines first, stdout tail as fallback.
func failureDetail(res *execx.Result) string {
	if msg := res.StderrTail(3); msg != "" {
		return msg
	}
	if msg := stdoutTail(res, 3); msg != "" {
		return msg
	}
	return "Unknown error"
}

// stdoutTail mirrors StderrTail for captured stdout.
func stdoutTail(res *execx.Result, n int) string {
	tmp := &execx.Result{Stderr: string(res.Stdout)}
	return tmp.StderrTail(n)
}
