package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/engine"
)

// SynthesisHandler dispatches synthesis and audition requests.
type SynthesisHandler struct {
	dispatcher *engine.Dispatcher
	logger     *slog.Logger
}

// NewSynthesisHandler creates a new synthesis handler.
func NewSynthesisHandler(dispatcher *engine.Dispatcher, logger *slog.Logger) *SynthesisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesisHandler{dispatcher: dispatcher, logger: logger}
}

// Register registers the synthesis routes with the API. The American
// spelling is a first-class alias, not a redirect.
func (h *SynthesisHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "synthesise",
		Method:      http.MethodPost,
		Path:        prefix + "/synthesise",
		Summary:     "Synthesise speech",
		Description: "Renders text with the selected engine and voice, or a favorites profile",
		Tags:        []string{"Synthesis"},
	}, h.Synthesise)

	huma.Register(api, huma.Operation{
		OperationID: "synthesize",
		Method:      http.MethodPost,
		Path:        prefix + "/synthesize",
		Summary:     "Synthesise speech (alias)",
		Description: "Alias of the synthesise operation",
		Tags:        []string{"Synthesis"},
	}, h.Synthesise)

	huma.Register(api, huma.Operation{
		OperationID: "audition",
		Method:      http.MethodPost,
		Path:        prefix + "/audition",
		Summary:     "Build an audition reel",
		Description: "Renders the same text with several voices and concatenates the takes",
		Tags:        []string{"Synthesis"},
	}, h.Audition)
}

// SynthesiseInput carries the free-form synthesis payload; engines pick
// out the knobs they understand.
type SynthesiseInput struct {
	Body map[string]any
}

// SynthesiseOutput is the render result.
type SynthesiseOutput struct {
	Body engine.Result
}

// Synthesise renders one clip.
func (h *SynthesisHandler) Synthesise(ctx context.Context, input *SynthesiseInput) (*SynthesiseOutput, error) {
	result, err := h.dispatcher.Synthesize(ctx, engine.Payload(input.Body))
	if err != nil {
		return nil, err
	}
	return &SynthesiseOutput{Body: *result}, nil
}

// AuditionInput carries the audition payload: text, voices, optional
// gap, announcer, and per-voice overrides.
type AuditionInput struct {
	Body map[string]any
}

// AuditionOutput is the concatenated reel result.
type AuditionOutput struct {
	Body engine.AuditionResult
}

// Audition renders the reel.
func (h *SynthesisHandler) Audition(ctx context.Context, input *AuditionInput) (*AuditionOutput, error) {
	result, err := h.dispatcher.Audition(ctx, engine.Payload(input.Body))
	if err != nil {
		return nil, err
	}
	return &AuditionOutput{Body: *result}, nil
}
