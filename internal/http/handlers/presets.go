package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/engine"
)

// PresetsHandler manages saved ChatTTS speaker embeddings.
type PresetsHandler struct {
	chattts *engine.ChatTTS
	logger  *slog.Logger
}

// NewPresetsHandler creates a new ChatTTS preset handler.
func NewPresetsHandler(chattts *engine.ChatTTS, logger *slog.Logger) *PresetsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresetsHandler{chattts: chattts, logger: logger}
}

// Register registers the preset routes with the API.
func (h *PresetsHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID:   "createChatTTSPreset",
		Method:        http.MethodPost,
		Path:          prefix + "/chattts/presets",
		Summary:       "Save a ChatTTS preset",
		Description:   "Persists a speaker embedding so dialogue renders can reuse it",
		Tags:          []string{"Voices"},
		DefaultStatus: http.StatusCreated,
	}, h.CreatePreset)
}

// CreatePresetInput carries the raw preset payload. Validation lives in
// the engine so the CLI import path shares it.
type CreatePresetInput struct {
	Body map[string]any
}

// PresetCreatedResponse returns the stored preset plus the refreshed
// list so the client can swap its picker in one round trip.
type PresetCreatedResponse struct {
	Preset  *engine.Preset  `json:"preset"`
	Presets []engine.Preset `json:"presets"`
}

// CreatePresetOutput is the creation payload.
type CreatePresetOutput struct {
	Body PresetCreatedResponse
}

// CreatePreset validates and stores a new speaker preset.
func (h *PresetsHandler) CreatePreset(ctx context.Context, input *CreatePresetInput) (*CreatePresetOutput, error) {
	preset, presets, err := h.chattts.CreatePreset(engine.Payload(input.Body))
	if err != nil {
		return nil, err
	}
	h.logger.Info("created ChatTTS preset", slog.String("preset", preset.ID))
	return &CreatePresetOutput{Body: PresetCreatedResponse{Preset: preset, Presets: presets}}, nil
}
