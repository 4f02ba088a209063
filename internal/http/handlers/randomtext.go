package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/proxy"
)

// RandomTextHandler serves sample sentences and the LLM model inventory.
type RandomTextHandler struct {
	ollama *proxy.Ollama
	logger *slog.Logger
}

// NewRandomTextHandler creates a new random text handler.
func NewRandomTextHandler(ollama *proxy.Ollama, logger *slog.Logger) *RandomTextHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RandomTextHandler{ollama: ollama, logger: logger}
}

// Register registers the assist routes with the API.
func (h *RandomTextHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "getRandomText",
		Method:      http.MethodGet,
		Path:        prefix + "/random_text",
		Summary:     "Sample sentence",
		Description: "One audition sentence, LLM-generated when a model is reachable",
		Tags:        []string{"Assist"},
	}, h.GetRandomText)

	huma.Register(api, huma.Operation{
		OperationID: "getOllamaModels",
		Method:      http.MethodGet,
		Path:        prefix + "/ollama_models",
		Summary:     "Installed LLM models",
		Description: "Model inventory of the local Ollama instance; 503 while unreachable or empty",
		Tags:        []string{"Assist"},
	}, h.GetOllamaModels)
}

// GetRandomTextInput selects the snippet category.
type GetRandomTextInput struct {
	Category string `query:"category"`
}

// GetRandomTextOutput is the sample sentence payload.
type GetRandomTextOutput struct {
	Body proxy.RandomText
}

// GetRandomText returns one sample sentence.
func (h *RandomTextHandler) GetRandomText(ctx context.Context, input *GetRandomTextInput) (*GetRandomTextOutput, error) {
	return &GetRandomTextOutput{Body: *h.ollama.RandomText(ctx, input.Category)}, nil
}

// OllamaModelsResponse is the offline-tolerant model inventory.
type OllamaModelsResponse struct {
	Models    []string `json:"models"`
	URL       string   `json:"url"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
}

// GetOllamaModelsInput is the input for the model inventory.
type GetOllamaModelsInput struct{}

// GetOllamaModelsOutput is the model inventory payload. Status tracks
// availability so pollers can branch on the status code alone.
type GetOllamaModelsOutput struct {
	Status int
	Body   OllamaModelsResponse
}

// GetOllamaModels returns the installed models, answering 503 while no
// model is reachable.
func (h *RandomTextHandler) GetOllamaModels(ctx context.Context, input *GetOllamaModelsInput) (*GetOllamaModelsOutput, error) {
	inv := h.ollama.Models(ctx)
	status := http.StatusOK
	if !inv.Available() {
		status = http.StatusServiceUnavailable
	}
	return &GetOllamaModelsOutput{
		Status: status,
		Body: OllamaModelsResponse{
			Models:    inv.Models,
			URL:       inv.URL,
			Available: inv.Available(),
			Error:     inv.Error,
		},
	}, nil
}
