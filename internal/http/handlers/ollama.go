package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/ttshub/internal/proxy"
)

// OllamaHandler relays requests to the local Ollama daemon. These
// routes bypass huma: generate, chat, and pull switch between JSON and
// SSE based on the request body, which needs the raw ResponseWriter.
type OllamaHandler struct {
	ollama *proxy.Ollama
	logger *slog.Logger
}

// NewOllamaHandler creates a new Ollama relay handler.
func NewOllamaHandler(ollama *proxy.Ollama, logger *slog.Logger) *OllamaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaHandler{ollama: ollama, logger: logger}
}

// RegisterRoutes mounts the relay endpoints on the router.
func (h *OllamaHandler) RegisterRoutes(router chi.Router, prefix string) {
	router.Get(prefix+"/ollama/tags", h.Tags)
	router.Get(prefix+"/ollama/ps", h.Ps)
	router.Post(prefix+"/ollama/generate", h.Generate)
	router.Post(prefix+"/ollama/chat", h.Chat)
	router.Post(prefix+"/ollama/pull", h.Pull)

	// Show and delete accept both verbs so a browser address bar works:
	// GET reads ?model= / ?name=, POST reads the same keys from the body.
	router.Get(prefix+"/ollama/show", h.Show)
	router.Post(prefix+"/ollama/show", h.Show)
	router.Get(prefix+"/ollama/delete", h.Delete)
	router.Post(prefix+"/ollama/delete", h.Delete)
}

// Tags lists the models installed upstream.
func (h *OllamaHandler) Tags(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ollama.Tags(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

// Ps lists the models currently loaded in memory upstream.
func (h *OllamaHandler) Ps(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ollama.Ps(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

// Generate relays a completion request. Streaming requests go out as
// SSE on w; the rest come back as a single JSON document.
func (h *OllamaHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, h.ollama.Generate)
}

// Chat relays a chat completion request with the same streaming
// contract as Generate.
func (h *OllamaHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, h.ollama.Chat)
}

// Pull relays a model download. Progress streams as SSE unless the
// client passes stream=false.
func (h *OllamaHandler) Pull(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, h.ollama.Pull)
}

type ollamaForward func(ctx context.Context, w http.ResponseWriter, body map[string]any) (json.RawMessage, error)

func (h *OllamaHandler) forward(w http.ResponseWriter, r *http.Request, call ollamaForward) {
	body, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	doc, err := call(r.Context(), w, body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if doc != nil {
		writeRaw(w, http.StatusOK, doc)
	}
	// doc == nil means the proxy already streamed the response.
}

// Show returns upstream metadata for one model.
func (h *OllamaHandler) Show(w http.ResponseWriter, r *http.Request) {
	model, err := h.modelParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	doc, err := h.ollama.Show(r.Context(), model)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

// Delete removes a model from the upstream store.
func (h *OllamaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	model, err := h.modelParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	doc, err := h.ollama.Delete(r.Context(), model)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

// modelParam pulls the model name from the query on GET and from the
// body on POST. Empty names fall through; the proxy rejects them with
// the canonical message.
func (h *OllamaHandler) modelParam(r *http.Request) (string, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		return firstNonEmpty(q.Get("model"), q.Get("name")), nil
	}
	body, err := decodeJSONObject(r)
	if err != nil {
		return "", err
	}
	model, _ := body["model"].(string)
	name, _ := body["name"].(string)
	return firstNonEmpty(model, name), nil
}
