package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/proxy"
)

// DrawThingsHandler relays image generation to the DrawThings server.
// Generation responses carry persisted PNG URLs instead of base64, and
// the telegram route answers with raw PNG bytes, so everything mounts
// directly on chi.
type DrawThingsHandler struct {
	drawthings *proxy.DrawThings
	logger     *slog.Logger
}

// NewDrawThingsHandler creates a new DrawThings relay handler.
func NewDrawThingsHandler(drawthings *proxy.DrawThings, logger *slog.Logger) *DrawThingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DrawThingsHandler{drawthings: drawthings, logger: logger}
}

// RegisterRoutes mounts the relay endpoints on the router.
func (h *DrawThingsHandler) RegisterRoutes(router chi.Router, prefix string) {
	router.Get(prefix+"/drawthings/models", h.Models)
	router.Get(prefix+"/drawthings/samplers", h.Samplers)
	router.Post(prefix+"/drawthings/txt2img", h.Txt2Img)
	router.Post(prefix+"/drawthings/img2img", h.Img2Img)
	router.Post(prefix+"/telegram/draw", h.TelegramDraw)
}

// Models passes the upstream model list through, status included.
func (h *DrawThingsHandler) Models(w http.ResponseWriter, r *http.Request) {
	up, err := h.drawthings.Models(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	up.Write(w)
}

// Samplers passes the upstream sampler list through, status included.
func (h *DrawThingsHandler) Samplers(w http.ResponseWriter, r *http.Request) {
	up, err := h.drawthings.Samplers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	up.Write(w)
}

// Txt2Img relays a generation request. Result images land on disk and
// the response references them by URL.
func (h *DrawThingsHandler) Txt2Img(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, h.drawthings.Txt2Img)
}

// Img2Img relays an edit request with the same rewrite as Txt2Img.
func (h *DrawThingsHandler) Img2Img(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, h.drawthings.Img2Img)
}

func (h *DrawThingsHandler) generate(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, body map[string]any) (*proxy.Upstream, error)) {
	body, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	up, err := call(r.Context(), body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	up.Write(w)
}

// TelegramDraw renders one image sized for chat delivery and returns
// the PNG bytes directly. The effective seed and final dimensions ride
// in response headers so bots can echo them without parsing the body.
func (h *DrawThingsHandler) TelegramDraw(w http.ResponseWriter, r *http.Request) {
	body, err := decodeJSONObject(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	p := engine.Payload(body)
	params := proxy.DrawParams{
		Prompt:         p.String("prompt"),
		NegativePrompt: p.String("negative_prompt"),
	}
	if v, ok, err := p.Int("width"); err != nil {
		writeError(w, h.logger, apperr.BadRequest("Field 'width' must be an integer."))
		return
	} else if ok {
		params.Width = int(v)
	}
	if v, ok, err := p.Int("height"); err != nil {
		writeError(w, h.logger, apperr.BadRequest("Field 'height' must be an integer."))
		return
	} else if ok {
		params.Height = int(v)
	}
	if v, ok, err := p.Int("steps"); err != nil {
		writeError(w, h.logger, apperr.BadRequest("Field 'steps' must be an integer."))
		return
	} else if ok {
		params.Steps = int(v)
	}
	if v, ok, err := p.Int("seed"); err != nil {
		writeError(w, h.logger, apperr.BadRequest("Field 'seed' must be an integer."))
		return
	} else if ok {
		params.Seed = &v
	}

	result, err := h.drawthings.TelegramDraw(r.Context(), params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Seed", strconv.FormatInt(result.Seed, 10))
	w.Header().Set("X-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Height", strconv.Itoa(result.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.PNG)
}
