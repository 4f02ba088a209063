package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/httpclient"
	"github.com/jmylchreest/ttshub/internal/imaging"
	"github.com/jmylchreest/ttshub/internal/storage"
)

// telegramMaxDim caps the long side of bot-bound images; Telegram
// rejects photo uploads much beyond this.
const telegramMaxDim = 1280

// DrawThings proxies an A1111-compatible image server. Generation
// responses are rewritten: base64 payloads become PNG files under the
// output tree and the JSON carries URLs instead of image data.
type DrawThings struct {
	cfg    config.DrawThingsConfig
	layout *storage.Layout
	conv   *imaging.Converter
	http   *httpclient.Client
	logger *slog.Logger
}

// NewDrawThings builds the proxy against layout's image directory.
func NewDrawThings(cfg config.DrawThingsConfig, layout *storage.Layout, logger *slog.Logger) *DrawThings {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = "http://127.0.0.1:7861"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &DrawThings{
		cfg:    cfg,
		layout: layout,
		conv:   imaging.NewConverter(),
		http:   newProxyClient(logger),
		logger: logger,
	}
}

// URL reports the upstream base URL the proxy talks to.
func (d *DrawThings) URL() string {
	return d.cfg.URL
}

// Models passes /sdapi/v1/sd-models through, status included.
func (d *DrawThings) Models(ctx context.Context) (*Upstream, error) {
	return d.get(ctx, "/sdapi/v1/sd-models")
}

// Samplers passes /sdapi/v1/samplers through, status included.
func (d *DrawThings) Samplers(ctx context.Context) (*Upstream, error) {
	return d.get(ctx, "/sdapi/v1/samplers")
}

// Txt2Img submits a generation request and rewrites the result so the
// response references persisted PNGs instead of inline base64.
func (d *DrawThings) Txt2Img(ctx context.Context, body map[string]any) (*Upstream, error) {
	return d.generate(ctx, "/sdapi/v1/txt2img", body)
}

// Img2Img submits an edit request with the same rewrite as Txt2Img.
func (d *DrawThings) Img2Img(ctx context.Context, body map[string]any) (*Upstream, error) {
	return d.generate(ctx, "/sdapi/v1/img2img", body)
}

// ImageRef points at one persisted generation output.
type ImageRef struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (d *DrawThings) generate(ctx context.Context, api string, body map[string]any) (*Upstream, error) {
	if body == nil {
		body = map[string]any{}
	}
	up, err := d.post(ctx, api, body, imageTimeout)
	if err != nil {
		return nil, err
	}
	// Upstream rejections flow back verbatim so the UI can show the
	// server's own validation message.
	if up.Status != http.StatusOK {
		return up, nil
	}

	var doc struct {
		Images     []string        `json:"images"`
		Info       json.RawMessage `json:"info"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(up.Body, &doc); err != nil {
		return nil, apperr.Wrapf(apperr.KindEngineFailure, err, "parsing DrawThings %s response", api)
	}

	images := make([]ImageRef, 0, len(doc.Images))
	for i, encoded := range doc.Images {
		ref, err := d.persistImage(encoded)
		if err != nil {
			d.logger.Warn("discarding generated image",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		images = append(images, *ref)
	}
	if doc.Info == nil {
		doc.Info = json.RawMessage("null")
	}
	if doc.Parameters == nil {
		doc.Parameters = json.RawMessage("null")
	}
	rewritten, err := json.Marshal(map[string]any{
		"images":     images,
		"info":       doc.Info,
		"parameters": doc.Parameters,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encoding rewritten response", err)
	}
	return &Upstream{Status: http.StatusOK, ContentType: "application/json", Body: rewritten}, nil
}

// persistImage decodes one base64 image, converts it to PNG, and writes
// it into the image directory.
func (d *DrawThings) persistImage(encoded string) (*ImageRef, error) {
	raw, err := decodeBase64Image(encoded)
	if err != nil {
		return nil, err
	}
	png, width, height, err := d.conv.ConvertToPNG(raw)
	if err != nil {
		return nil, err
	}
	name := storage.NewClipName("img", "png")
	if err := d.layout.Sandbox().AtomicWrite(d.layout.ImageRel(name), png); err != nil {
		return nil, err
	}
	return &ImageRef{URL: storage.ImageURL(name), Width: width, Height: height}, nil
}

// DrawParams is the reduced generation request used by bot endpoints.
type DrawParams struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	Seed           *int64
}

// DrawResult is a single rendered PNG sized for chat delivery.
type DrawResult struct {
	PNG    []byte
	Seed   int64
	Width  int
	Height int
}

// TelegramDraw renders one image and returns it as PNG bytes bounded to
// telegramMaxDim on the long side, with the effective seed extracted
// from the upstream metadata when available.
func (d *DrawThings) TelegramDraw(ctx context.Context, p DrawParams) (*DrawResult, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, apperr.BadRequest("Field 'prompt' is required.")
	}
	if p.Width <= 0 {
		p.Width = 512
	}
	if p.Height <= 0 {
		p.Height = 512
	}
	if p.Steps <= 0 {
		p.Steps = 20
	}
	seed := int64(-1)
	if p.Seed != nil {
		seed = *p.Seed
	}

	body := map[string]any{
		"prompt": p.Prompt,
		"width":  p.Width,
		"height": p.Height,
		"steps":  p.Steps,
		"seed":   seed,
	}
	if p.NegativePrompt != "" {
		body["negative_prompt"] = p.NegativePrompt
	}

	up, err := d.post(ctx, "/sdapi/v1/txt2img", body, imageTimeout)
	if err != nil {
		return nil, err
	}
	if up.Status != http.StatusOK {
		return nil, &apperr.Error{
			Kind:    apperr.KindEngineFailure,
			Message: fmt.Sprintf("DrawThings rejected the request: %s", snippet(up.Body, 200)),
			Status:  up.Status,
		}
	}

	var doc struct {
		Images []string        `json:"images"`
		Info   json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(up.Body, &doc); err != nil {
		return nil, apperr.Wrap(apperr.KindEngineFailure, "parsing DrawThings response", err)
	}
	if len(doc.Images) == 0 {
		return nil, apperr.EngineFailure("DrawThings returned no image.")
	}
	raw, err := decodeBase64Image(doc.Images[0])
	if err != nil {
		return nil, err
	}
	png, width, height, err := d.conv.FitPNG(raw, telegramMaxDim)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineFailure, "converting generated image", err)
	}
	return &DrawResult{
		PNG:    png,
		Seed:   extractSeed(doc.Info, seed),
		Width:  width,
		Height: height,
	}, nil
}

func (d *DrawThings) get(ctx context.Context, api string) (*Upstream, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL+api, nil)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindInternal, err, "building %s request", api)
	}
	resp, err := d.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, apperr.Unavailablef("DrawThings %s failed: %v", api, err)
	}
	return readUpstream(resp)
}

func (d *DrawThings) post(ctx context.Context, api string, body map[string]any, timeout time.Duration) (*Upstream, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindInternal, err, "encoding %s payload", api)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL+api, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindInternal, err, "building %s request", api)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, apperr.Unavailablef("DrawThings %s failed: %v", api, err)
	}
	return readUpstream(resp)
}

// decodeBase64Image accepts both bare base64 and data-URL payloads,
// padded or not.
func decodeBase64Image(encoded string) ([]byte, error) {
	if idx := strings.IndexByte(encoded, ','); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}
	encoded = strings.TrimSpace(encoded)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(encoded); rawErr == nil {
			return raw, nil
		}
		return nil, apperr.Wrap(apperr.KindEngineFailure, "decoding image payload", err)
	}
	return raw, nil
}

// extractSeed pulls the effective seed out of the A1111 info blob,
// which arrives either as an object or as a JSON document wrapped in a
// string.
func extractSeed(info json.RawMessage, fallback int64) int64 {
	if len(info) == 0 {
		return fallback
	}
	doc := info
	var wrapped string
	if err := json.Unmarshal(info, &wrapped); err == nil {
		doc = json.RawMessage(wrapped)
	}
	var parsed struct {
		Seed *int64 `json:"seed"`
	}
	if err := json.Unmarshal(doc, &parsed); err == nil && parsed.Seed != nil {
		return *parsed.Seed
	}
	return fallback
}
