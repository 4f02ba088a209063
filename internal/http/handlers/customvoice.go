package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/ingest"
	"github.com/jmylchreest/ttshub/internal/mediaio"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// preferredDownloadExts orders yt-dlp output candidates; smaller
// audio-only containers win.
var preferredDownloadExts = []string{".m4a", ".mp3", ".webm", ".opus", ".ogg"}

// CustomVoiceHandler imports XTTS reference clips from uploads or
// YouTube segments and manages their sidecar metadata. The import route
// is multipart and mounts raw on chi; the per-voice CRUD is huma.
type CustomVoiceHandler struct {
	xtts      *engine.XTTS
	cfg       config.XTTSConfig
	media     *mediaio.Processor
	fetcher   *ingest.YtdlpFetcher
	previews  *voices.PreviewCache
	layout    *storage.Layout
	maxUpload int64
	logger    *slog.Logger
}

// NewCustomVoiceHandler creates a new custom voice handler.
func NewCustomVoiceHandler(xtts *engine.XTTS, cfg config.XTTSConfig, media *mediaio.Processor, fetcher *ingest.YtdlpFetcher, previews *voices.PreviewCache, layout *storage.Layout, maxUpload int64, logger *slog.Logger) *CustomVoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomVoiceHandler{
		xtts:      xtts,
		cfg:       cfg,
		media:     media,
		fetcher:   fetcher,
		previews:  previews,
		layout:    layout,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// RegisterRoutes mounts the import endpoint on the router.
func (h *CustomVoiceHandler) RegisterRoutes(router chi.Router, prefix string) {
	router.Post(prefix+"/xtts/custom_voice", h.Create)
}

// Register registers the per-voice metadata routes with the API.
func (h *CustomVoiceHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "getCustomVoice",
		Method:      http.MethodGet,
		Path:        prefix + "/xtts/custom_voice/{id}",
		Summary:     "Get a custom voice",
		Description: "Catalog entry for one imported reference clip",
		Tags:        []string{"Voices"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateCustomVoice",
		Method:      http.MethodPatch,
		Path:        prefix + "/xtts/custom_voice/{id}",
		Summary:     "Update custom voice metadata",
		Description: "Writes the sidecar document next to the reference clip",
		Tags:        []string{"Voices"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteCustomVoice",
		Method:      http.MethodDelete,
		Path:        prefix + "/xtts/custom_voice/{id}",
		Summary:     "Delete a custom voice",
		Description: "Removes the reference clip, its sidecar, and cached previews",
		Tags:        []string{"Voices"},
	}, h.Delete)
}

// CreatedVoice describes the imported reference clip.
type CreatedVoice struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Path       string  `json:"path"`
	PreviewURL *string `json:"preview_url"`
}

// CustomVoiceCreated is the import response.
type CustomVoiceCreated struct {
	Status string       `json:"status"`
	Engine string       `json:"engine"`
	Voice  CreatedVoice `json:"voice"`
}

// Create imports a reference clip from a multipart upload or a YouTube
// URL, normalizes it to mono 24 kHz WAV under the voice directory, and
// renders a preview.
func (h *CustomVoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.xtts.ServiceReady() {
		writeError(w, h.logger, apperr.Unavailable("XTTS engine is not available on this host."))
		return
	}
	if err := os.MkdirAll(h.xtts.VoiceDir(), 0o755); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.KindIOFailure, "could not create the voice directory", err))
		return
	}

	var (
		label      string
		start, end float64
		srcPath    string
		cleanup    func()
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		up, err := saveUpload(r, "file")
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		cleanup = up.Cleanup
		label = strings.TrimSpace(r.FormValue("label"))
		if v := r.FormValue("start"); v != "" {
			if t, ok := mediaio.ParseTimecode(v); ok {
				start = t
			}
		}
		if v := r.FormValue("end"); v != "" {
			if t, ok := mediaio.ParseTimecode(v); ok {
				end = t
			}
		}
		srcPath = up.Path
		if label == "" {
			label = stemOf(up.Name)
		}
	} else {
		body, err := decodeJSONObject(r)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		p := engine.Payload(body)
		label = strings.TrimSpace(p.String("label"))
		if t, ok := mediaio.ParseTimecode(body["start"]); ok {
			start = t
		}
		if t, ok := mediaio.ParseTimecode(body["end"]); ok {
			end = t
		}

		path, dirCleanup, err := h.downloadReference(r.Context(), p)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		cleanup = dirCleanup
		srcPath = path
		if label == "" {
			label = stemOf(filepath.Base(path))
		}
	}
	defer cleanup()

	result, err := h.importReference(r.Context(), srcPath, label, start, end)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// downloadReference fetches the best audio track for a YouTube source
// into a scratch directory and picks the preferred container.
func (h *CustomVoiceHandler) downloadReference(ctx context.Context, p engine.Payload) (string, func(), error) {
	if strings.ToLower(strings.TrimSpace(p.String("source"))) != "youtube" {
		return "", nil, apperr.BadRequest("Provide multipart 'file' upload or JSON { source: 'youtube', url }.")
	}
	url := strings.TrimSpace(p.String("url"))
	if url == "" {
		return "", nil, apperr.BadRequest("Field 'url' is required for YouTube source.")
	}
	if !h.fetcher.Available() {
		return "", nil, apperr.Unavailable("yt-dlp is required for YouTube imports. Install 'yt-dlp' and try again.")
	}

	dir, err := os.MkdirTemp("", "ttshub-yt-")
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindIOFailure, "could not stage the download", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	if err := h.fetcher.Fetch(ctx, url, filepath.Join(dir, "ref.%(ext)s")); err != nil {
		cleanup()
		return "", nil, err
	}
	candidates, _ := filepath.Glob(filepath.Join(dir, "ref.*"))
	if len(candidates) == 0 {
		cleanup()
		return "", nil, apperr.IOFailure("yt-dlp did not produce an output file.")
	}
	picked := candidates[0]
	for _, ext := range preferredDownloadExts {
		found := ""
		for _, c := range candidates {
			if strings.EqualFold(filepath.Ext(c), ext) {
				found = c
				break
			}
		}
		if found != "" {
			picked = found
			break
		}
	}
	return picked, cleanup, nil
}

// importReference normalizes the source into a uniquely named WAV in
// the voice directory, validates its length, and renders a preview.
func (h *CustomVoiceHandler) importReference(ctx context.Context, srcPath, label string, start, end float64) (*CustomVoiceCreated, error) {
	slug := voices.SlugID(label)
	outPath := h.uniqueReferencePath(slug)

	if err := h.media.NormalizeToWAV(ctx, srcPath, outPath, start, end); err != nil {
		return nil, err
	}

	duration, err := h.media.Duration(ctx, outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return nil, err
	}
	if duration < h.cfg.MinRefSeconds || duration > h.cfg.MaxRefSeconds {
		_ = os.Remove(outPath)
		return nil, apperr.BadRequestf("Reference must be between %d and %d seconds (got %.1fs).",
			int(h.cfg.MinRefSeconds), int(h.cfg.MaxRefSeconds), duration)
	}

	voiceID := voices.SlugID(stemOf(filepath.Base(outPath)))
	if _, err := h.previews.Ensure(ctx, voices.PreviewRequest{Engine: "xtts", Voice: voiceID, Force: true}); err != nil {
		h.logger.Debug("custom voice preview skipped",
			slog.String("voice", voiceID),
			slog.String("error", err.Error()))
	}

	var previewURL *string
	if url := voices.FindCachedPreview(h.layout, "xtts", voiceID); url != "" {
		previewURL = &url
	}

	h.logger.Info("imported custom voice",
		slog.String("voice", voiceID),
		slog.Float64("duration", duration))
	return &CustomVoiceCreated{
		Status: "created",
		Engine: "xtts",
		Voice: CreatedVoice{
			ID:         voiceID,
			Label:      voices.TitleLabel(stemOf(filepath.Base(outPath))),
			Path:       outPath,
			PreviewURL: previewURL,
		},
	}, nil
}

// uniqueReferencePath appends _2, _3, … until the slug names an unused
// WAV in the voice directory.
func (h *CustomVoiceHandler) uniqueReferencePath(slug string) string {
	path := filepath.Join(h.xtts.VoiceDir(), slug+".wav")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(h.xtts.VoiceDir(), fmt.Sprintf("%s_%d.wav", slug, i))
	}
}

// CustomVoiceInput addresses one imported voice.
type CustomVoiceInput struct {
	ID string `path:"id"`
}

// CustomVoiceOutput is the catalog entry payload.
type CustomVoiceOutput struct {
	Body voices.Voice
}

// Get returns the catalog entry for one imported voice.
func (h *CustomVoiceHandler) Get(ctx context.Context, input *CustomVoiceInput) (*CustomVoiceOutput, error) {
	v, _, err := h.findVoice(input.ID)
	if err != nil {
		return nil, err
	}
	return &CustomVoiceOutput{Body: *v}, nil
}

// CustomVoicePatch overlays sidecar metadata. Nil fields stay unchanged.
type CustomVoicePatch struct {
	Label    *string   `json:"label,omitempty"`
	Language *string   `json:"language,omitempty"`
	Gender   *string   `json:"gender,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	Notes    *string   `json:"notes,omitempty"`
}

// UpdateCustomVoiceInput carries the patch for one voice.
type UpdateCustomVoiceInput struct {
	ID   string `path:"id"`
	Body CustomVoicePatch
}

// Update merges the patch into the voice's sidecar document and returns
// the refreshed catalog entry.
func (h *CustomVoiceHandler) Update(ctx context.Context, input *UpdateCustomVoiceInput) (*CustomVoiceOutput, error) {
	_, refPath, err := h.findVoice(input.ID)
	if err != nil {
		return nil, err
	}

	sc, err := voices.LoadSidecar(refPath)
	if err != nil || sc == nil {
		sc = &voices.Sidecar{}
	}
	if input.Body.Label != nil {
		sc.Label = strings.TrimSpace(*input.Body.Label)
	}
	if input.Body.Language != nil {
		sc.Language = strings.TrimSpace(*input.Body.Language)
	}
	if input.Body.Gender != nil {
		sc.Gender = strings.ToLower(strings.TrimSpace(*input.Body.Gender))
	}
	if input.Body.Tags != nil {
		sc.Tags = *input.Body.Tags
	}
	if input.Body.Notes != nil {
		sc.Notes = *input.Body.Notes
	}
	if err := voices.SaveSidecar(refPath, sc); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not save the voice metadata", err)
	}

	v, _, err := h.findVoice(input.ID)
	if err != nil {
		return nil, err
	}
	return &CustomVoiceOutput{Body: *v}, nil
}

// DeleteCustomVoiceOutput is the removal acknowledgement.
type DeleteCustomVoiceOutput struct {
	Body DeletedResponse
}

// Delete removes the reference clip along with its sidecar and any
// cached previews.
func (h *CustomVoiceHandler) Delete(ctx context.Context, input *CustomVoiceInput) (*DeleteCustomVoiceOutput, error) {
	v, refPath, err := h.findVoice(input.ID)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(refPath); err != nil && !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not delete the reference clip", err)
	}
	if err := voices.DeleteSidecar(refPath); err != nil {
		h.logger.Debug("sidecar removal failed",
			slog.String("voice", v.ID),
			slog.String("error", err.Error()))
	}
	pattern := h.layout.PreviewRel("xtts", v.ID+"-*.wav")
	if matches, err := h.layout.Sandbox().Glob(pattern); err == nil {
		for _, rel := range matches {
			_ = h.layout.Sandbox().Remove(rel)
		}
	}

	h.logger.Info("deleted custom voice", slog.String("voice", v.ID))
	return &DeleteCustomVoiceOutput{Body: DeletedResponse{OK: true}}, nil
}

// findVoice resolves an id to its catalog entry and reference path.
func (h *CustomVoiceHandler) findVoice(id string) (*voices.Voice, string, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	catalog := h.xtts.Voices()
	for i := range catalog.Voices {
		v := &catalog.Voices[i]
		if v.ID != key {
			continue
		}
		refPath, _ := v.Raw["path"].(string)
		if refPath == "" {
			return nil, "", apperr.NotFound("Not found")
		}
		return v, refPath, nil
	}
	return nil, "", apperr.NotFound("Not found")
}

// stemOf strips the extension from a filename.
func stemOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
