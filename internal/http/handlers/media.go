package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/ingest"
	"github.com/jmylchreest/ttshub/internal/mediaedit"
	"github.com/jmylchreest/ttshub/internal/mediaio"
	"github.com/jmylchreest/ttshub/internal/stats"
)

// MediaHandler drives the edit pipeline: transcribe uploads into jobs,
// refine alignments, splice replacement speech, and remux the result.
// The upload routes mount raw on chi; the JSON steps are huma
// operations.
type MediaHandler struct {
	jobs      *mediaedit.Jobs
	media     *mediaio.Processor
	cache     *ingest.Cache
	fetcher   *ingest.YtdlpFetcher
	stats     *stats.Recorder
	maxUpload int64
	logger    *slog.Logger
}

// NewMediaHandler creates a new media pipeline handler.
func NewMediaHandler(jobs *mediaedit.Jobs, media *mediaio.Processor, cache *ingest.Cache, fetcher *ingest.YtdlpFetcher, rec *stats.Recorder, maxUpload int64, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{
		jobs:      jobs,
		media:     media,
		cache:     cache,
		fetcher:   fetcher,
		stats:     rec,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// RegisterRoutes mounts the multipart endpoints on the router.
func (h *MediaHandler) RegisterRoutes(router chi.Router, prefix string) {
	router.Post(prefix+"/media/transcribe", h.Transcribe)
	router.Post(prefix+"/media/probe", h.Probe)
}

// Register registers the JSON pipeline steps with the API.
func (h *MediaHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "alignMedia",
		Method:      http.MethodPost,
		Path:        prefix + "/media/align",
		Summary:     "Align a job transcript",
		Description: "Runs a full word-level alignment pass over the job's source audio",
		Tags:        []string{"Media"},
	}, h.Align)

	huma.Register(api, huma.Operation{
		OperationID: "alignMediaRegion",
		Method:      http.MethodPost,
		Path:        prefix + "/media/align_region",
		Summary:     "Re-align a region",
		Description: "Re-aligns only the expanded window around [start, end] and merges the result",
		Tags:        []string{"Media"},
	}, h.AlignRegion)

	huma.Register(api, huma.Operation{
		OperationID: "replaceMediaPreview",
		Method:      http.MethodPost,
		Path:        prefix + "/media/replace_preview",
		Summary:     "Preview a replacement",
		Description: "Synthesizes new speech for a region and splices it over the source",
		Tags:        []string{"Media"},
	}, h.ReplacePreview)

	huma.Register(api, huma.Operation{
		OperationID: "applyMedia",
		Method:      http.MethodPost,
		Path:        prefix + "/media/apply",
		Summary:     "Finalize a job",
		Description: "Remuxes the latest preview under the original video, or copies the audio",
		Tags:        []string{"Media"},
	}, h.Apply)

	huma.Register(api, huma.Operation{
		OperationID: "estimateMedia",
		Method:      http.MethodPost,
		Path:        prefix + "/media/estimate",
		Summary:     "Estimate processing time",
		Description: "Resolves a URL through the download cache and projects per-step durations",
		Tags:        []string{"Media"},
	}, h.Estimate)

	huma.Register(api, huma.Operation{
		OperationID: "getMediaStats",
		Method:      http.MethodGet,
		Path:        prefix + "/media/stats",
		Summary:     "Pipeline timing stats",
		Description: "Rolling per-step timing summaries used for progress estimates",
		Tags:        []string{"Media"},
	}, h.Stats)
}

// Transcribe creates an edit job from a multipart upload or a cached
// YouTube download and returns the job id with its first transcript.
func (h *MediaHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		up, err := saveUpload(r, "file")
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		defer up.Cleanup()

		result, err := h.jobs.Create(r.Context(), up.Path, up.Name)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	path, err := h.resolveRemote(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	result, err := h.jobs.Create(r.Context(), path, filepath.Base(path))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Probe inspects an uploaded file without creating a job.
func (h *MediaHandler) Probe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	up, err := saveUpload(r, "file")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer up.Cleanup()

	info, err := h.media.Probe(r.Context(), up.Path)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// resolveRemote handles the JSON body variant of an ingest request,
// downloading through the cache. Only YouTube sources are supported.
func (h *MediaHandler) resolveRemote(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := decodeJSONObject(r)
	if err != nil {
		return "", err
	}
	p := engine.Payload(body)
	if strings.ToLower(strings.TrimSpace(p.String("source"))) != "youtube" {
		return "", apperr.BadRequest("Provide multipart 'file' upload or JSON { source: 'youtube', url }.")
	}
	url := strings.TrimSpace(p.String("url"))
	if url == "" {
		return "", apperr.BadRequest("Field 'url' is required for YouTube source.")
	}
	if !h.fetcher.Available() {
		return "", apperr.Unavailable("yt-dlp is required for YouTube imports. Install 'yt-dlp' and try again.")
	}
	h.cache.MaybeReap()
	return h.cache.ResolveOrDownload(r.Context(), url, h.fetcher)
}

// AlignInput names the job to re-align. Field checks live in the job
// manager so every entry point reports the same messages.
type AlignInput struct {
	Body struct {
		JobID string `json:"jobId,omitempty"`
	}
}

// AlignOutput is the full-pass alignment payload.
type AlignOutput struct {
	Body mediaedit.AlignResult
}

// Align runs a full word-level alignment pass over a job.
func (h *MediaHandler) Align(ctx context.Context, input *AlignInput) (*AlignOutput, error) {
	result, err := h.jobs.Align(ctx, input.Body.JobID)
	if err != nil {
		return nil, err
	}
	return &AlignOutput{Body: *result}, nil
}

// AlignRegionInput bounds a windowed re-alignment. Margin is seconds;
// omitted it takes the configured default.
type AlignRegionInput struct {
	Body struct {
		JobID  string   `json:"jobId,omitempty"`
		Start  float64  `json:"start,omitempty"`
		End    float64  `json:"end,omitempty"`
		Margin *float64 `json:"margin,omitempty"`
	}
}

// AlignRegionOutput is the windowed alignment payload.
type AlignRegionOutput struct {
	Body mediaedit.AlignRegionResult
}

// AlignRegion re-aligns the expanded window around [start, end].
func (h *MediaHandler) AlignRegion(ctx context.Context, input *AlignRegionInput) (*AlignRegionOutput, error) {
	margin := h.jobs.DefaultMargin()
	if input.Body.Margin != nil {
		margin = *input.Body.Margin
	}
	result, err := h.jobs.AlignRegion(ctx, input.Body.JobID, input.Body.Start, input.Body.End, margin)
	if err != nil {
		return nil, err
	}
	return &AlignRegionOutput{Body: *result}, nil
}

// ReplacePreviewInput carries the raw replacement request. The body
// stays loose because clients send both camelCase and snake_case keys.
type ReplacePreviewInput struct {
	Body map[string]any
}

// ReplacePreviewOutput is the replacement preview payload.
type ReplacePreviewOutput struct {
	Body mediaedit.ReplaceResult
}

// ReplacePreview synthesizes replacement speech for a region and
// splices it over the job's source audio.
func (h *MediaHandler) ReplacePreview(ctx context.Context, input *ReplacePreviewInput) (*ReplacePreviewOutput, error) {
	p := engine.Payload(input.Body)
	params := mediaedit.ReplaceParams{
		Text:     p.String("text"),
		Engine:   p.String("engine"),
		Voice:    p.String("voice"),
		Language: p.String("language"),
	}

	start, err := payloadFloat(p, "start")
	if err != nil {
		return nil, err
	}
	if start != nil {
		params.Start = *start
	}
	end, err := payloadFloat(p, "end")
	if err != nil {
		return nil, err
	}
	if end != nil {
		params.End = *end
	}
	if params.Speed, err = payloadFloat(p, "speed"); err != nil {
		return nil, err
	}
	if params.FadeMs, err = payloadFloat(p, "fadeMs", "fade_ms"); err != nil {
		return nil, err
	}
	if params.DuckDB, err = payloadFloat(p, "duckDb", "duck_db"); err != nil {
		return nil, err
	}
	if params.MarginMs, err = payloadInt(p, "marginMs", "margin_ms"); err != nil {
		return nil, err
	}
	params.TrimReplacement = payloadBool(p, false, "trimReplacement", "trim_replacement", "trim")
	params.AlignReplace = payloadBool(p, false, "alignReplace", "align_replace")

	jobID := firstNonEmpty(p.String("jobId"), p.String("job_id"))
	result, err := h.jobs.ReplacePreview(ctx, jobID, params)
	if err != nil {
		return nil, err
	}
	return &ReplacePreviewOutput{Body: *result}, nil
}

// ApplyInput finalizes a job into the requested container.
type ApplyInput struct {
	Body struct {
		JobID  string `json:"jobId,omitempty"`
		Format string `json:"format,omitempty"`
	}
}

// ApplyOutput is the finalize payload.
type ApplyOutput struct {
	Body mediaedit.ApplyResult
}

// Apply remuxes the latest preview under the original video stream, or
// copies the audio when the source had none.
func (h *MediaHandler) Apply(ctx context.Context, input *ApplyInput) (*ApplyOutput, error) {
	result, err := h.jobs.Apply(ctx, input.Body.JobID, input.Body.Format)
	if err != nil {
		return nil, err
	}
	return &ApplyOutput{Body: *result}, nil
}

// EstimateInput names a remote source to project timings for.
type EstimateInput struct {
	Body struct {
		URL string `json:"url,omitempty"`
	}
}

// EstimateResponse projects per-step processing times for a source.
// Estimates hold expected seconds per pipeline step, derived from the
// rolling real-time factors; steps without history are absent.
type EstimateResponse struct {
	URL       string             `json:"url"`
	Duration  float64            `json:"duration"`
	Cached    bool               `json:"cached"`
	Estimates map[string]float64 `json:"estimates"`
}

// EstimateOutput is the estimate payload.
type EstimateOutput struct {
	Body EstimateResponse
}

// Estimate resolves url through the download cache and projects how
// long each pipeline step would take on it.
func (h *MediaHandler) Estimate(ctx context.Context, input *EstimateInput) (*EstimateOutput, error) {
	url := strings.TrimSpace(input.Body.URL)
	if url == "" {
		return nil, apperr.BadRequest("Field 'url' is required.")
	}

	path := h.cache.Lookup(url)
	cached := path != ""
	if !cached {
		if !h.fetcher.Available() {
			return nil, apperr.Unavailable("yt-dlp is required for YouTube imports. Install 'yt-dlp' and try again.")
		}
		h.cache.MaybeReap()
		var err error
		if path, err = h.cache.ResolveOrDownload(ctx, url, h.fetcher); err != nil {
			return nil, err
		}
	}

	duration, err := h.media.Duration(ctx, path)
	if err != nil {
		return nil, err
	}

	estimates := map[string]float64{}
	for kind, summary := range h.stats.Summaries() {
		if summary.AvgRTF > 0 {
			estimates[kind] = duration / summary.AvgRTF
		}
	}
	return &EstimateOutput{Body: EstimateResponse{
		URL:       url,
		Duration:  duration,
		Cached:    cached,
		Estimates: estimates,
	}}, nil
}

// MediaStatsResponse wraps the per-step timing summaries.
type MediaStatsResponse struct {
	Stats map[string]stats.Summary `json:"stats"`
}

// StatsOutput is the timing stats payload.
type StatsOutput struct {
	Body MediaStatsResponse
}

// Stats reports the rolling per-step timing summaries.
func (h *MediaHandler) Stats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: MediaStatsResponse{Stats: h.stats.Summaries()}}, nil
}

// payloadFloat reads the first present key as a float, nil when absent.
func payloadFloat(p engine.Payload, keys ...string) (*float64, error) {
	for _, key := range keys {
		v, ok, err := p.Float(key)
		if err != nil {
			return nil, apperr.BadRequestf("Field '%s' must be numeric.", key)
		}
		if ok {
			return &v, nil
		}
	}
	return nil, nil
}

// payloadInt reads the first present key as an int, nil when absent.
func payloadInt(p engine.Payload, keys ...string) (*int, error) {
	for _, key := range keys {
		v, ok, err := p.Int(key)
		if err != nil {
			return nil, apperr.BadRequestf("Field '%s' must be an integer.", key)
		}
		if ok {
			n := int(v)
			return &n, nil
		}
	}
	return nil, nil
}

// payloadBool reads the first present key as a bool.
func payloadBool(p engine.Payload, def bool, keys ...string) bool {
	for _, key := range keys {
		if p.Has(key) {
			return p.Bool(key, def)
		}
	}
	return def
}
