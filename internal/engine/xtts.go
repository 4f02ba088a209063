package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/httpclient"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// XTTS clones voices from reference clips, either through the local CLI
// service or a remote server when server_url is configured. Reference
// clips live flat in voice_dir; ids are slugified stems.
type XTTS struct {
	cfg    config.XTTSConfig
	layout *storage.Layout
	run    runner
	http   *httpclient.Client
	logger *slog.Logger
}

// NewXTTS builds the cloning engine.
func NewXTTS(cfg config.XTTSConfig, layout *storage.Layout, logger *slog.Logger) *XTTS {
	if logger == nil {
		logger = observability.Default()
	}
	// Synthesis POSTs are expensive and not idempotent, so the remote
	// client never retries; 5xx statuses from the server pass through.
	hc := httpclient.New(httpclient.Config{
		Timeout:             cfg.Timeout,
		RetryAttempts:       0,
		CircuitThreshold:    3,
		CircuitTimeout:      30 * time.Second,
		CircuitHalfOpenMax:  1,
		EnableDecompression: true,
		Logger:              logger,
	})
	return &XTTS{cfg: cfg, layout: layout, run: execx.Runner{}, http: hc, logger: logger}
}

// WithRunner swaps the subprocess runner, for tests.
func (x *XTTS) WithRunner(r runner) *XTTS {
	x.run = r
	return x
}

// WithHTTPClient swaps the remote-mode client, for tests.
func (x *XTTS) WithHTTPClient(c *httpclient.Client) *XTTS {
	x.http = c
	return x
}

// ID implements Engine.
func (x *XTTS) ID() string { return "xtts" }

// Meta implements Engine.
func (x *XTTS) Meta() Meta {
	available := x.Available()
	status := "pending"
	if available {
		status = "ready"
	}
	return Meta{
		ID:            "xtts",
		Label:         "XTTS v2",
		Description:   "Coqui XTTS voice cloning (local CLI).",
		Available:     available,
		RequiresVoice: true,
		Supports:      map[string]bool{"cloning": true},
		Defaults:      map[string]string{},
		Status:        status,
	}
}

// Available implements Engine: interpreter and service checkout must
// exist and at least one reference clip must be present.
func (x *XTTS) Available() bool {
	return x.available(x.voiceList())
}

func (x *XTTS) available(list []xttsVoice) bool {
	if len(list) == 0 {
		return false
	}
	return x.ServiceReady()
}

// ServiceReady reports whether the interpreter and service checkout are
// present. Unlike Available it does not require any reference clips, so
// voice imports can run against an empty library.
func (x *XTTS) ServiceReady() bool {
	if _, ok := resolveInterpreter(x.cfg.Python, ""); !ok {
		return false
	}
	return fileExists(x.cfg.ServiceDir)
}

// VoiceDir returns the flat directory holding reference clips.
func (x *XTTS) VoiceDir() string {
	return x.cfg.VoiceDir
}

// xttsVoice is one reference clip with its derived id.
type xttsVoice struct {
	ID   string
	Path string
}

// refExtensions returns the accepted reference extensions with dots.
func (x *XTTS) refExtensions() map[string]bool {
	formats := x.cfg.Formats
	if len(formats) == 0 {
		formats = []string{"wav", "mp3", "flac", "ogg"}
	}
	exts := make(map[string]bool, len(formats))
	for _, f := range formats {
		exts["."+strings.TrimPrefix(strings.ToLower(f), ".")] = true
	}
	return exts
}

// voiceList scans voice_dir and derives stable ids from file stems,
// uniquified in sorted filename order so ids survive unrelated adds.
func (x *XTTS) voiceList() []xttsVoice {
	entries, err := os.ReadDir(x.cfg.VoiceDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	exts := x.refExtensions()
	taken := make(map[string]bool)
	var list []xttsVoice
	for _, name := range names {
		if !exts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		id := voices.UniqueID(voices.SlugID(stem), taken)
		taken[id] = true
		list = append(list, xttsVoice{ID: id, Path: filepath.Join(x.cfg.VoiceDir, name)})
	}
	return list
}

// Voices implements Engine.
func (x *XTTS) Voices() *voices.Catalog {
	list := x.voiceList()

	entries := make([]voices.Voice, 0, len(list))
	ids := make([]string, 0, len(list))
	for _, entry := range list {
		name := filepath.Base(entry.Path)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		raw := map[string]any{
			"engine": "xtts",
			"path":   entry.Path,
		}
		if url := voices.FindCachedPreview(x.layout, "xtts", entry.ID); url != "" {
			raw["preview_url"] = url
		}
		v := voices.Voice{
			ID:     entry.ID,
			Label:  voices.TitleLabel(stem),
			Tags:   []string{},
			Notes:  name,
			Accent: voices.Accent{ID: "custom", Label: "Custom Voice", Flag: "🎙️"},
			Raw:    raw,
		}
		if sc, err := voices.LoadSidecar(entry.Path); err == nil {
			sc.Apply(&v)
		}
		entries = append(entries, v)
		ids = append(ids, entry.ID)
	}

	var groups []voices.Group
	if len(entries) > 0 {
		groups = []voices.Group{{
			ID:     "xtts_custom",
			Label:  "XTTS Voices",
			Flag:   "🎙️",
			Count:  len(entries),
			Voices: ids,
		}}
	} else {
		groups = []voices.Group{}
	}

	catalog := &voices.Catalog{
		Engine:       "xtts",
		Available:    x.available(list),
		Voices:       entries,
		AccentGroups: groups,
		Groups:       groups,
		Count:        len(entries),
	}
	if len(entries) == 0 {
		catalog.Message = "Place reference clips in the XTTS voices directory and reload."
	}
	return catalog
}

// resolveVoice maps a client identifier onto a reference clip: an exact
// id, a slugified form, or a file path. Paths are only honored inside
// voice_dir or the media-edit workspace, so a request cannot point the
// cloner at arbitrary files.
func (x *XTTS) resolveVoice(identifier string) (string, string, error) {
	list := x.voiceList()
	byID := make(map[string]string, len(list))
	for _, v := range list {
		byID[v.ID] = v.Path
	}

	key := strings.ToLower(strings.TrimSpace(identifier))
	if path, ok := byID[key]; ok {
		return key, path, nil
	}
	slug := voices.SlugID(identifier)
	if path, ok := byID[slug]; ok {
		return slug, path, nil
	}

	if abs, err := filepath.Abs(identifier); err == nil && fileExists(abs) {
		mediaEdits := filepath.Join(x.layout.BaseDir(), storage.MediaEditsDir)
		if pathWithin(x.cfg.VoiceDir, abs) || pathWithin(mediaEdits, abs) {
			stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
			return voices.SlugID(stem), abs, nil
		}
	}
	return "", "", apperr.BadRequestf("Unknown XTTS voice '%s'.", identifier)
}

type xttsRequest struct {
	Text        string
	VoiceID     string
	VoicePath   string
	Language    string
	Speed       float64
	Temperature float64
	Seed        int64
	Format      string
	SampleRate  int
}

func (*xttsRequest) engineID() string { return "xtts" }

// Prepare implements Engine.
func (x *XTTS) Prepare(p Payload) (Request, error) {
	base, err := ValidateBase(p, true)
	if err != nil {
		return nil, err
	}

	voiceID, voicePath, err := x.resolveVoice(base.Voice)
	if err != nil {
		return nil, err
	}

	// XTTS wants a bare language tag: en-us collapses to en.
	language := base.Language
	if language == "" {
		language = "en"
	}
	if i := strings.Index(language, "-"); i >= 0 {
		language = language[:i]
	}

	format := strings.ToLower(strings.TrimSpace(p.String("format")))
	if format == "" {
		format = "wav"
	}
	format = strings.TrimPrefix(format, ".")
	if !x.refExtensions()["."+format] {
		return nil, apperr.BadRequestf("Unsupported XTTS format '%s'.", format)
	}

	sampleRate := int64(24000)
	if v, ok, err := p.Int("sample_rate"); err != nil {
		return nil, apperr.BadRequest("XTTS sample rate must be an integer.")
	} else if ok {
		sampleRate = v
	}

	temperature := 0.6
	if v, ok, err := p.Float("temperature"); err != nil {
		return nil, apperr.BadRequest("XTTS temperature must be numeric.")
	} else if ok {
		temperature = v
	}

	seed := int64(42)
	if v, ok, err := p.Int("seed"); err != nil {
		return nil, apperr.BadRequest("XTTS seed must be an integer.")
	} else if ok {
		seed = v
	}

	return &xttsRequest{
		Text:        base.Text,
		VoiceID:     voiceID,
		VoicePath:   voicePath,
		Language:    language,
		Speed:       base.Speed,
		Temperature: temperature,
		Seed:        seed,
		Format:      format,
		SampleRate:  int(sampleRate),
	}, nil
}

// Synthesize implements Engine.
func (x *XTTS) Synthesize(ctx context.Context, req Request) (*Result, error) {
	xr, ok := req.(*xttsRequest)
	if !ok {
		return nil, apperr.Internal("mismatched engine request")
	}
	if !x.Available() {
		return nil, apperr.Unavailable("XTTS engine is not available.")
	}
	if x.cfg.ServerURL != "" {
		return x.synthesizeRemote(ctx, xr)
	}
	return x.synthesizeCLI(ctx, xr)
}

func (x *XTTS) synthesizeCLI(ctx context.Context, xr *xttsRequest) (*Result, error) {
	python, ok := resolveInterpreter(x.cfg.Python, "")
	if !ok {
		return nil, apperr.EngineFailure("XTTS python executable not found. Set engines.xtts.python to the CLI interpreter.")
	}

	filename := storage.NewClipName("xtts", xr.Format)
	outPath := filepath.Join(x.layout.BaseDir(), filename)

	args := []string{
		"-m", "tts_service.cli",
		"--text", xr.Text,
		"--speaker-ref", xr.VoicePath,
		"--out", outPath,
		"--language", xr.Language,
		"--speed", formatFloat(xr.Speed),
		"--format", xr.Format,
		"--sample-rate", strconv.Itoa(xr.SampleRate),
		"--seed", strconv.FormatInt(xr.Seed, 10),
		"--temperature", formatFloat(xr.Temperature),
		"--no-cache",
	}

	res, err := x.run.Run(ctx, execx.Command{
		Path:    python,
		Args:    args,
		Dir:     x.cfg.ServiceDir,
		Env:     pythonEnv(),
		Timeout: x.cfg.Timeout,
	})
	if err != nil {
		return nil, mapRunError(err,
			"XTTS synthesis timed out.",
			"XTTS python executable not found. Set engines.xtts.python to the CLI interpreter.")
	}
	if res.ExitCode != 0 {
		return nil, apperr.EngineFailuref("XTTS synthesis failed: %s", failureDetail(res))
	}
	if !fileExists(outPath) {
		return nil, apperr.EngineFailure("XTTS did not produce an output file.")
	}

	x.logger.Debug("xtts synthesis complete",
		slog.String("voice", xr.VoiceID),
		slog.String("file", filename))
	return &Result{
		ID:         filename,
		Engine:     "xtts",
		Voice:      xr.VoiceID,
		Path:       storage.AudioURL(filename),
		Filename:   filename,
		SampleRate: xr.SampleRate,
	}, nil
}

// synthesizeRemote posts the request to the configured XTTS server and
// downloads the rendered clip into the output tree.
func (x *XTTS) synthesizeRemote(ctx context.Context, xr *xttsRequest) (*Result, error) {
	base := strings.TrimRight(x.cfg.ServerURL, "/")

	body, err := json.Marshal(map[string]any{
		"text":        xr.Text,
		"speaker_ref": xr.VoicePath,
		"language":    xr.Language,
		"temperature": xr.Temperature,
		"speed":       xr.Speed,
		"seed":        xr.Seed,
		"format":      xr.Format,
		"sample_rate": xr.SampleRate,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not encode XTTS request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not build XTTS request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Unavailablef("XTTS server request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &apperr.Error{
			Kind:    apperr.KindEngineFailure,
			Message: fmt.Sprintf("XTTS server error: %s", message),
			Status:  resp.StatusCode,
		}
	}

	var payload struct {
		Success  bool   `json:"success"`
		Error    string `json:"error"`
		Message  string `json:"message"`
		AudioURL string `json:"audio_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.EngineFailure("XTTS server returned invalid JSON.")
	}
	if !payload.Success {
		message := payload.Error
		if message == "" {
			message = payload.Message
		}
		if message == "" {
			message = "Unknown XTTS server failure."
		}
		return nil, apperr.EngineFailuref("XTTS server failed: %s", message)
	}
	if payload.AudioURL == "" {
		return nil, apperr.EngineFailure("XTTS server response missing audio URL.")
	}

	downloadURL, err := url.JoinPath(base, strings.TrimLeft(payload.AudioURL, "/"))
	if err != nil {
		return nil, apperr.EngineFailuref("Failed to download XTTS audio: %v", err)
	}
	download, err := x.http.Get(ctx, downloadURL)
	if err != nil {
		return nil, apperr.EngineFailuref("Failed to download XTTS audio: %v", err)
	}
	defer download.Body.Close()
	if download.StatusCode != http.StatusOK {
		return nil, apperr.EngineFailuref("Failed to download XTTS audio: HTTP %d", download.StatusCode)
	}

	filename := storage.NewClipName("xtts", xr.Format)
	if err := x.layout.Sandbox().AtomicWriteReader(filename, download.Body); err != nil {
		return nil, apperr.EngineFailuref("Failed to write XTTS output: %v", err)
	}

	x.logger.Debug("xtts remote synthesis complete",
		slog.String("voice", xr.VoiceID),
		slog.String("server", base),
		slog.String("file", filename))
	return &Result{
		ID:         filename,
		Engine:     "xtts",
		Voice:      xr.VoiceID,
		Path:       storage.AudioURL(filename),
		Filename:   filename,
		SampleRate: xr.SampleRate,
	}, nil
}

// pathWithin reports whether candidate is root or inside it, comparing
// cleaned absolute paths only.
func pathWithin(root, candidate string) bool {
	if root == "" {
		return false
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	if candAbs == rootAbs {
		return true
	}
	return strings.HasPrefix(candAbs, rootAbs+string(filepath.Separator))
}
