package engine

import (
	"archive/zip"
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/audio"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/util"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// kokoroRunnerName is the auto-detected runner when no argv is
// configured. The runner loads the ONNX model, so a missing binary
// makes the whole engine unavailable.
const kokoroRunnerName = "kokoro-cli"

// kokoroRunnerEnv overrides runner discovery for development setups.
const kokoroRunnerEnv = "TTSHUB_KOKORO_BINARY"

// Kokoro renders speech from the bundled voice bank through an external
// ONNX runner. The voice catalog is enumerated from the .npz archive and
// re-derived when the archive changes on disk.
type Kokoro struct {
	cfg    config.KokoroConfig
	layout *storage.Layout
	run    runner
	logger *slog.Logger

	mu          sync.Mutex
	profiles    []voices.Voice
	profilesMod time.Time
}

// NewKokoro builds the voice-bank engine.
func NewKokoro(cfg config.KokoroConfig, layout *storage.Layout, logger *slog.Logger) *Kokoro {
	if logger == nil {
		logger = observability.Default()
	}
	return &Kokoro{cfg: cfg, layout: layout, run: execx.Runner{}, logger: logger}
}

// WithRunner swaps the subprocess runner, for tests.
func (k *Kokoro) WithRunner(r runner) *Kokoro {
	k.run = r
	return k
}

// ID implements Engine.
func (k *Kokoro) ID() string { return "kokoro" }

// Meta implements Engine.
func (k *Kokoro) Meta() Meta {
	available := k.Available()
	status := "pending"
	if available {
		status = "ready"
	}
	return Meta{
		ID:            "kokoro",
		Label:         "Kokoro (ONNX)",
		Description:   "Bundled Kokoro voices running locally via ONNX.",
		Available:     available,
		RequiresVoice: true,
		Supports:      map[string]bool{"audition": true, "cloning": false},
		Defaults:      map[string]string{"voice": "af_heart", "language": "en-us"},
		Status:        status,
	}
}

// Available implements Engine: the model and voice bank must exist and
// a runner command must resolve.
func (k *Kokoro) Available() bool {
	if !fileExists(k.cfg.ModelPath) || !fileExists(k.cfg.VoicesPath) {
		return false
	}
	_, ok := k.runnerArgv()
	return ok
}

// runnerArgv resolves the runner invocation: the configured argv wins,
// otherwise the bundled runner name is searched.
func (k *Kokoro) runnerArgv() ([]string, bool) {
	if len(k.cfg.Command) > 0 {
		return k.cfg.Command, true
	}
	if path, err := util.FindBinary(kokoroRunnerName, kokoroRunnerEnv); err == nil {
		return []string{path}, true
	}
	return nil, false
}

// Voices implements Engine.
func (k *Kokoro) Voices() *voices.Catalog {
	profiles, err := k.loadProfiles()
	if err != nil {
		return &voices.Catalog{
			Engine:       "kokoro",
			Available:    false,
			Voices:       []voices.Voice{},
			AccentGroups: []voices.Group{},
			Groups:       []voices.Group{},
			Message:      apperr.MessageOf(err),
		}
	}

	serialized := make([]voices.Voice, len(profiles))
	for i, p := range profiles {
		v := p
		v.Raw = map[string]any{}
		if url := k.previewURL(p); url != "" {
			v.Raw["preview_url"] = url
		}
		serialized[i] = v
	}

	accentGroups := voices.BuildAccentGroups(serialized)
	filters := voices.BuildFilters(serialized, accentGroups)
	return &voices.Catalog{
		Engine:       "kokoro",
		Available:    fileExists(k.cfg.ModelPath) && fileExists(k.cfg.VoicesPath),
		Voices:       serialized,
		AccentGroups: accentGroups,
		Groups:       accentGroups,
		Count:        len(serialized),
		Filters:      filters,
	}
}

// previewURL reports the cached preview for the voice's own locale.
// Unlike the cloning engines, the bank pins previews to the derived
// locale so each accent demos in its native language.
func (k *Kokoro) previewURL(v voices.Voice) string {
	locale := strings.ToLower(v.Locale)
	if locale == "" {
		locale = "en-us"
	}
	rel := k.layout.PreviewRel("kokoro", voices.PreviewFileName(v.ID, locale))
	if ok, err := k.layout.Sandbox().Exists(rel); err == nil && ok {
		return storage.AudioURL(rel)
	}
	return ""
}

// loadProfiles enumerates the voice bank. The .npz archive is a zip of
// .npy embeddings; entry stems are the voice ids. Profiles are cached
// against the archive mtime.
func (k *Kokoro) loadProfiles() ([]voices.Voice, error) {
	info, err := os.Stat(k.cfg.VoicesPath)
	if err != nil {
		return nil, apperr.IOFailuref("Voice bank not found at %s. Set engines.kokoro.voices_path to the voices archive.", k.cfg.VoicesPath)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.profiles != nil && info.ModTime().Equal(k.profilesMod) {
		return k.profiles, nil
	}

	archive, err := zip.OpenReader(k.cfg.VoicesPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "Could not read the voice bank archive.", err)
	}
	defer archive.Close()

	ids := make([]string, 0, len(archive.File))
	for _, f := range archive.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.TrimSuffix(path.Base(f.Name), ".npy")
		if name == "" {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)

	profiles := make([]voices.Voice, 0, len(ids))
	for _, id := range ids {
		locale := voices.DeriveLocale(id)
		profiles = append(profiles, voices.Voice{
			ID:     id,
			Label:  voices.TitleLabel(id),
			Locale: locale,
			Gender: voices.DeriveGender(id),
			Tags:   []string{},
			Engine: "kokoro",
			Accent: voices.ResolveAccent(id, locale),
		})
	}

	k.profiles = profiles
	k.profilesMod = info.ModTime()
	return profiles, nil
}

// findProfile returns the bank entry for a voice id, or nil.
func (k *Kokoro) findProfile(id string) *voices.Voice {
	profiles, err := k.loadProfiles()
	if err != nil {
		return nil
	}
	for i := range profiles {
		if profiles[i].ID == id {
			return &profiles[i]
		}
	}
	return nil
}

type kokoroRequest struct {
	Base
}

func (*kokoroRequest) engineID() string { return "kokoro" }

// Prepare implements Engine.
func (k *Kokoro) Prepare(p Payload) (Request, error) {
	base, err := ValidateBase(p, true)
	if err != nil {
		return nil, err
	}
	return &kokoroRequest{Base: base}, nil
}

// Synthesize implements Engine.
func (k *Kokoro) Synthesize(ctx context.Context, req Request) (*Result, error) {
	kr, ok := req.(*kokoroRequest)
	if !ok {
		return nil, apperr.Internal("mismatched engine request")
	}
	if !k.Available() {
		return nil, apperr.Unavailable("TTS engine 'kokoro' is not available.")
	}
	argv, _ := k.runnerArgv()

	filename := storage.NewClipName(kr.Voice, "wav")
	outPath := filepath.Join(k.layout.BaseDir(), filename)

	args := append([]string{}, argv[1:]...)
	args = append(args,
		"--text", kr.Text,
		"--voice", kr.Voice,
		"--speed", formatFloat(kr.Speed),
		"--lang", kr.Language,
	)
	if kr.TrimSilence {
		args = append(args, "--trim")
	} else {
		args = append(args, "--no-trim")
	}
	args = append(args, "--out", outPath)

	env := pythonEnv()
	env = append(env, "KOKORO_MODEL="+k.cfg.ModelPath, "KOKORO_VOICES="+k.cfg.VoicesPath)

	res, err := k.run.Run(ctx, execx.Command{
		Path:    argv[0],
		Args:    args,
		Env:     env,
		Timeout: k.cfg.Timeout,
	})
	if err != nil {
		return nil, mapRunError(err,
			"Kokoro synthesis timed out.",
			"Kokoro runner could not be started. Check engines.kokoro.command.")
	}
	if res.ExitCode != 0 {
		return nil, apperr.EngineFailuref("Kokoro synthesis failed: %s", failureDetail(res))
	}
	if !fileExists(outPath) {
		return nil, apperr.EngineFailure("Kokoro did not produce an output file.")
	}

	wave, err := audio.DecodeFile(outPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineFailure, "Kokoro produced an unreadable output file.", err)
	}

	result := &Result{
		ID:          filename,
		Engine:      "kokoro",
		Voice:       kr.Voice,
		Path:        storage.AudioURL(filename),
		Filename:    filename,
		SampleRate:  wave.Rate,
		Language:    kr.Language,
		Speed:       &kr.Speed,
		TrimSilence: &kr.TrimSilence,
		Text:        kr.Text,
	}
	if profile := k.findProfile(kr.Voice); profile != nil {
		result.Locale = profile.Locale
		accent := profile.Accent
		result.Accent = &accent
	}
	k.logger.Debug("kokoro synthesis complete",
		slog.String("voice", kr.Voice),
		slog.String("file", filename),
		slog.Int("sample_rate", wave.Rate))
	return result, nil
}

// fileExists reports whether path names an existing file or directory.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
