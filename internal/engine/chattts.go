package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// chatttsSampleRate is the model's fixed output rate.
const chatttsSampleRate = 24000

// Preset is a saved dialogue speaker embedding. Presets live as files
// in preset_dir: .json documents or bare .txt embeddings.
type Preset struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Speaker string `json:"speaker"`
	Notes   string `json:"notes,omitempty"`
	Seed    *int64 `json:"seed,omitempty"`
}

// ChatTTS renders dialogue speech with a random or preset speaker
// embedding. The checkout's CLI drops output_audio_*.mp3 files in its
// own root, so synthesis snapshots that directory and moves the new
// file into the output tree.
type ChatTTS struct {
	cfg    config.ChatTTSConfig
	layout *storage.Layout
	run    runner
	logger *slog.Logger
}

// NewChatTTS builds the dialogue engine.
func NewChatTTS(cfg config.ChatTTSConfig, layout *storage.Layout, logger *slog.Logger) *ChatTTS {
	if logger == nil {
		logger = observability.Default()
	}
	return &ChatTTS{cfg: cfg, layout: layout, run: execx.Runner{}, logger: logger}
}

// WithRunner swaps the subprocess runner, for tests.
func (c *ChatTTS) WithRunner(r runner) *ChatTTS {
	c.run = r
	return c
}

// ID implements Engine.
func (c *ChatTTS) ID() string { return "chattts" }

// Meta implements Engine.
func (c *ChatTTS) Meta() Meta {
	available := c.Available()
	status := "pending"
	if available {
		status = "ready"
	}
	return Meta{
		ID:            "chattts",
		Label:         "ChatTTS",
		Description:   "ChatTTS dialogue model (random speaker).",
		Available:     available,
		RequiresVoice: false,
		Supports:      map[string]bool{"cloning": false},
		Defaults:      map[string]string{},
		Status:        status,
	}
}

// Available implements Engine: the checkout must carry the CLI script
// and downloaded assets, and an interpreter must resolve.
func (c *ChatTTS) Available() bool {
	if !fileExists(c.cfg.Root) {
		return false
	}
	if _, ok := resolveInterpreter(c.cfg.Python, "python3"); !ok {
		return false
	}
	return fileExists(filepath.Join(c.cfg.Root, "examples", "cmd", "run.py")) &&
		fileExists(filepath.Join(c.cfg.Root, "asset"))
}

// ListPresets scans preset_dir in sorted filename order. JSON presets
// need a non-blank speaker string; .txt files are bare embeddings named
// by their stem. Duplicate ids keep the first file.
func (c *ChatTTS) ListPresets() []Preset {
	entries, err := os.ReadDir(c.cfg.PresetDir)
	if err != nil {
		return []Preset{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	presets := []Preset{}
	seen := make(map[string]bool)
	for index, name := range names {
		full := filepath.Join(c.cfg.PresetDir, name)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))

		var preset Preset
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json":
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			var raw map[string]any
			if err := json.Unmarshal(data, &raw); err != nil {
				continue
			}
			speaker, _ := raw["speaker"].(string)
			speaker = strings.TrimSpace(speaker)
			if speaker == "" {
				continue
			}
			preset.Speaker = speaker
			if id, ok := raw["id"].(string); ok && strings.TrimSpace(id) != "" {
				preset.ID = strings.TrimSpace(id)
			}
			if label, ok := raw["label"].(string); ok && strings.TrimSpace(label) != "" {
				preset.Label = strings.TrimSpace(label)
			}
			if notes, ok := raw["notes"].(string); ok && strings.TrimSpace(notes) != "" {
				preset.Notes = strings.TrimSpace(notes)
			}
			if seed, ok, err := Payload(raw).Int("seed"); ok && err == nil {
				preset.Seed = &seed
			}
		case ".txt":
			data, err := os.ReadFile(full)
			if err != nil {
				continue
			}
			speaker := strings.TrimSpace(string(data))
			if speaker == "" {
				continue
			}
			preset.Speaker = speaker
			preset.Label = voices.TitleLabel(stem)
		default:
			continue
		}

		if preset.ID == "" {
			preset.ID = strings.TrimSpace(stem)
			if preset.ID == "" {
				preset.ID = fmt.Sprintf("preset-%d", index+1)
			}
		}
		if preset.Label == "" {
			preset.Label = preset.ID
		}
		if seen[preset.ID] {
			continue
		}
		seen[preset.ID] = true
		presets = append(presets, preset)
	}
	return presets
}

// chatttsMeta is the per-voice synthesis info behind a catalog id.
type chatttsMeta struct {
	Speaker string
	Seed    *int64
}

// voiceMeta resolves a voice id to its preset speaker, scanning the
// preset directory fresh so new presets work without a catalog fetch.
func (c *ChatTTS) voiceMeta(voiceID string) *chatttsMeta {
	if voiceID == "chattts_random" {
		return &chatttsMeta{}
	}
	presetID, ok := strings.CutPrefix(voiceID, "chattts_preset_")
	if !ok {
		return nil
	}
	for _, preset := range c.ListPresets() {
		if preset.ID != presetID {
			continue
		}
		speaker := normalizeChatTTSSpeaker(preset.Speaker)
		if speaker == "" {
			return nil
		}
		return &chatttsMeta{Speaker: speaker, Seed: preset.Seed}
	}
	return nil
}

// Voices implements Engine.
func (c *ChatTTS) Voices() *voices.Catalog {
	available := c.Available()
	presets := c.ListPresets()

	entries := []voices.Voice{}
	allIDs := []string{}
	presetIDs := []string{}

	if available {
		raw := map[string]any{"engine": "chattts", "type": "random"}
		if url := voices.FindCachedPreview(c.layout, "chattts", "chattts_random"); url != "" {
			raw["preview_url"] = url
		}
		entries = append(entries, voices.Voice{
			ID:     "chattts_random",
			Label:  "Random Speaker",
			Tags:   []string{"ChatTTS"},
			Notes:  "Sampled from ChatTTS model at runtime.",
			Accent: voices.Accent{ID: "chattts", Label: "ChatTTS", Flag: "🎤"},
			Raw:    raw,
		})
		allIDs = append(allIDs, "chattts_random")
	}

	for _, preset := range presets {
		speaker := normalizeChatTTSSpeaker(preset.Speaker)
		if speaker == "" {
			continue
		}
		voiceID := "chattts_preset_" + preset.ID
		raw := map[string]any{
			"engine":    "chattts",
			"type":      "preset",
			"preset_id": preset.ID,
			"speaker":   speaker,
			"seed":      preset.Seed,
		}
		if url := voices.FindCachedPreview(c.layout, "chattts", voiceID); url != "" {
			raw["preview_url"] = url
		}
		entries = append(entries, voices.Voice{
			ID:     voiceID,
			Label:  preset.Label,
			Tags:   []string{"ChatTTS", "Preset"},
			Notes:  preset.Notes,
			Accent: voices.Accent{ID: "chattts_preset", Label: "ChatTTS Preset", Flag: "🎙️"},
			Raw:    raw,
		})
		allIDs = append(allIDs, voiceID)
		presetIDs = append(presetIDs, voiceID)
	}

	groups := []voices.Group{}
	if len(entries) > 0 {
		groups = append(groups, voices.Group{
			ID: "chattts_all", Label: "ChatTTS Voices", Flag: "🎤",
			Count: len(allIDs), Voices: allIDs,
		})
		if len(presetIDs) > 0 {
			groups = append(groups, voices.Group{
				ID: "chattts_presets", Label: "Saved Presets", Flag: "⭐️",
				Count: len(presetIDs), Voices: presetIDs,
			})
		}
	}

	presetsAny := make([]any, len(presets))
	for i := range presets {
		presetsAny[i] = presets[i]
	}

	catalog := &voices.Catalog{
		Engine:       "chattts",
		Available:    available,
		Voices:       entries,
		AccentGroups: groups,
		Groups:       groups,
		Count:        len(entries),
		Presets:      presetsAny,
	}
	if !available {
		catalog.Message = "Install ChatTTS weights and ensure .venv exists to enable synthesis."
	}
	return catalog
}

type chatttsRequest struct {
	Text    string
	VoiceID string
	Speaker string
	Seed    int64
}

func (*chatttsRequest) engineID() string { return "chattts" }

// Prepare implements Engine. ChatTTS never requires a voice: an absent
// or unknown id samples a random speaker.
func (c *ChatTTS) Prepare(p Payload) (Request, error) {
	base, err := ValidateBase(p, false)
	if err != nil {
		return nil, err
	}

	voiceID := base.Voice
	if voiceID == "" {
		voiceID = "chattts_random"
	}
	meta := c.voiceMeta(voiceID)

	speaker := ""
	var presetSeed *int64
	if meta != nil {
		speaker = meta.Speaker
		presetSeed = meta.Seed
	}
	if explicit, ok := p["speaker"].(string); ok && strings.TrimSpace(explicit) != "" {
		speaker = strings.TrimSpace(explicit)
	}

	var seed *int64
	if raw, present := p["seed"]; present && raw != nil && raw != "" {
		n, _, err := p.Int("seed")
		if err != nil {
			return nil, apperr.BadRequest("ChatTTS seed must be an integer.")
		}
		seed = &n
	}
	if seed == nil {
		seed = presetSeed
	}
	if seed == nil {
		n := rand.Int64N(1 << 31)
		seed = &n
	}

	return &chatttsRequest{
		Text:    base.Text,
		VoiceID: voiceID,
		Speaker: normalizeChatTTSSpeaker(speaker),
		Seed:    *seed,
	}, nil
}

// Synthesize implements Engine.
func (c *ChatTTS) Synthesize(ctx context.Context, req Request) (*Result, error) {
	cr, ok := req.(*chatttsRequest)
	if !ok {
		return nil, apperr.Internal("mismatched engine request")
	}
	if !c.Available() {
		return nil, apperr.Unavailable("ChatTTS engine is not available.")
	}
	python, _ := resolveInterpreter(c.cfg.Python, "python3")

	filename := storage.NewClipName("chattts", "mp3")

	before := make(map[string]bool)
	for _, path := range c.cliOutputs() {
		before[filepath.Base(path)] = true
	}

	args := []string{"examples/cmd/run.py"}
	if cr.Speaker != "" {
		args = append(args, "--spk", cr.Speaker)
	}
	args = append(args, "--seed", strconv.FormatInt(cr.Seed, 10))
	source := c.cfg.Source
	if source == "" {
		source = "local"
	}
	args = append(args, "--source", source)
	args = append(args, cr.Text)

	res, err := c.run.Run(ctx, execx.Command{
		Path:    python,
		Args:    args,
		Dir:     c.cfg.Root,
		Env:     pythonEnv(),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return nil, mapRunError(err,
			"ChatTTS synthesis timed out.",
			"ChatTTS python executable not found. Set engines.chattts.python to the CLI interpreter.")
	}
	if res.ExitCode != 0 {
		return nil, apperr.EngineFailuref("ChatTTS synthesis failed: %s", failureDetail(res))
	}

	captured := captureSpeaker(cr.Speaker, string(res.Stdout), res.Stderr)

	generated := []string{}
	for _, path := range c.cliOutputs() {
		if !before[filepath.Base(path)] {
			generated = append(generated, path)
		}
	}
	if len(generated) == 0 {
		generated = c.cliOutputsByMtime()
	}
	if len(generated) == 0 {
		return nil, apperr.EngineFailure("ChatTTS did not produce an output file.")
	}

	if err := c.layout.Sandbox().AtomicPublish(generated[0], filename); err != nil {
		return nil, apperr.EngineFailuref("Failed to move ChatTTS output: %v", err)
	}

	c.logger.Debug("chattts synthesis complete",
		slog.String("voice", cr.VoiceID),
		slog.Int64("seed", cr.Seed),
		slog.String("file", filename))
	seed := cr.Seed
	return &Result{
		ID:         filename,
		Engine:     "chattts",
		Voice:      cr.VoiceID,
		Path:       storage.AudioURL(filename),
		Filename:   filename,
		SampleRate: chatttsSampleRate,
		Seed:       &seed,
		Speaker:    captured,
	}, nil
}

// cliOutputs lists the CLI's dropped files in the checkout root.
func (c *ChatTTS) cliOutputs() []string {
	matches, err := filepath.Glob(filepath.Join(c.cfg.Root, "output_audio_*.mp3"))
	if err != nil {
		return nil
	}
	return matches
}

// cliOutputsByMtime lists dropped files newest first, the fallback when
// the CLI reused a name from a previous run.
func (c *ChatTTS) cliOutputsByMtime() []string {
	matches := c.cliOutputs()
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches
}

// CreatePreset validates and writes a new preset file, returning the
// created entry plus the refreshed list.
func (c *ChatTTS) CreatePreset(p Payload) (*Preset, []Preset, error) {
	if !c.Available() {
		return nil, nil, apperr.Unavailable("ChatTTS engine is not available.")
	}

	label := strings.TrimSpace(p.String("label"))
	if label == "" {
		return nil, nil, apperr.BadRequest("Field 'label' is required.")
	}
	speakerRaw, _ := p["speaker"].(string)
	speaker := strings.TrimSpace(speakerRaw)
	if speaker == "" {
		return nil, nil, apperr.BadRequest("Field 'speaker' is required.")
	}
	notes := ""
	if notesRaw, ok := p["notes"].(string); ok {
		notes = strings.TrimSpace(notesRaw)
	}

	var seed *int64
	if raw, present := p["seed"]; present && raw != nil && raw != "" {
		n, _, err := p.Int("seed")
		if err != nil {
			return nil, nil, apperr.BadRequest("Field 'seed' must be an integer.")
		}
		seed = &n
	}

	requested := ""
	if idRaw, ok := p["id"].(string); ok {
		requested = strings.TrimSpace(idRaw)
	}
	explicitID := requested != ""

	presetID := ""
	if explicitID {
		presetID = slugifyPresetID(requested)
		if presetID == "" {
			return nil, nil, apperr.BadRequest("Field 'id' must contain alphanumeric characters.")
		}
	} else {
		presetID = slugifyPresetID(label)
	}
	if presetID == "" {
		presetID = fmt.Sprintf("preset_%d", time.Now().Unix())
	}

	if err := os.MkdirAll(c.cfg.PresetDir, 0o755); err != nil {
		return nil, nil, apperr.IOFailuref("Failed to write ChatTTS preset: %v", err)
	}

	path := filepath.Join(c.cfg.PresetDir, presetID+".json")
	if explicitID {
		if fileExists(path) {
			return nil, nil, apperr.Conflict(fmt.Sprintf("ChatTTS preset '%s' already exists.", presetID))
		}
	} else {
		for counter := 2; fileExists(path); counter++ {
			candidate := fmt.Sprintf("%s_%d", presetID, counter)
			path = filepath.Join(c.cfg.PresetDir, candidate+".json")
			if !fileExists(path) {
				presetID = candidate
			}
		}
	}

	preset := Preset{ID: presetID, Label: label, Speaker: speaker, Notes: notes, Seed: seed}
	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return nil, nil, apperr.IOFailuref("Failed to write ChatTTS preset: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, nil, apperr.IOFailuref("Failed to write ChatTTS preset: %v", err)
	}

	presets := c.ListPresets()
	created := preset
	for _, item := range presets {
		if item.ID == presetID {
			created = item
			break
		}
	}
	return &created, presets, nil
}

// normalizeChatTTSSpeaker flattens a pasted speaker embedding to one
// CLI-safe token: newlines to spaces, first whitespace token, trailing
// punctuation stripped.
func normalizeChatTTSSpeaker(value string) string {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return ""
	}
	candidate = strings.TrimSpace(strings.ReplaceAll(candidate, "\n", " "))
	if fields := strings.Fields(candidate); len(fields) > 0 {
		candidate = fields[0]
	}
	return strings.Trim(candidate, `.,;:!"'`)
}

// speakerPattern matches CLI banners like "SPEAKER: abc" or "speaker-abc".
var speakerPattern = regexp.MustCompile(`(?i)SPEAKER(?:-|:)?\s*-?\s*(.+)`)

// captureSpeaker recovers the speaker embedding actually used: the CLI
// prints it after a "Use speaker" banner when sampling, so that wins
// over the one we passed; stderr banners and raw stdout are fallbacks.
func captureSpeaker(passed, stdout, stderr string) string {
	captured := strings.TrimSpace(passed)

	if extracted := extractSpeakerFromStdout(stdout); extracted != "" {
		return extracted
	}
	if m := speakerPattern.FindStringSubmatch(stderr); m != nil {
		return strings.TrimSpace(m[1])
	}
	if trimmed := strings.TrimSpace(stdout); trimmed != "" {
		return trimmed
	}
	return captured
}

// extractSpeakerFromStdout returns the first non-empty line after a
// "Use speaker" marker.
func extractSpeakerFromStdout(stdout string) string {
	captureNext := false
	for _, raw := range strings.Split(stdout, "\n") {
		if captureNext {
			if candidate := strings.TrimSpace(raw); candidate != "" {
				return candidate
			}
			continue
		}
		if strings.Contains(raw, "Use speaker") {
			captureNext = true
		}
	}
	return ""
}

// presetSlugPattern folds anything outside [a-z0-9] into underscores.
var presetSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugifyPresetID builds a preset file stem. Unlike voice id slugs this
// collapses runs and drops every non-ASCII character, because the stem
// becomes a filename.
func slugifyPresetID(value string) string {
	return strings.Trim(presetSlugPattern.ReplaceAllString(strings.ToLower(value), "_"), "_")
}
