package engine

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// openVoiceExtensions is the accepted reference clip set.
var openVoiceExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true,
}

// openVoiceSampleRate is the converter's fixed output rate.
const openVoiceSampleRate = 22050

// OpenVoice clones tone color from reference clips onto a base English
// speaker barrel. Only English is supported upstream, so the language
// field always normalizes to "English"; styles come from the checkpoint
// config and are cached for the process lifetime.
type OpenVoice struct {
	cfg    config.OpenVoiceConfig
	layout *storage.Layout
	run    runner
	logger *slog.Logger

	styleOnce sync.Once
	styles    []string
}

// NewOpenVoice builds the tone-color engine.
func NewOpenVoice(cfg config.OpenVoiceConfig, layout *storage.Layout, logger *slog.Logger) *OpenVoice {
	if logger == nil {
		logger = observability.Default()
	}
	return &OpenVoice{cfg: cfg, layout: layout, run: execx.Runner{}, logger: logger}
}

// WithRunner swaps the subprocess runner, for tests.
func (o *OpenVoice) WithRunner(r runner) *OpenVoice {
	o.run = r
	return o
}

// ID implements Engine.
func (o *OpenVoice) ID() string { return "openvoice" }

// Meta implements Engine.
func (o *OpenVoice) Meta() Meta {
	available := o.Available()
	status := "pending"
	if available {
		status = "ready"
	}
	return Meta{
		ID:            "openvoice",
		Label:         "OpenVoice v2",
		Description:   "OpenVoice instant voice cloning (tone-color transfer).",
		Available:     available,
		RequiresVoice: true,
		Supports:      map[string]bool{"cloning": true, "styles": true},
		Defaults:      map[string]string{"language": "English", "style": "default"},
		Status:        status,
	}
}

// Available implements Engine.
func (o *OpenVoice) Available() bool {
	return o.available(o.referenceList())
}

func (o *OpenVoice) available(refs []openVoiceRef) bool {
	if len(refs) == 0 {
		return false
	}
	if _, ok := resolveInterpreter(o.cfg.Python, "python3"); !ok {
		return false
	}
	return fileExists(filepath.Join(o.cfg.CkptRoot, "converter")) &&
		fileExists(filepath.Join(o.cfg.CkptRoot, "base_speakers", "EN"))
}

// openVoiceRef is one reference clip with its derived id.
type openVoiceRef struct {
	ID       string
	Path     string
	Relative string
	Label    string
}

// referenceList walks reference_dir recursively in path order. Files
// that escape the root through symlinks are skipped rather than
// exposed under a relative name they do not have.
func (o *OpenVoice) referenceList() []openVoiceRef {
	root, err := filepath.Abs(o.cfg.ReferenceDir)
	if err != nil {
		return nil
	}

	taken := make(map[string]bool)
	var refs []openVoiceRef
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !openVoiceExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		id := voices.UniqueID("openvoice_"+voices.SlugID(stem), taken)
		taken[id] = true
		refs = append(refs, openVoiceRef{
			ID:       id,
			Path:     path,
			Relative: filepath.ToSlash(rel),
			Label:    voices.TitleLabel(stem),
		})
		return nil
	})
	return refs
}

// styleList reads the base speaker styles from the checkpoint config.
// The checkpoint is immutable for a deployment, so this caches once;
// read errors just mean no styles beyond "default".
func (o *OpenVoice) styleList() []string {
	o.styleOnce.Do(func() {
		configPath := filepath.Join(o.cfg.CkptRoot, "base_speakers", "EN", "config.json")
		data, err := os.ReadFile(configPath)
		if err != nil {
			return
		}
		var parsed struct {
			Speakers map[string]any `json:"speakers"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return
		}
		names := make([]string, 0, len(parsed.Speakers))
		for name := range parsed.Speakers {
			names = append(names, name)
		}
		sort.Strings(names)
		o.styles = names
	})
	return o.styles
}

// stylesWithDefault is the selectable style set: checkpoint styles plus
// the converter's built-in "default", sorted.
func (o *OpenVoice) stylesWithDefault() []string {
	set := map[string]bool{"default": true}
	for _, s := range o.styleList() {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Voices implements Engine.
func (o *OpenVoice) Voices() *voices.Catalog {
	refs := o.referenceList()
	accent := voices.Accent{ID: "openvoice_en", Label: "OpenVoice English", Flag: "🇺🇸"}

	entries := make([]voices.Voice, 0, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		raw := map[string]any{
			"engine":             "openvoice",
			"reference":          ref.Path,
			"reference_relative": ref.Relative,
			"language":           "English",
			"style":              "default",
		}
		if url := voices.FindCachedPreview(o.layout, "openvoice", ref.ID); url != "" {
			raw["preview_url"] = url
		}
		v := voices.Voice{
			ID:     ref.ID,
			Label:  ref.Label,
			Tags:   []string{"OpenVoice", "English"},
			Notes:  filepath.Base(ref.Path),
			Accent: accent,
			Raw:    raw,
		}
		if sc, err := voices.LoadSidecar(ref.Path); err == nil {
			sc.Apply(&v)
		}
		entries = append(entries, v)
		ids = append(ids, ref.ID)
	}

	groups := []voices.Group{}
	if len(entries) > 0 {
		groups = append(groups, voices.Group{
			ID:     "openvoice_english",
			Label:  "OpenVoice English",
			Flag:   accent.Flag,
			Count:  len(entries),
			Voices: ids,
		})
	}

	catalog := &voices.Catalog{
		Engine:       "openvoice",
		Available:    o.available(refs),
		Voices:       entries,
		AccentGroups: groups,
		Groups:       groups,
		Count:        len(entries),
		Styles:       o.stylesWithDefault(),
	}
	if len(entries) == 0 {
		catalog.Message = "Add reference clips under the OpenVoice resources directory and reload."
	}
	return catalog
}

type openVoiceRequest struct {
	Text          string
	VoiceID       string
	ReferencePath string
	Language      string
	Style         string
	Watermark     string
}

func (*openVoiceRequest) engineID() string { return "openvoice" }

// Prepare implements Engine.
func (o *OpenVoice) Prepare(p Payload) (Request, error) {
	base, err := ValidateBase(p, true)
	if err != nil {
		return nil, err
	}

	refs := o.referenceList()
	var meta *openVoiceRef
	for i := range refs {
		if refs[i].ID == base.Voice {
			meta = &refs[i]
			break
		}
	}
	if meta == nil {
		return nil, apperr.BadRequestf("Unknown OpenVoice reference '%s'.", base.Voice)
	}

	styles := o.stylesWithDefault()
	style := strings.TrimSpace(p.String("style"))
	if style == "" {
		style = "default"
	}
	found := false
	for _, s := range styles {
		if s == style {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.BadRequestf("Style '%s' is not available for OpenVoice English.", style)
	}

	watermark := p.String("watermark")
	if watermark == "" {
		watermark = o.cfg.Watermark
	}

	return &openVoiceRequest{
		Text:          base.Text,
		VoiceID:       base.Voice,
		ReferencePath: meta.Path,
		Language:      "English",
		Style:         style,
		Watermark:     watermark,
	}, nil
}

// Synthesize implements Engine.
func (o *OpenVoice) Synthesize(ctx context.Context, req Request) (*Result, error) {
	or, ok := req.(*openVoiceRequest)
	if !ok {
		return nil, apperr.Internal("mismatched engine request")
	}
	if !o.Available() {
		return nil, apperr.Unavailable("OpenVoice engine is not available.")
	}
	python, _ := resolveInterpreter(o.cfg.Python, "python3")

	filename := storage.NewClipName("openvoice", "wav")
	outPath := filepath.Join(o.layout.BaseDir(), filename)

	args := []string{
		"scripts/cli_demo.py",
		"--text", or.Text,
		"--language", or.Language,
		"--style", or.Style,
		"--reference", or.ReferencePath,
		"--output", outPath,
		"--ckpt-root", o.cfg.CkptRoot,
		"--device", "cpu",
		"--watermark-message", or.Watermark,
	}

	res, err := o.run.Run(ctx, execx.Command{
		Path:    python,
		Args:    args,
		Dir:     o.cfg.Root,
		Env:     pythonEnv(),
		Timeout: o.cfg.Timeout,
	})
	if err != nil {
		return nil, mapRunError(err,
			"OpenVoice synthesis timed out.",
			"OpenVoice python executable not found. Set engines.openvoice.python to the CLI interpreter.")
	}
	if res.ExitCode != 0 {
		return nil, apperr.EngineFailuref("OpenVoice synthesis failed: %s", failureDetail(res))
	}
	if !fileExists(outPath) {
		return nil, apperr.EngineFailure("OpenVoice did not produce an output file.")
	}

	// The converter leaves a <stem>_base.wav intermediate next to the
	// output; it is noise in the clip listing.
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	_ = os.Remove(filepath.Join(o.layout.BaseDir(), stem+"_base.wav"))

	referenceRelative := ""
	if refRoot, err := filepath.Abs(o.cfg.ReferenceDir); err == nil {
		if rel, err := filepath.Rel(refRoot, or.ReferencePath); err == nil && !strings.HasPrefix(rel, "..") {
			referenceRelative = filepath.ToSlash(rel)
		}
	}

	o.logger.Debug("openvoice synthesis complete",
		slog.String("voice", or.VoiceID),
		slog.String("style", or.Style),
		slog.String("file", filename))
	return &Result{
		ID:                filename,
		Engine:            "openvoice",
		Voice:             or.VoiceID,
		Path:              storage.AudioURL(filename),
		Filename:          filename,
		SampleRate:        openVoiceSampleRate,
		Language:          or.Language,
		Style:             or.Style,
		Reference:         or.ReferencePath,
		ReferenceName:     filepath.Base(or.ReferencePath),
		ReferenceRelative: referenceRelative,
		Watermark:         or.Watermark,
	}, nil
}
