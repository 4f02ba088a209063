package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/audio"
	"github.com/jmylchreest/ttshub/internal/favorites"
	"github.com/jmylchreest/ttshub/internal/models"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/storage"
)

// ClipRecorder persists synthesis history. The clip repository
// satisfies it; a nil recorder disables the ledger.
type ClipRecorder interface {
	Record(ctx context.Context, clip *models.Clip) error
}

// Dispatcher routes synthesis requests to registered engines, expands
// favorite profile references into payload defaults, assembles
// auditions and renders voice previews.
type Dispatcher struct {
	registry  *Registry
	favorites *favorites.Store
	layout    *storage.Layout
	clips     ClipRecorder
	logger    *slog.Logger
}

func NewDispatcher(registry *Registry, favStore *favorites.Store, layout *storage.Layout, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.Default()
	}
	return &Dispatcher{registry: registry, favorites: favStore, layout: layout, logger: logger}
}

// WithClipRecorder enables the synthesis ledger.
func (d *Dispatcher) WithClipRecorder(rec ClipRecorder) *Dispatcher {
	d.clips = rec
	return d
}

// Registry exposes the engine registry for catalog and metadata routes.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Synthesize runs one clip through the engine named in the payload.
// A favorite reference fills in engine, voice and tuning defaults
// before validation; explicit payload fields always win.
func (d *Dispatcher) Synthesize(ctx context.Context, p Payload) (res *Result, err error) {
	done := observability.TimedOperationWithError(ctx, d.logger, "synthesize", &err)
	defer done()

	d.expandFavorite(p)

	eng, _, err := d.registry.Resolve(p.String("engine"), false)
	if err != nil {
		return nil, err
	}
	req, err := eng.Prepare(p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err = eng.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Engine == "" {
		res.Engine = eng.ID()
	}

	clip := &models.Clip{
		Kind:       models.ClipKindSynthesis,
		Engine:     res.Engine,
		Voice:      res.Voice,
		Filename:   res.Filename,
		Path:       res.Path,
		SampleRate: res.SampleRate,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	clip.SetText(strings.TrimSpace(p.String("text")))
	d.RecordClip(ctx, clip)
	return res, nil
}

// expandFavorite resolves profileId/profileSlug (and their favorite*
// aliases) and seeds absent payload fields from the stored profile.
func (d *Dispatcher) expandFavorite(p Payload) {
	if d.favorites == nil {
		return
	}
	var profile *favorites.Profile
	if id := firstPayloadValue(p, "profileId", "profile_id", "favoriteId", "favorite_id"); id != "" {
		profile = d.favorites.Get(id)
	} else if slug := firstPayloadValue(p, "profileSlug", "profile_slug", "favoriteSlug", "favorite_slug"); slug != "" {
		profile = d.favorites.GetBySlug(slug)
	}
	if profile == nil {
		return
	}

	setDefault(p, "engine", profile.Engine)
	setDefault(p, "voice", profile.VoiceID)
	if profile.Language != "" {
		setDefault(p, "language", profile.Language)
	}
	if profile.Speed != nil {
		setDefault(p, "speed", *profile.Speed)
	}
	if profile.TrimSilence != nil {
		setDefault(p, "trimSilence", *profile.TrimSilence)
	}
	if profile.Style != "" {
		setDefault(p, "style", profile.Style)
	}
	if profile.Seed != nil {
		setDefault(p, "seed", *profile.Seed)
	}
	if profile.ServerURL != "" {
		setDefault(p, "serverUrl", profile.ServerURL)
	}
}

// RecordClip writes one ledger row. Failures are logged and swallowed:
// history must never fail a synthesis that already produced audio.
func (d *Dispatcher) RecordClip(ctx context.Context, clip *models.Clip) {
	if d.clips == nil || clip == nil {
		return
	}
	if err := d.clips.Record(ctx, clip); err != nil {
		d.logger.Warn("clip ledger write failed",
			slog.String("file", clip.Filename),
			slog.String("error", err.Error()))
	}
}

// AnnouncerEcho reports the announcer settings an audition ran with.
type AnnouncerEcho struct {
	Enabled  bool   `json:"enabled"`
	Voice    string `json:"voice,omitempty"`
	Template string `json:"template,omitempty"`
}

// AuditionResult describes a rendered voice lineup.
type AuditionResult struct {
	ID         string        `json:"id"`
	Engine     string        `json:"engine"`
	Voice      string        `json:"voice"`
	Voices     []string      `json:"voices"`
	Announcer  AnnouncerEcho `json:"announcer"`
	Path       string        `json:"path"`
	Filename   string        `json:"filename"`
	SampleRate int           `json:"sample_rate"`
}

// Audition synthesises each listed voice with shared text, optionally
// preceded by an announcer segment naming the voice, and joins the
// clips with silence gaps into one comparison file.
func (d *Dispatcher) Audition(ctx context.Context, p Payload) (_ *AuditionResult, err error) {
	done := observability.TimedOperationWithError(ctx, d.logger, "audition", &err)
	defer done()

	eng, _, err := d.registry.Resolve(p.String("engine"), false)
	if err != nil {
		return nil, err
	}
	base, err := ValidateBase(p, false)
	if err != nil {
		return nil, err
	}

	voiceIDs, err := auditionVoiceIDs(p)
	if err != nil {
		return nil, err
	}
	if len(voiceIDs) < 2 {
		return nil, apperr.BadRequest("Provide at least two voices to build an audition.")
	}

	gap, err := floatField(p, 1.0, "gapSeconds", "gap_seconds")
	if err != nil {
		return nil, apperr.BadRequest("Field 'gapSeconds' must be numeric.")
	}

	announcer := Payload{}
	if m, ok := p["announcer"].(map[string]any); ok {
		announcer = Payload(m)
	}
	announcerEnabled := Truthy(announcer["enabled"])

	voiceOverrides := map[string]any{}
	if m, ok := p["voice_overrides"].(map[string]any); ok {
		voiceOverrides = m
	}

	labels := map[string]string{}
	if cat := eng.Voices(); cat != nil {
		for _, v := range cat.Voices {
			labels[v.ID] = v.Label
		}
	}

	sampleRate := 0
	clips := make([][]float32, 0, len(voiceIDs))
	start := time.Now()
	for _, voiceID := range voiceIDs {
		var segments [][]float32

		if announcerEnabled {
			annSegments, annRate, err := d.renderAnnouncer(ctx, eng, announcer, voiceID, labels[voiceID], base, voiceOverrides)
			if err != nil {
				return nil, err
			}
			segments = append(segments, annSegments...)
			if annRate != 0 {
				if sampleRate == 0 {
					sampleRate = annRate
				} else if sampleRate != annRate {
					return nil, apperr.EngineFailure("Sample rate mismatch between announcer segments.")
				}
			}
		}

		overrides := map[string]any{}
		if sub, ok := voiceOverrides[voiceID].(map[string]any); ok {
			overrides = sub
		}
		samples, rate, err := d.synthesizeClip(ctx, eng, clipRequest(base, voiceID, overrides))
		if err != nil {
			return nil, err
		}
		if sampleRate == 0 {
			sampleRate = rate
		} else if sampleRate != rate {
			return nil, apperr.EngineFailure("Sample rate mismatch between voices.")
		}
		segments = append(segments, samples)
		clips = append(clips, audio.ConcatWithGap(segments, sampleRate, 0))
	}

	combined := audio.ConcatWithGap(clips, sampleRate, gap)
	filename := storage.NewClipName("audition", "wav")

	var buf bytes.Buffer
	if err := audio.Encode(&buf, combined, sampleRate); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not encode the audition clip", err)
	}
	if err := d.layout.Sandbox().AtomicWrite(filename, buf.Bytes()); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not store the audition clip", err)
	}

	clip := &models.Clip{
		Kind:       models.ClipKindAudition,
		Engine:     eng.ID(),
		Voice:      "audition",
		Filename:   filename,
		Path:       storage.AudioURL(filename),
		SampleRate: sampleRate,
		DurationMs: int64(float64(len(combined)) / float64(sampleRate) * 1000),
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	clip.SetText(base.Text)
	d.RecordClip(ctx, clip)

	return &AuditionResult{
		ID:     filename,
		Engine: eng.ID(),
		Voice:  "audition",
		Voices: voiceIDs,
		Announcer: AnnouncerEcho{
			Enabled:  announcerEnabled,
			Voice:    announcer.String("voice"),
			Template: announcer.String("template"),
		},
		Path:       storage.AudioURL(filename),
		Filename:   filename,
		SampleRate: sampleRate,
	}, nil
}

// renderAnnouncer synthesises the "Now auditioning X" lead-in for one
// voice, plus a trailing gap. The announcer can speak with its own
// voice, language and overrides; otherwise it inherits the voice under
// audition.
func (d *Dispatcher) renderAnnouncer(ctx context.Context, eng Engine, announcer Payload, voiceID, voiceLabel string, base Base, voiceOverrides map[string]any) ([][]float32, int, error) {
	resolvedVoice := announcer.String("voice")
	if resolvedVoice == "" {
		resolvedVoice = voiceID
	}
	template := announcer.String("template")
	if template == "" {
		template = "Now auditioning {voice_label}"
	}
	template = strings.TrimSpace(template)

	annGap, err := floatField(announcer, 0.5, "gapSeconds", "gap_seconds")
	if err != nil {
		return nil, 0, apperr.BadRequest("Announcer gap must be numeric.")
	}

	label := voiceLabel
	if label == "" {
		label = voiceID
	}
	text := strings.ReplaceAll(template, "{voice_label}", label)
	text = strings.ReplaceAll(text, "{voice}", voiceID)

	// The announcer merges the override block of its own voice with the
	// announcer-specific overrides, the latter winning.
	merged := map[string]any{}
	if sub, ok := voiceOverrides[resolvedVoice].(map[string]any); ok {
		for k, v := range sub {
			merged[k] = v
		}
	}
	if sub, ok := announcer["overrides"].(map[string]any); ok {
		for k, v := range sub {
			merged[k] = v
		}
	}

	annBase := base
	annBase.Text = text

	var langVal any = base.Language
	if v, ok := announcer["language"]; ok {
		langVal = v
	}
	if v, ok := popKey(merged, "language"); ok {
		langVal = v
	}
	annBase.Language = stringify(langVal)

	var speedVal any = base.Speed
	if v, ok := announcer["speed"]; ok {
		speedVal = v
	}
	if v, ok := popKey(merged, "speed"); ok {
		speedVal = v
	}
	if speed, ok, err := (Payload{"speed": speedVal}).Float("speed"); err != nil {
		return nil, 0, apperr.BadRequest("Announcer speed must be numeric.")
	} else if ok {
		annBase.Speed = speed
	}

	var trimVal any = base.TrimSilence
	if v, ok := announcer["trim_silence"]; ok {
		trimVal = v
	}
	if v, ok := announcer["trim"]; ok {
		trimVal = v
	}
	if v, ok := popKey(merged, "trim_silence"); ok {
		trimVal = v
	}
	if v, ok := popKey(merged, "trimSilence"); ok {
		trimVal = v
	}
	annBase.TrimSilence = Truthy(trimVal)

	samples, rate, err := d.synthesizeClip(ctx, eng, clipRequest(annBase, resolvedVoice, merged))
	if err != nil {
		return nil, 0, err
	}
	segments := [][]float32{samples}
	if annGap > 0 && rate > 0 {
		segments = append(segments, make([]float32, int(float64(rate)*annGap)))
	}
	return segments, rate, nil
}

// synthesizeClip runs one prepared payload through the engine and loads
// the produced file as mono samples.
func (d *Dispatcher) synthesizeClip(ctx context.Context, eng Engine, clip Payload) ([]float32, int, error) {
	req, err := eng.Prepare(clip)
	if err != nil {
		return nil, 0, err
	}
	res, err := eng.Synthesize(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	full, err := d.resolveResultPath(res)
	if err != nil {
		return nil, 0, err
	}
	samples, rate, err := audio.LoadMono(full, 0)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindIOFailure, "could not read the synthesized clip", err)
	}
	return samples, rate, nil
}

// resolveResultPath maps an engine result back to the produced file in
// the output directory.
func (d *Dispatcher) resolveResultPath(res *Result) (string, error) {
	name := strings.TrimSpace(res.Filename)
	if name == "" {
		if p := strings.TrimSpace(res.Path); p != "" {
			name = path.Base(p)
		}
	}
	if name == "" {
		return "", apperr.EngineFailure("TTS engine response missing audio path.")
	}
	full := filepath.Join(d.layout.BaseDir(), filepath.Base(name))
	if !fileExists(full) {
		return "", apperr.EngineFailuref("TTS audio not found at %s", full)
	}
	return full, nil
}

// PreviewLanguage implements voices.Synthesizer. Each engine has its
// own idea of a default preview language: OpenVoice only speaks
// English, the rest fall back to en-us.
func (d *Dispatcher) PreviewLanguage(engineID, voiceID, language string, options map[string]any) string {
	opts := Payload(options)
	switch engineID {
	case "openvoice":
		if v := opts.String("language"); v != "" {
			return v
		}
		if language != "" {
			return language
		}
		return "English"
	case "chattts":
		if v := opts.String("language"); v != "" {
			return v
		}
	case "xtts":
		if language == "" {
			if v := opts.String("language"); v != "" {
				return v
			}
		}
	}
	if language != "" {
		return language
	}
	return "en-us"
}

// RenderPreview implements voices.Synthesizer: it builds a short
// synthesis payload for the voice and returns the produced file's
// absolute path. The caller owns (and deletes) the file.
func (d *Dispatcher) RenderPreview(ctx context.Context, engineID, voiceID, text, language string, options map[string]any) (string, error) {
	opts := Payload(options)
	payload := Payload{
		"text":        text,
		"voice":       voiceID,
		"language":    language,
		"trimSilence": true,
	}
	switch engineID {
	case "kokoro":
		payload["speed"] = 1.0
	case "xtts":
		payload["speed"] = 1.0
		if v, ok := opts["speed"]; ok && v != nil {
			payload["speed"] = v
		}
		if v, ok := opts["temperature"]; ok && v != nil {
			payload["temperature"] = v
		}
		if v, ok := opts["seed"]; ok && v != nil {
			payload["seed"] = v
		}
		if v := opts.String("format"); v != "" {
			payload["format"] = v
		}
		if v, ok := opts["sample_rate"]; ok && Truthy(v) {
			payload["sample_rate"] = v
		}
	case "openvoice":
		style := opts.String("style")
		if style == "" {
			style = "default"
		}
		payload["style"] = style
	case "chattts":
		if v, ok := opts["seed"]; ok && v != nil {
			payload["seed"] = v
		}
	default:
		return "", apperr.BadRequestf("Preview generation is not supported for engine '%s'.", engineID)
	}

	eng, _, err := d.registry.Resolve(engineID, true)
	if err != nil {
		return "", err
	}
	req, err := eng.Prepare(payload)
	if err != nil {
		return "", err
	}
	res, err := eng.Synthesize(ctx, req)
	if err != nil && engineID == "chattts" {
		// Older ChatTTS checkouts reject --spk; retry once letting the
		// model sample its own speaker.
		if cr, ok := req.(*chatttsRequest); ok && cr.Speaker != "" && strings.Contains(apperr.MessageOf(err), "--spk") {
			retry := *cr
			retry.Speaker = ""
			res, err = eng.Synthesize(ctx, &retry)
		}
	}
	if err != nil {
		return "", err
	}
	return d.resolveResultPath(res)
}

// auditionVoiceIDs extracts the voice id list, accepting a single id
// under "voice" and dropping empty entries.
func auditionVoiceIDs(p Payload) ([]string, error) {
	raw, ok := p["voices"]
	if !ok || !Truthy(raw) {
		raw = p["voice"]
	}

	var items []any
	switch v := raw.(type) {
	case nil:
	case string:
		items = []any{v}
	case []any:
		items = v
	case []string:
		items = make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
	default:
		return nil, apperr.BadRequest("Field 'voices' must be a list of voice ids.")
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !Truthy(item) {
			continue
		}
		ids = append(ids, stringify(item))
	}
	return ids, nil
}

// clipRequest assembles the synthesis payload for one audition voice:
// base settings, per-voice overrides and a wav default format.
func clipRequest(base Base, voiceID string, overrides map[string]any) Payload {
	clip := Payload{
		"text":  base.Text,
		"voice": voiceID,
	}

	var langVal any = base.Language
	if v, ok := overrides["language"]; ok {
		langVal = v
	}
	clip["language"] = langVal

	var speedVal any = base.Speed
	if v, ok := overrides["speed"]; ok {
		speedVal = v
	}
	clip["speed"] = speedVal

	var trimVal any = base.TrimSilence
	if v, ok := overrides["trimSilence"]; ok {
		trimVal = v
	} else if v, ok := overrides["trim_silence"]; ok {
		trimVal = v
	}
	trim := Truthy(trimVal)
	clip["trimSilence"] = trim
	clip["trim_silence"] = trim

	for key, value := range overrides {
		switch key {
		case "language", "speed", "trimSilence", "trim_silence":
			continue
		}
		clip[key] = value
	}
	if _, ok := clip["format"]; !ok {
		clip["format"] = "wav"
	}
	return clip
}

// firstPayloadValue returns the first truthy value among keys,
// stringified.
func firstPayloadValue(p Payload, keys ...string) string {
	for _, key := range keys {
		v, ok := p[key]
		if !ok || !Truthy(v) {
			continue
		}
		return stringify(v)
	}
	return ""
}

// floatField reads the first present key as a float.
func floatField(p Payload, def float64, keys ...string) (float64, error) {
	for _, key := range keys {
		v, ok, err := p.Float(key)
		if err != nil {
			return 0, err
		}
		if ok {
			return v, nil
		}
	}
	return def, nil
}

func setDefault(p Payload, key string, value any) {
	if _, ok := p[key]; !ok {
		p[key] = value
	}
}

func popKey(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if ok {
		delete(m, key)
	}
	return v, ok
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
