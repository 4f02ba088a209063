package voices

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/audio"
	"github.com/jmylchreest/ttshub/internal/storage"
)

const (
	previewVersion    = "v1"
	previewMaxSeconds = 5.0
	previewFadeMs     = 50
	previewPeak       = 0.95
)

var previewTexts = map[string]string{
	"en-us": "Welcome to the voice studio. This is a short preview.",
	"en-gb": "Welcome to the voice studio. This is a short preview.",
	"ja-jp": "ボイススタジオへようこそ。これは短いプレビューです。",
}

// DefaultPreviewText returns short neutral preview copy for a language,
// falling back to English for languages without a translation.
func DefaultPreviewText(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if text, ok := previewTexts[lang]; ok {
		return text
	}
	return previewTexts["en-us"]
}

// PreviewLanguageKey normalises a language for use in preview filenames.
func PreviewLanguageKey(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if key == "" {
		return "default"
	}
	return key
}

// PreviewFileName builds the cache filename for a voice preview. The
// version suffix lets the whole cache be invalidated by bumping it.
func PreviewFileName(voiceID, language string) string {
	return voiceID + "-" + PreviewLanguageKey(language) + "-" + previewVersion + ".wav"
}

// FindCachedPreview returns the audio URL of any cached preview for the
// voice, regardless of language, or "" when none exists. Catalog builders
// use it to decorate voices without triggering synthesis.
func FindCachedPreview(layout *storage.Layout, engineID, voiceID string) string {
	if layout == nil || voiceID == "" {
		return ""
	}
	pattern := layout.PreviewRel(engineID, voiceID+"-*-"+previewVersion+".wav")
	matches, err := layout.Sandbox().Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	return storage.AudioURL(matches[0])
}

// Synthesizer renders short clips on behalf of the preview cache. The
// engine dispatcher satisfies it.
type Synthesizer interface {
	// PreviewLanguage resolves the language a preview for the voice will be
	// keyed and voiced with, applying engine defaults when none is given.
	PreviewLanguage(engineID, voiceID, language string, options map[string]any) string

	// RenderPreview synthesises text with the voice and returns the
	// absolute path of the produced clip.
	RenderPreview(ctx context.Context, engineID, voiceID, text, language string, options map[string]any) (string, error)
}

// Decoder converts compressed clips to WAV before post-processing.
// mediaio.Processor satisfies it.
type Decoder interface {
	NormalizeToWAV(ctx context.Context, src, dst string, start, end float64) error
}

// PreviewRequest describes one preview to ensure. Options carries
// engine-specific synthesis knobs (speed, temperature, seed, style)
// passed through untouched.
type PreviewRequest struct {
	Engine   string
	Voice    string
	Language string
	Force    bool
	Options  map[string]any
}

// PreviewCache generates and stores short per-voice preview clips under
// voice_previews/<engine>/. Previews are capped at five seconds, faded
// out and peak-normalised so the catalog UI can play them back to back.
type PreviewCache struct {
	layout  *storage.Layout
	synth   Synthesizer
	decoder Decoder
	logger  *slog.Logger
}

func NewPreviewCache(layout *storage.Layout, synth Synthesizer, logger *slog.Logger) *PreviewCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewCache{layout: layout, synth: synth, logger: logger}
}

// WithDecoder supplies a WAV decoder for engines that emit compressed
// audio (ChatTTS writes MP3).
func (c *PreviewCache) WithDecoder(dec Decoder) *PreviewCache {
	c.decoder = dec
	return c
}

// Ensure returns the preview path relative to the output root, creating
// the clip when missing or when force is set. The synthesised source clip
// is deleted after the preview is written.
func (c *PreviewCache) Ensure(ctx context.Context, req PreviewRequest) (string, error) {
	engineID := strings.ToLower(strings.TrimSpace(req.Engine))
	voiceID := strings.TrimSpace(req.Voice)
	if voiceID == "" {
		return "", apperr.BadRequest("Field 'voiceId' is required.")
	}

	lang := req.Language
	if c.synth != nil {
		lang = c.synth.PreviewLanguage(engineID, voiceID, req.Language, req.Options)
	}
	rel := c.layout.PreviewRel(engineID, PreviewFileName(voiceID, lang))

	sb := c.layout.Sandbox()
	if !req.Force {
		if ok, err := sb.Exists(rel); err == nil && ok {
			return rel, nil
		}
	}
	if c.synth == nil {
		return "", apperr.Internal("preview synthesizer is not configured")
	}

	text := DefaultPreviewText(lang)
	clipPath, err := c.synth.RenderPreview(ctx, engineID, voiceID, text, lang, req.Options)
	if err != nil {
		return "", err
	}
	defer os.Remove(clipPath)

	samples, rate, err := c.loadClip(ctx, clipPath)
	if err != nil {
		return "", err
	}
	samples = shapePreview(samples, rate)

	var buf bytes.Buffer
	if err := audio.Encode(&buf, samples, rate); err != nil {
		return "", apperr.Wrap(apperr.KindIOFailure, "could not encode the preview clip", err)
	}
	if err := sb.AtomicWrite(rel, buf.Bytes()); err != nil {
		return "", apperr.Wrap(apperr.KindIOFailure, "could not store the preview clip", err)
	}

	c.logger.Debug("voice preview created",
		"engine", engineID,
		"voice", voiceID,
		"language", lang,
		"path", rel)
	return rel, nil
}

// loadClip reads the synthesised clip as mono samples, converting
// through the decoder first when the container is not WAV.
func (c *PreviewCache) loadClip(ctx context.Context, path string) ([]float32, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, rate, err := audio.LoadMono(path, 0)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindIOFailure, "could not read the synthesized clip", err)
		}
		return samples, rate, nil
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if c.decoder == nil {
		return nil, 0, apperr.IOFailuref("cannot decode %s clips without ffmpeg", ext)
	}
	tmp, err := c.layout.Sandbox().CreateTemp("", "preview-*.wav")
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindIOFailure, "could not create a scratch file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := c.decoder.NormalizeToWAV(ctx, path, tmpPath, 0, 0); err != nil {
		return nil, 0, err
	}
	samples, rate, err := audio.LoadMono(tmpPath, 0)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindIOFailure, "could not read the decoded clip", err)
	}
	return samples, rate, nil
}

// shapePreview truncates to the preview cap, fades the last 50ms and
// normalises the peak so clips sit at a consistent level.
func shapePreview(samples []float32, rate int) []float32 {
	if rate <= 0 || len(samples) == 0 {
		return samples
	}
	if maxLen := int(float64(rate) * previewMaxSeconds); len(samples) > maxLen {
		samples = samples[:maxLen]
	}
	audio.FadeOut(samples, rate*previewFadeMs/1000)
	audio.PeakNormalize(samples, previewPeak)
	return samples
}
