package mediaedit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/audio"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/mediaio"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/stt"
)

// Replacement trim parameters: energy floor relative to the clip peak and
// context kept on either side.
const (
	trimTopDB  = 40.0
	trimPadMs  = 10.0
	fadeMsMax  = 500.0
	duckDBMin  = -60.0
	refPadMaxS = 2.0
)

// ReplaceParams describes one replacement preview request. Nil pointers
// take the configured defaults; Voice empty borrows the region itself as
// the cloning reference.
type ReplaceParams struct {
	Start           float64
	End             float64
	Text            string
	Engine          string
	Voice           string
	Language        string
	Speed           *float64
	MarginMs        *int
	FadeMs          *float64
	DuckDB          *float64
	TrimReplacement bool
	AlignReplace    bool
}

// StretchStats reports how the synthesized clip was fitted to the region.
type StretchStats struct {
	SourceLen int     `json:"source_len"`
	TargetLen int     `json:"target_len"`
	Ratio     float64 `json:"ratio"`
}

// ReplaceResult is the response of a replacement preview.
type ReplaceResult struct {
	JobID          string       `json:"job_id"`
	Engine         string       `json:"engine"`
	Voice          string       `json:"voice"`
	Region         RegionEcho   `json:"region"`
	PreviewURL     string       `json:"preview_url"`
	ReplacementURL string       `json:"replacement_url"`
	DuckGain       float64      `json:"duck_gain"`
	FadeMs         float64      `json:"fade_ms"`
	Stretch        StretchStats `json:"stretch"`
	ReplaceWords   []stt.Word   `json:"replace_words,omitempty"`
}

// ApplyResult is the response of finalizing a job.
type ApplyResult struct {
	JobID     string `json:"job_id"`
	FinalURL  string `json:"final_url"`
	Mode      string `json:"mode"`
	Container string `json:"container"`
}

// ReplacePreview synthesizes params.Text with a cloned voice, fits it to
// the [Start, End] region, and splices it over the source audio. The
// spliced preview and the fitted replacement are both persisted; the
// spliced track also becomes latest_preview.wav for a later apply.
func (j *Jobs) ReplacePreview(ctx context.Context, jobID string, params ReplaceParams) (*ReplaceResult, error) {
	began := time.Now()

	if strings.TrimSpace(params.Text) == "" {
		return nil, apperr.BadRequest("Field 'text' is required.")
	}
	if params.End <= params.Start {
		return nil, apperr.BadRequest("Field 'end' must be greater than 'start'.")
	}
	if params.Start < 0 {
		return nil, apperr.BadRequest("Field 'start' must not be negative.")
	}
	if j.synth == nil {
		return nil, apperr.Unavailable("No synthesis engine is wired for replacements.")
	}

	meta, rel, err := j.loadMeta(jobID)
	if err != nil {
		return nil, err
	}

	duration := meta.Duration
	if duration > 0 && params.End > duration+1e-6 {
		return nil, apperr.BadRequest("Replacement region is outside the media duration.")
	}

	engineID := strings.TrimSpace(params.Engine)
	if engineID == "" {
		engineID = "xtts"
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		if tr, trErr := j.loadTranscript(jobID, rel); trErr == nil && tr.Language != "" {
			language = tr.Language
		} else {
			language = "en"
		}
	}

	sourceWavAbs := j.jobAbs(rel, sourceWAV)

	// Resolve the cloning reference: an explicit voice wins, otherwise
	// the region itself (expanded by the margin for cloning context) is
	// cut out and used as the reference clip.
	voice := strings.TrimSpace(params.Voice)
	if voice == "" {
		pad := j.DefaultMargin()
		if params.MarginMs != nil {
			pad = float64(*params.MarginMs) / 1000
		}
		if pad < 0 {
			pad = 0
		}
		if pad > refPadMaxS {
			pad = refPadMaxS
		}
		refWindow := stt.RegionWindow(params.Start, params.End, pad, duration)
		refAbs := j.jobAbs(rel, regionFileName("ref"))
		if err := j.media.NormalizeToWAV(ctx, sourceWavAbs, refAbs, refWindow.Start, refWindow.End); err != nil {
			return nil, err
		}
		voice = refAbs
	}

	payload := engine.Payload{
		"engine":       engineID,
		"text":         params.Text,
		"voice":        voice,
		"language":     language,
		"trimSilence":  false,
		"trim_silence": false,
		"format":       "wav",
	}
	if params.Speed != nil {
		payload["speed"] = *params.Speed
	}

	res, err := j.synth.Synthesize(ctx, payload)
	if err != nil {
		return nil, err
	}
	clipAbs, err := j.clipPath(res)
	if err != nil {
		return nil, err
	}

	source, rate, err := audio.LoadMono(sourceWavAbs, mediaio.NormalizedSampleRate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not read the job audio", err)
	}
	replacement, _, err := audio.LoadMono(clipAbs, rate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not read the synthesized replacement", err)
	}
	if params.TrimReplacement {
		replacement = audio.TrimSilence(replacement, rate, trimTopDB, trimPadMs, trimPadMs)
	}
	if len(replacement) == 0 {
		return nil, apperr.EngineFailure("The replacement synthesis produced no audio.")
	}

	i0 := int(params.Start * float64(rate))
	i1 := int(params.End * float64(rate))
	if i1 > len(source) {
		i1 = len(source)
	}
	if i0 < 0 || i0 >= i1 {
		return nil, apperr.BadRequest("Replacement region is outside the media duration.")
	}
	targetLen := i1 - i0

	stretched := audio.TimeStretchToLength(replacement, rate, targetLen)

	fadeMs := float64(j.cfg.DefaultFadeMs)
	if params.FadeMs != nil && *params.FadeMs >= 0 {
		fadeMs = *params.FadeMs
	}
	if fadeMs > fadeMsMax {
		fadeMs = fadeMsMax
	}

	duckGain := 0.0
	if params.DuckDB != nil {
		db := *params.DuckDB
		if db < duckDBMin {
			db = duckDBMin
		}
		duckGain = audio.GainFromDB(db)
		if duckGain > 1 {
			duckGain = 1
		}
	}

	combined := audio.CrossfadeSplice(source, stretched, rate, i0, i1, fadeMs, duckGain)

	var buf bytes.Buffer
	if err := audio.Encode(&buf, combined, rate); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not encode the preview", err)
	}
	previewRel := filepath.Join(rel, fmt.Sprintf("preview-%d.wav", time.Now().Unix()))
	if err := j.layout.Sandbox().AtomicWrite(previewRel, buf.Bytes()); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not store the preview", err)
	}
	if err := j.layout.Sandbox().AtomicWrite(filepath.Join(rel, latestPreview), buf.Bytes()); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not store the preview", err)
	}

	var repBuf bytes.Buffer
	if err := audio.Encode(&repBuf, stretched, rate); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not encode the replacement clip", err)
	}
	replacementRel := filepath.Join(rel, regionFileName("replacement"))
	if err := j.layout.Sandbox().AtomicWrite(replacementRel, repBuf.Bytes()); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not store the replacement clip", err)
	}

	var replaceWords []stt.Word
	if params.AlignReplace && j.stt.Available() {
		replaceWords = j.alignReplacement(ctx, filepath.Join(j.layout.BaseDir(), replacementRel), params, language)
	}

	meta.State = StatePreviewReady
	if err := j.saveMeta(rel, meta); err != nil {
		return nil, err
	}

	j.record("replace_preview", began, params.End-params.Start)
	j.logger.Info("replacement preview built",
		slog.String("job", jobID),
		slog.String("engine", engineID),
		slog.Float64("start", params.Start),
		slog.Float64("end", params.End),
		slog.Float64("ratio", float64(len(replacement))/float64(targetLen)))

	return &ReplaceResult{
		JobID:          jobID,
		Engine:         engineID,
		Voice:          voice,
		Region:         RegionEcho{Start: params.Start, End: params.End},
		PreviewURL:     storage.AudioURL(previewRel),
		ReplacementURL: storage.AudioURL(replacementRel),
		DuckGain:       duckGain,
		FadeMs:         fadeMs,
		Stretch: StretchStats{
			SourceLen: len(replacement),
			TargetLen: targetLen,
			Ratio:     float64(len(replacement)) / float64(targetLen),
		},
		ReplaceWords: replaceWords,
	}, nil
}

// alignReplacement force-aligns the fitted replacement against its text
// and shifts the words into absolute media time. The preview is already
// built, so failures only cost the word timings.
func (j *Jobs) alignReplacement(ctx context.Context, replacementAbs string, params ReplaceParams, language string) []stt.Word {
	segment := []stt.Segment{{Text: params.Text, Start: 0, End: params.End - params.Start}}
	aligned, err := j.stt.Align(ctx, replacementAbs, language, segment)
	if err != nil {
		j.logger.Warn("replacement alignment failed",
			slog.String("error", err.Error()))
		return nil
	}
	return stt.ShiftWords(aligned.Words, params.Start)
}

// clipPath maps a dispatcher result onto the produced file in the output
// root.
func (j *Jobs) clipPath(res *engine.Result) (string, error) {
	name := strings.TrimSpace(res.Filename)
	if name == "" {
		if p := strings.TrimSpace(res.Path); p != "" {
			name = path.Base(p)
		}
	}
	if name == "" {
		return "", apperr.EngineFailure("TTS engine response missing audio path.")
	}
	full := filepath.Join(j.layout.BaseDir(), filepath.Base(name))
	if _, err := os.Stat(full); err != nil {
		return "", apperr.EngineFailuref("TTS audio not found at %s", full)
	}
	return full, nil
}

// Apply finalizes a job: with video the latest preview is remuxed under
// the original video stream into the requested container; audio-only
// jobs copy the preview to final.wav.
func (j *Jobs) Apply(ctx context.Context, jobID, format string) (*ApplyResult, error) {
	began := time.Now()

	meta, rel, err := j.loadMeta(jobID)
	if err != nil {
		return nil, err
	}

	latestAbs := j.jobAbs(rel, latestPreview)
	if _, err := os.Stat(latestAbs); err != nil {
		return nil, apperr.BadRequest("No preview to apply. Create a replacement preview first.")
	}

	var finalRel, mode string
	if meta.HasVideo {
		ext := mediaio.OutputExtension(format, meta.SourceExt)
		finalRel = filepath.Join(rel, "final"+ext)
		videoAbs := j.jobAbs(rel, "source"+meta.SourceExt)
		if err := j.media.Remux(ctx, videoAbs, latestAbs, filepath.Join(j.layout.BaseDir(), finalRel)); err != nil {
			return nil, err
		}
		mode = "remux"
	} else {
		finalRel = filepath.Join(rel, "final.wav")
		data, err := os.ReadFile(latestAbs)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, "could not read the preview", err)
		}
		if err := j.layout.Sandbox().AtomicWrite(finalRel, data); err != nil {
			return nil, apperr.Wrap(apperr.KindIOFailure, "could not write the final audio", err)
		}
		mode = "audio"
	}

	meta.State = StateApplied
	if err := j.saveMeta(rel, meta); err != nil {
		return nil, err
	}

	container := strings.TrimPrefix(strings.ToLower(filepath.Ext(finalRel)), ".")
	j.record("apply", began, meta.Duration)
	j.logger.Info("media job applied",
		slog.String("job", jobID),
		slog.String("mode", mode),
		slog.String("container", container))

	return &ApplyResult{
		JobID:     jobID,
		FinalURL:  storage.AudioURL(finalRel),
		Mode:      mode,
		Container: container,
	}, nil
}
