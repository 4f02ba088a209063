package mediaedit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/stt"
)

// MediaRef points a client at a job's working audio.
type MediaRef struct {
	AudioURL string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	HasVideo bool    `json:"has_video"`
}

// TranscribeResult is the response of job creation.
type TranscribeResult struct {
	JobID             string          `json:"job_id"`
	Media             MediaRef        `json:"media"`
	Transcript        *stt.Transcript `json:"transcript"`
	WhisperxAvailable bool            `json:"whisperx_available"`
}

// AlignResult is the response of a full alignment pass.
type AlignResult struct {
	JobID      string          `json:"job_id"`
	Transcript *stt.Transcript `json:"transcript"`
}

// RegionEcho reports the expanded window a region operation covered.
type RegionEcho struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AlignRegionResult is the response of a windowed alignment pass.
type AlignRegionResult struct {
	JobID      string          `json:"job_id"`
	Window     RegionEcho      `json:"window"`
	Transcript *stt.Transcript `json:"transcript"`
	Diff       stt.DiffStats   `json:"diff"`
}

// Create builds a new job workspace from sourcePath: the original is
// copied in, probed, normalized to the canonical mono WAV, and
// transcribed. originalName supplies the container extension kept for a
// later remux.
func (j *Jobs) Create(ctx context.Context, sourcePath, originalName string) (*TranscribeResult, error) {
	start := time.Now()

	jobID := newJobID()
	rel := j.layout.JobDirRel(jobID)

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(sourcePath))
	}
	if ext == "" {
		ext = ".bin"
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not read the uploaded media", err)
	}
	sourceRel := filepath.Join(rel, "source"+ext)
	writeErr := j.layout.Sandbox().AtomicWriteReader(sourceRel, src)
	src.Close()
	if writeErr != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "could not store the uploaded media", writeErr)
	}
	sourceAbs := filepath.Join(j.layout.BaseDir(), sourceRel)

	info, err := j.media.Probe(ctx, sourceAbs)
	if err != nil {
		return nil, err
	}

	wavAbs := j.jobAbs(rel, sourceWAV)
	if err := j.media.NormalizeToWAV(ctx, sourceAbs, wavAbs, 0, 0); err != nil {
		return nil, err
	}

	tr, err := j.stt.Transcribe(ctx, wavAbs, info.Duration)
	if err != nil {
		return nil, err
	}
	if err := j.saveTranscript(rel, tr); err != nil {
		return nil, err
	}

	meta := &Meta{
		JobID:      jobID,
		SourceName: filepath.Base(originalName),
		SourceExt:  ext,
		HasVideo:   info.HasVideo,
		Duration:   info.Duration,
		State:      StateTranscribed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := j.saveMeta(rel, meta); err != nil {
		return nil, err
	}

	j.record("transcribe", start, info.Duration)
	j.logger.Info("media job created",
		slog.String("job", jobID),
		slog.String("source", meta.SourceName),
		slog.Bool("video", info.HasVideo),
		slog.Float64("duration", info.Duration))

	return &TranscribeResult{
		JobID: jobID,
		Media: MediaRef{
			AudioURL: storage.AudioURL(filepath.Join(rel, sourceWAV)),
			Duration: info.Duration,
			HasVideo: info.HasVideo,
		},
		Transcript:        tr,
		WhisperxAvailable: j.stt.Available(),
	}, nil
}

// Align runs a full alignment pass over the job's transcript, refreshing
// every word timing.
func (j *Jobs) Align(ctx context.Context, jobID string) (*AlignResult, error) {
	start := time.Now()

	meta, rel, err := j.loadMeta(jobID)
	if err != nil {
		return nil, err
	}
	tr, err := j.loadTranscript(jobID, rel)
	if err != nil {
		return nil, err
	}
	if len(tr.Segments) == 0 {
		return nil, apperr.BadRequest("Transcript has no segments to align.")
	}

	aligned, err := j.stt.Align(ctx, j.jobAbs(rel, sourceWAV), tr.Language, tr.Segments)
	if err != nil {
		return nil, err
	}
	tr.Words = aligned.Words
	tr.Stats = aligned.Stats
	if err := j.saveTranscript(rel, tr); err != nil {
		return nil, err
	}

	meta.State = StateAligned
	if err := j.saveMeta(rel, meta); err != nil {
		return nil, err
	}

	j.record("align", start, tr.Duration)
	j.logger.Info("media job aligned",
		slog.String("job", jobID),
		slog.Int("words", len(tr.Words)))
	return &AlignResult{JobID: jobID, Transcript: tr}, nil
}

// AlignRegion re-aligns only the expanded window around [start, end]:
// the window's audio is cut out, aligned as a single segment, shifted
// back into absolute time, and merged over the prior words. The response
// reports how far the boundaries moved.
func (j *Jobs) AlignRegion(ctx context.Context, jobID string, start, end, margin float64) (*AlignRegionResult, error) {
	began := time.Now()

	if end <= start {
		return nil, apperr.BadRequest("Field 'end' must be greater than 'start'.")
	}
	if start < 0 {
		return nil, apperr.BadRequest("Field 'start' must not be negative.")
	}
	if margin < 0 {
		margin = 0
	}

	meta, rel, err := j.loadMeta(jobID)
	if err != nil {
		return nil, err
	}
	tr, err := j.loadTranscript(jobID, rel)
	if err != nil {
		return nil, err
	}

	duration := tr.Duration
	if duration <= 0 {
		duration = meta.Duration
	}
	window := stt.RegionWindow(start, end, margin, duration)

	text := tr.WindowText(window)
	if text == "" {
		return nil, apperr.BadRequest("No transcript text in the selected region.")
	}
	prior := tr.WordsInWindow(window)

	regionAbs := j.jobAbs(rel, regionFileName(""))
	if err := j.media.NormalizeToWAV(ctx, j.jobAbs(rel, sourceWAV), regionAbs, window.Start, window.End); err != nil {
		return nil, err
	}

	segment := []stt.Segment{{Text: text, Start: 0, End: window.End - window.Start}}
	aligned, err := j.stt.Align(ctx, regionAbs, tr.Language, segment)
	if err != nil {
		return nil, err
	}
	shifted := stt.ShiftWords(aligned.Words, window.Start)
	tr.MergeWindow(window, shifted)

	if err := j.saveTranscript(rel, tr); err != nil {
		return nil, err
	}
	meta.State = StateRegionAligned
	if err := j.saveMeta(rel, meta); err != nil {
		return nil, err
	}

	diff := stt.Diff(prior, shifted)
	j.record("align_region", began, window.End-window.Start)
	j.logger.Info("media job region aligned",
		slog.String("job", jobID),
		slog.Float64("window_start", window.Start),
		slog.Float64("window_end", window.End),
		slog.Int("words", len(shifted)),
		slog.Int("changed", diff.Changed))

	return &AlignRegionResult{
		JobID:      jobID,
		Window:     RegionEcho{Start: window.Start, End: window.End},
		Transcript: tr,
		Diff:       diff,
	}, nil
}
