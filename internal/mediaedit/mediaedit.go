// Package mediaedit runs the audio replacement pipeline: each job owns a
// workspace directory under media_edits/ holding the original upload, its
// normalized mono WAV, the transcript document, and every preview built
// from it. Endpoints are one-writer-per-job: a call observes the files the
// previous completed call left behind, and concurrent mutations of the
// same job are not supported.
package mediaedit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/mediaio"
	"github.com/jmylchreest/ttshub/internal/stats"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/stt"
)

// Workspace file names inside a job directory.
const (
	sourceWAV      = "source.wav"
	transcriptFile = "transcript.json"
	metaFile       = "job_meta.json"
	latestPreview  = "latest_preview.wav"
)

// Job states. No state is terminal: clients may repeat any step.
const (
	StateCreated       = "created"
	StateTranscribed   = "transcribed"
	StateAligned       = "aligned"
	StateRegionAligned = "region_aligned"
	StatePreviewReady  = "preview_pending"
	StateApplied       = "applied"
)

// Meta is the persisted job document in job_meta.json.
type Meta struct {
	JobID      string    `json:"job_id"`
	SourceName string    `json:"source_name"`
	SourceExt  string    `json:"source_ext"`
	HasVideo   bool      `json:"has_video"`
	Duration   float64   `json:"duration"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Synthesizer renders the replacement clip into the output root. The
// engine dispatcher satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, p engine.Payload) (*engine.Result, error)
}

// Jobs manages media-edit workspaces and drives the transcribe, align,
// replace, and apply pipeline over them.
type Jobs struct {
	layout *storage.Layout
	media  *mediaio.Processor
	stt    *stt.Transcriber
	synth  Synthesizer
	stats  *stats.Recorder
	cfg    config.MediaConfig
	logger *slog.Logger
}

// NewJobs builds the job manager. synth may be nil when replacement
// synthesis is not wired (replace_preview then reports the engine as
// unavailable).
func NewJobs(layout *storage.Layout, media *mediaio.Processor, transcriber *stt.Transcriber, synth Synthesizer, cfg config.MediaConfig, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultMarginMs <= 0 {
		cfg.DefaultMarginMs = 250
	}
	if cfg.DefaultFadeMs <= 0 {
		cfg.DefaultFadeMs = 12
	}
	return &Jobs{
		layout: layout,
		media:  media,
		stt:    transcriber,
		synth:  synth,
		cfg:    cfg,
		logger: logger,
	}
}

// WithStats enables pipeline timing samples.
func (j *Jobs) WithStats(rec *stats.Recorder) *Jobs {
	j.stats = rec
	return j
}

// DefaultMargin is the region expansion applied when a request omits its
// own margin, in seconds.
func (j *Jobs) DefaultMargin() float64 {
	return float64(j.cfg.DefaultMarginMs) / 1000
}

// newJobID mints a sortable workspace id.
func newJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// jobRel validates a client-supplied job id and returns the workspace
// path relative to the output root. Ids never contain path separators.
func (j *Jobs) jobRel(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", apperr.BadRequest("Field 'jobId' is required.")
	}
	if jobID != filepath.Base(jobID) || strings.Contains(jobID, "..") {
		return "", apperr.BadRequestf("Invalid job id '%s'.", jobID)
	}
	return j.layout.JobDirRel(jobID), nil
}

// jobAbs resolves a workspace file to its absolute path.
func (j *Jobs) jobAbs(rel string, name string) string {
	return filepath.Join(j.layout.BaseDir(), rel, name)
}

// loadMeta reads a job's metadata document. A missing workspace or
// document reports the job as unknown.
func (j *Jobs) loadMeta(jobID string) (*Meta, string, error) {
	rel, err := j.jobRel(jobID)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(j.jobAbs(rel, metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", apperr.NotFoundf("Unknown media job '%s'.", jobID)
		}
		return nil, "", apperr.Wrapf(apperr.KindIOFailure, err, "could not read job metadata for '%s'", jobID)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, "", apperr.Wrapf(apperr.KindIOFailure, err, "job metadata for '%s' is corrupt", jobID)
	}
	return &meta, rel, nil
}

// saveMeta persists the metadata document atomically.
func (j *Jobs) saveMeta(rel string, meta *Meta) error {
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "could not encode job metadata", err)
	}
	if err := j.layout.Sandbox().AtomicWrite(filepath.Join(rel, metaFile), append(data, '\n')); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "could not write job metadata", err)
	}
	return nil
}

// loadTranscript reads a job's transcript document.
func (j *Jobs) loadTranscript(jobID, rel string) (*stt.Transcript, error) {
	data, err := os.ReadFile(j.jobAbs(rel, transcriptFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFoundf("Job '%s' has no transcript yet.", jobID)
		}
		return nil, apperr.Wrapf(apperr.KindIOFailure, err, "could not read the transcript for '%s'", jobID)
	}
	var tr stt.Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, apperr.Wrapf(apperr.KindIOFailure, err, "transcript for '%s' is corrupt", jobID)
	}
	return &tr, nil
}

// saveTranscript persists the transcript document atomically.
func (j *Jobs) saveTranscript(rel string, tr *stt.Transcript) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "could not encode the transcript", err)
	}
	if err := j.layout.Sandbox().AtomicWrite(filepath.Join(rel, transcriptFile), append(data, '\n')); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "could not write the transcript", err)
	}
	return nil
}

// record emits a timing sample when stats are wired.
func (j *Jobs) record(kind string, start time.Time, duration float64) {
	if j.stats == nil {
		return
	}
	j.stats.Record(kind, stats.Sample{
		Elapsed:  time.Since(start).Seconds(),
		Duration: duration,
	})
}

// regionFileName names a cut or replacement artifact inside the job dir.
func regionFileName(suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("region-%d.wav", time.Now().UnixMilli())
	}
	return fmt.Sprintf("region-%d-%s.wav", time.Now().UnixMilli(), suffix)
}
