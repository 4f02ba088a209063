package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/util"
)

const (
	binaryName = "whisperx-json"
	binaryEnv  = "TTSHUB_STT_BINARY"

	defaultTimeout = 10 * time.Minute
)

// runner matches execx.Runner and execx.RunFunc.
type runner interface {
	Run(ctx context.Context, cmd execx.Command) (*execx.Result, error)
}

// Transcriber drives the external speech-to-text runner. The runner is a
// CLI that reads audio and writes a transcript JSON document:
//
//	<cmd> transcribe --audio <wav> --model <m> --device <d> --output <json>
//	<cmd> align --audio <wav> --language <lang> --segments <json> --output <json>
//
// When no runner is installed, transcription can fall back to an evenly
// spaced stub transcript so the editing UI stays usable; alignment has no
// such fallback and reports engine_unavailable instead.
type Transcriber struct {
	cfg    config.STTConfig
	runner runner
	logger *slog.Logger
}

// NewTranscriber creates a transcriber from the stt configuration.
func NewTranscriber(cfg config.STTConfig, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Transcriber{
		cfg:    cfg,
		runner: execx.Runner{},
		logger: logger,
	}
}

// WithRunner swaps the subprocess runner. Tests use this to avoid
// invoking a real binary.
func (t *Transcriber) WithRunner(r runner) *Transcriber {
	t.runner = r
	return t
}

// binary resolves the runner binary. Search order: configured command ->
// TTSHUB_STT_BINARY -> ./whisperx-json -> PATH.
func (t *Transcriber) binary() (string, error) {
	return util.ResolveBinary(t.cfg.Command, binaryName, binaryEnv)
}

// Available reports whether a runner binary can be resolved right now.
func (t *Transcriber) Available() bool {
	_, err := t.binary()
	return err == nil
}

// Transcribe runs the transcription pass over audioPath. duration is the
// audio length in seconds and is only consulted when the stub fallback
// fabricates a transcript or the runner omits its own duration.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, duration float64) (*Transcript, error) {
	bin, err := t.binary()
	if err != nil {
		if t.cfg.AllowStub {
			t.logger.Warn("transcription runner not found, producing stub transcript",
				slog.String("audio", filepath.Base(audioPath)))
			return StubTranscript(duration), nil
		}
		return nil, apperr.Unavailable("A transcription runner is required. Install 'whisperx-json' and try again.")
	}

	outPath, cleanup, err := tempJSON("ttshub-transcript-*.json")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	tr, elapsed, err := t.invoke(ctx, bin, []string{
		"transcribe",
		"--audio", audioPath,
		"--model", t.cfg.Model,
		"--device", t.cfg.Device,
		"--output", outPath,
	}, outPath, "transcription")
	if err != nil {
		return nil, err
	}

	if tr.Duration <= 0 {
		tr.Duration = duration
	}
	attachStats(tr, elapsed)

	t.logger.Debug("transcription finished",
		slog.String("audio", filepath.Base(audioPath)),
		slog.Int("segments", len(tr.Segments)),
		slog.Int("words", len(tr.Words)),
		slog.Duration("elapsed", elapsed))
	return tr, nil
}

// Align refines word timings for the given segments against audioPath.
// An empty language defaults to English.
func (t *Transcriber) Align(ctx context.Context, audioPath, language string, segments []Segment) (*Transcript, error) {
	bin, err := t.binary()
	if err != nil {
		return nil, apperr.Unavailable("An alignment runner is required. Install 'whisperx-json' and try again.")
	}
	if language == "" {
		language = "en"
	}

	segPath, cleanupSeg, err := tempJSON("ttshub-segments-*.json")
	if err != nil {
		return nil, err
	}
	defer cleanupSeg()

	data, err := json.Marshal(segments)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encoding alignment segments", err)
	}
	if err := os.WriteFile(segPath, data, 0o600); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "writing alignment segments", err)
	}

	outPath, cleanupOut, err := tempJSON("ttshub-aligned-*.json")
	if err != nil {
		return nil, err
	}
	defer cleanupOut()

	tr, elapsed, err := t.invoke(ctx, bin, []string{
		"align",
		"--audio", audioPath,
		"--language", language,
		"--segments", segPath,
		"--output", outPath,
	}, outPath, "alignment")
	if err != nil {
		return nil, err
	}

	if tr.Language == "" {
		tr.Language = language
	}
	attachStats(tr, elapsed)

	t.logger.Debug("alignment finished",
		slog.String("audio", filepath.Base(audioPath)),
		slog.String("language", language),
		slog.Int("words", len(tr.Words)),
		slog.Duration("elapsed", elapsed))
	return tr, nil
}

// invoke runs the binary and reads the transcript it wrote to outPath.
// op names the operation in error messages.
func (t *Transcriber) invoke(ctx context.Context, bin string, args []string, outPath, op string) (*Transcript, time.Duration, error) {
	res, err := t.runner.Run(ctx, execx.Command{
		Path:    bin,
		Args:    args,
		Timeout: t.cfg.Timeout,
	})
	if err != nil {
		if errors.Is(err, execx.ErrTimeout) {
			return nil, 0, apperr.Timeoutf("%s timed out after %s", op, t.cfg.Timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		return nil, 0, apperr.Wrapf(apperr.KindUnavailable, err, "could not start the %s runner", op)
	}
	if res.ExitCode != 0 {
		detail := res.StderrTail(3)
		if detail == "" {
			detail = "no output"
		}
		return nil, 0, apperr.EngineFailuref("%s failed: %s", op, detail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, 0, apperr.Wrapf(apperr.KindEngineFailure, err, "%s runner produced no output", op)
	}
	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, 0, apperr.Wrapf(apperr.KindEngineFailure, err, "%s runner produced invalid output", op)
	}
	return &tr, res.Duration, nil
}

// attachStats records elapsed time and the realtime factor on a
// freshly produced transcript.
func attachStats(tr *Transcript, elapsed time.Duration) {
	stats := &Stats{Elapsed: elapsed.Seconds()}
	if stats.Elapsed > 0 && tr.Duration > 0 {
		stats.RTF = tr.Duration / stats.Elapsed
	}
	tr.Stats = stats
}

// StubTranscript fabricates a placeholder transcript with one word per
// second of audio, evenly spaced, for use when no runner is installed.
func StubTranscript(duration float64) *Transcript {
	if duration < 0 || math.IsNaN(duration) {
		duration = 0
	}
	n := int(math.Ceil(duration))
	if n < 1 {
		n = 1
	}

	step := duration / float64(n)
	words := make([]Word, n)
	texts := make([]string, n)
	for i := range words {
		text := fmt.Sprintf("word%d", i+1)
		words[i] = Word{
			Text:  text,
			Start: float64(i) * step,
			End:   float64(i+1) * step,
		}
		texts[i] = text
	}

	return &Transcript{
		Language: "en",
		Duration: duration,
		Segments: []Segment{{Text: strings.Join(texts, " "), Start: 0, End: duration}},
		Words:    words,
		Stub:     true,
	}
}

// tempJSON creates an empty temp file for runner output and returns its
// path plus a cleanup func.
func tempJSON(pattern string) (string, func(), error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindIOFailure, "creating scratch file", err)
	}
	path := f.Name()
	f.Close()
	return path, func() { os.Remove(path) }, nil
}
