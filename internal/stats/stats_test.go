package stats

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/storage"
)

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	sandbox, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRecorder(sandbox, "media_stats.json", logger), dir
}

func TestRecord_DerivesRTF(t *testing.T) {
	r, _ := newTestRecorder(t)

	r.Record("transcribe", Sample{Elapsed: 10, Duration: 60})

	summaries := r.Summaries()
	require.Contains(t, summaries, "transcribe")
	assert.Equal(t, 1, summaries["transcribe"].Count)
	assert.InDelta(t, 6.0, summaries["transcribe"].AvgRTF, 1e-9)
}

func TestRecord_IgnoresInvalidSamples(t *testing.T) {
	r, _ := newTestRecorder(t)

	r.Record("", Sample{Elapsed: 1})
	r.Record("synthesis", Sample{Elapsed: 0})
	r.Record("synthesis", Sample{Elapsed: -2})

	assert.Empty(t, r.Summaries())
}

func TestRecord_BoundsHistory(t *testing.T) {
	r, _ := newTestRecorder(t)

	for i := 0; i < historyCap+25; i++ {
		r.Record("synthesis", Sample{Elapsed: 1, Duration: float64(i)})
	}

	summaries := r.Summaries()
	assert.Equal(t, historyCap, summaries["synthesis"].Count)
}

func TestRecord_PersistsAndReloads(t *testing.T) {
	r, dir := newTestRecorder(t)

	r.Record("align", Sample{Elapsed: 2, Duration: 10})
	r.Record("align", Sample{Elapsed: 2, Duration: 30})

	// File on disk is the source of truth for a fresh recorder.
	data, err := os.ReadFile(filepath.Join(dir, "media_stats.json"))
	require.NoError(t, err)
	var onDisk map[string][]Sample
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.Len(t, onDisk["align"], 2)

	sandbox, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	fresh := NewRecorder(sandbox, "media_stats.json", logger)

	summaries := fresh.Summaries()
	assert.Equal(t, 2, summaries["align"].Count)
	assert.InDelta(t, 10.0, summaries["align"].AvgRTF, 1e-9) // (5+15)/2
}

func TestRecorder_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media_stats.json"), []byte("not json"), 0o644))

	sandbox, err := storage.NewSandbox(dir)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	r := NewRecorder(sandbox, "media_stats.json", logger)

	assert.Empty(t, r.Summaries())

	// Recording over the corrupt file replaces it.
	r.Record("transcribe", Sample{Elapsed: 1, Duration: 4})
	assert.Equal(t, 1, r.Summaries()["transcribe"].Count)
}

func TestAvgRTF_UnknownKind(t *testing.T) {
	r, _ := newTestRecorder(t)
	assert.Zero(t, r.AvgRTF("nope"))
}

func TestSummaries_ExplicitRTFPreferred(t *testing.T) {
	r, _ := newTestRecorder(t)

	r.Record("synthesis", Sample{Elapsed: 10, Duration: 10, RTF: 3})

	assert.InDelta(t, 3.0, r.Summaries()["synthesis"].AvgRTF, 1e-9)
}
