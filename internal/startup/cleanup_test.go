package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEntry plants a scratch dir (names without an extension) or file
// under base and backdates its mtime by age. Backdating happens after
// the writes; writing into a fresh dir bumps its mtime.
func seedEntry(t *testing.T, base, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(base, name)
	if filepath.Ext(name) == "" {
		require.NoError(t, os.Mkdir(path, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(path, "ref.m4a"), []byte("x"), 0o644))
	} else {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
	return path
}

func TestCleanupScratch(t *testing.T) {
	quiet := slog.New(slog.DiscardHandler)

	t.Run("sweeps stale entries, dirs and files alike", func(t *testing.T) {
		base := t.TempDir()
		oldDir := seedEntry(t, base, "ttshub-yt-19477284", 2*time.Hour)
		oldFile := seedEntry(t, base, "ttshub-upload-55512.wav", 2*time.Hour)

		removed, err := CleanupScratch(quiet, base, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.NoDirExists(t, oldDir)
		assert.NoFileExists(t, oldFile)
	})

	t.Run("spares entries younger than the bound", func(t *testing.T) {
		base := t.TempDir()
		recent := seedEntry(t, base, "ttshub-yt-88234511", 30*time.Minute)

		removed, err := CleanupScratch(quiet, base, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.DirExists(t, recent)
	})

	t.Run("never touches foreign names", func(t *testing.T) {
		base := t.TempDir()
		foreign := seedEntry(t, base, "postgres-data", 48*time.Hour)

		removed, err := CleanupScratch(quiet, base, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.DirExists(t, foreign)
	})

	t.Run("missing directory is a no-op", func(t *testing.T) {
		removed, err := CleanupScratch(quiet, filepath.Join(t.TempDir(), "gone"), time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("mixed ages sweep only the stale set", func(t *testing.T) {
		base := t.TempDir()
		stale := []string{
			seedEntry(t, base, "ttshub-yt-11111111", 2*time.Hour),
			seedEntry(t, base, "ttshub-transcript-2222.json", 3*time.Hour),
			seedEntry(t, base, "ttshub-upload-3333.mp3", 90*time.Minute),
		}
		fresh := seedEntry(t, base, "ttshub-upload-4444.mp3", 10*time.Minute)

		removed, err := CleanupScratch(quiet, base, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		for _, path := range stale {
			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), path)
		}
		assert.FileExists(t, fresh)
	})
}
