// Package startup holds the one-shot tasks the process runs before
// serving.
package startup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ScratchPrefix marks temp entries this process creates in the system
// temp directory: upload spools, yt-dlp scratch dirs, and transcriber
// exchange files. Their owners normally remove them; anything left
// behind came from a crash or kill.
const ScratchPrefix = "ttshub-"

// DefaultCleanupAge bounds how fresh a leftover may be and still count
// as orphaned. Generous enough that a slow edit job surviving a restart
// keeps its spool.
const DefaultCleanupAge = time.Hour

// CleanupSystemScratch sweeps the system temp directory with the
// default age bound.
func CleanupSystemScratch(logger *slog.Logger) (int, error) {
	return CleanupScratch(logger, os.TempDir(), DefaultCleanupAge)
}

// CleanupScratch removes prefix-matched entries in baseDir whose mtime
// is older than maxAge, returning how many went. Entries that resist
// removal are logged and skipped.
func CleanupScratch(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading scratch directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ScratchPrefix) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("could not remove orphaned scratch entry",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		logger.Info("removed orphaned scratch entry",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)))
		removed++
	}
	return removed, nil
}
