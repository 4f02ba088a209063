// Package ingest caches remote media downloads under the output tree
// and reaps stale artifacts. Downloads are content-addressed by a stable
// id extracted from the source URL, so repeated edits of the same video
// never refetch.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/storage"
)

// preferredExts orders freshly downloaded candidates; yt-dlp may leave
// several tracks behind and the smaller audio-only containers win.
var preferredExts = []string{".m4a", ".mp3", ".webm", ".opus", ".ogg"}

// metadataSuffix names the per-id sidecar document.
const metadataSuffix = ".info.json"

// Fetcher downloads url into the cache. outTemplate is a yt-dlp style
// output template containing a "%(ext)s" placeholder; the fetcher must
// write "<id>.<ext>" next to it.
type Fetcher interface {
	Fetch(ctx context.Context, url, outTemplate string) error
}

// Cache is the on-disk download cache for one ingest source.
// Reads are lock-free; only the cleanup gate takes a mutex.
type Cache struct {
	layout *storage.Layout
	source string
	logger *slog.Logger

	ttl      time.Duration
	interval time.Duration

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// NewCache creates an ingest cache for the given source name
// ("youtube"). ttl bounds entry age, interval gates opportunistic reaps.
func NewCache(layout *storage.Layout, source string, ttl, interval time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		layout:   layout,
		source:   source,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
	}
}

// ResolveOrDownload returns the absolute path of the cached media for
// url, downloading through fetcher on a miss. Existing entries pick the
// largest file for the id; fresh downloads pick by preferred extension.
func (c *Cache) ResolveOrDownload(ctx context.Context, url string, fetcher Fetcher) (string, error) {
	id := VideoID(url)
	if id == "" {
		return "", apperr.BadRequest("could not derive a cache id from the URL")
	}

	if path := c.lookupLargest(id); path != "" {
		return path, nil
	}

	if err := c.ensureDir(); err != nil {
		return "", err
	}

	template := filepath.Join(c.dirAbs(), id+".%(ext)s")
	if err := fetcher.Fetch(ctx, url, template); err != nil {
		return "", err
	}

	path := c.lookupPreferred(id)
	if path == "" {
		return "", apperr.IOFailuref("download did not produce an output file for id %s", id)
	}
	return path, nil
}

// Lookup returns the cached path for url without downloading, empty when
// absent.
func (c *Cache) Lookup(url string) string {
	id := VideoID(url)
	if id == "" {
		return ""
	}
	return c.lookupLargest(id)
}

// SaveMetadata persists an opaque sidecar blob for the id.
func (c *Cache) SaveMetadata(id string, blob []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	rel := c.layout.CacheRel(c.source, id+metadataSuffix)
	if err := c.layout.Sandbox().AtomicWrite(rel, blob); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "saving cache metadata", err)
	}
	return nil
}

// LoadMetadata reads the sidecar blob for the id.
func (c *Cache) LoadMetadata(id string) ([]byte, bool) {
	rel := c.layout.CacheRel(c.source, id+metadataSuffix)
	data, err := c.layout.Sandbox().ReadFile(rel)
	if err != nil {
		return nil, false
	}
	return data, true
}

// MaybeReap runs Reap when the configured interval has elapsed since the
// last run. The request path and the cron scheduler both funnel through
// this gate, so at most one reap executes per interval.
func (c *Cache) MaybeReap() {
	c.cleanupMu.Lock()
	if c.interval > 0 && time.Since(c.lastCleanup) < c.interval {
		c.cleanupMu.Unlock()
		return
	}
	c.lastCleanup = time.Now()
	c.cleanupMu.Unlock()

	c.Reap(c.ttl)
}

// Reap deletes cache files and media-edit job directories whose newest
// mtime is older than ttl. Cleanup never raises; failures are logged.
func (c *Cache) Reap(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-ttl)
	sandbox := c.layout.Sandbox()

	removedFiles := c.reapCacheFiles(sandbox, cutoff)
	removedDirs := c.reapJobDirs(sandbox, cutoff)

	if removedFiles > 0 || removedDirs > 0 {
		c.logger.Info("reaped stale media artifacts",
			slog.Int("cache_files", removedFiles),
			slog.Int("job_dirs", removedDirs))
	}
}

// reapCacheFiles removes stale files directly under the source cache dir.
func (c *Cache) reapCacheFiles(sandbox *storage.Sandbox, cutoff time.Time) int {
	dirRel := filepath.Join(storage.MediaCacheDir, c.source)
	entries, err := sandbox.List(dirRel)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		rel := filepath.Join(dirRel, entry.Name())
		if err := sandbox.Remove(rel); err != nil {
			c.logger.Debug("could not remove cache file", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed
}

// reapJobDirs removes media-edit job directories whose newest file is
// older than the cutoff.
func (c *Cache) reapJobDirs(sandbox *storage.Sandbox, cutoff time.Time) int {
	entries, err := sandbox.List(storage.MediaEditsDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rel := filepath.Join(storage.MediaEditsDir, entry.Name())
		newest := newestMtime(sandbox, rel)
		if newest.IsZero() || newest.After(cutoff) {
			continue
		}
		if err := sandbox.RemoveAll(rel); err != nil {
			c.logger.Debug("could not remove job dir", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed
}

// newestMtime finds the most recent mtime inside a directory tree,
// falling back to the directory's own mtime when empty.
func newestMtime(sandbox *storage.Sandbox, rel string) time.Time {
	var newest time.Time
	_ = sandbox.Walk(rel, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

// lookupLargest returns the largest cached media file for the id.
func (c *Cache) lookupLargest(id string) string {
	candidates := c.candidates(id)
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return fileSize(candidates[i]) > fileSize(candidates[j])
	})
	return candidates[0]
}

// lookupPreferred returns the candidate matching the earliest preferred
// extension, falling back to the first candidate.
func (c *Cache) lookupPreferred(id string) string {
	candidates := c.candidates(id)
	if len(candidates) == 0 {
		return ""
	}
	for _, ext := range preferredExts {
		for _, candidate := range candidates {
			if strings.EqualFold(filepath.Ext(candidate), ext) {
				return candidate
			}
		}
	}
	return candidates[0]
}

// candidates globs <id>.* excluding sidecars and partial downloads.
func (c *Cache) candidates(id string) []string {
	pattern := filepath.Join(storage.MediaCacheDir, c.source, id+".*")
	matches, err := c.layout.Sandbox().Glob(pattern)
	if err != nil {
		return nil
	}

	var out []string
	for _, rel := range matches {
		name := filepath.Base(rel)
		if strings.HasSuffix(name, metadataSuffix) || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		abs, err := c.layout.Sandbox().ResolvePath(rel)
		if err != nil {
			continue
		}
		out = append(out, abs)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) dirAbs() string {
	return filepath.Join(c.layout.BaseDir(), storage.MediaCacheDir, c.source)
}

func (c *Cache) ensureDir() error {
	if err := c.layout.Sandbox().MkdirAll(filepath.Join(storage.MediaCacheDir, c.source)); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "creating cache directory", err)
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
