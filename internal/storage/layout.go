package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known locations inside the output tree.
//
//	out/
//	  <clip files>                    one-shot synthesis and audition artifacts
//	  voice_previews/<engine>/        cached voice previews
//	  media_edits/<jobID>/            media-edit job workspaces
//	  media_cache/<source>/           ingest cache (downloads + info sidecars)
//	  images/drawthings/              persisted generated images
//	  media_stats.json                pipeline stage timing samples
const (
	PreviewsDir   = "voice_previews"
	MediaEditsDir = "media_edits"
	MediaCacheDir = "media_cache"
	ImagesDir     = "images/drawthings"
	StatsFile     = "media_stats.json"
	tempDir       = "temp"
)

// Layout manages the output tree where every generated artifact lives.
// All paths it hands out are relative to the sandbox base.
type Layout struct {
	sandbox *Sandbox
}

// NewLayout creates the output tree rooted at outputDir.
func NewLayout(outputDir string) (*Layout, error) {
	sandbox, err := NewSandbox(outputDir)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	for _, dir := range []string{PreviewsDir, MediaEditsDir, MediaCacheDir, ImagesDir, tempDir} {
		if err := sandbox.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}

	return &Layout{sandbox: sandbox}, nil
}

// Sandbox exposes the underlying sandbox for file operations.
func (l *Layout) Sandbox() *Sandbox {
	return l.sandbox
}

// BaseDir returns the absolute path of the output tree root.
func (l *Layout) BaseDir() string {
	return l.sandbox.BaseDir()
}

// NewClipName builds a unique clip filename: <unix_ts>-<hex10>-<suffix>.<ext>.
// The timestamp prefix keeps directory listings chronological; the random
// token prevents collisions between concurrent requests. The suffix keeps
// alphanumerics, hyphen, and underscore; anything else is dropped.
func NewClipName(suffix, ext string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	suffix = sanitizeFileToken(suffix)
	if suffix == "" {
		suffix = "clip"
	}
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%d-%s-%s.%s", time.Now().Unix(), token, suffix, ext)
}

// sanitizeFileToken strips path-hostile characters from a filename component.
func sanitizeFileToken(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PreviewRel returns the relative path of a voice preview file.
func (l *Layout) PreviewRel(engineID, fileName string) string {
	return filepath.Join(PreviewsDir, engineID, fileName)
}

// JobDirRel returns the relative path of a media-edit job workspace.
func (l *Layout) JobDirRel(jobID string) string {
	return filepath.Join(MediaEditsDir, jobID)
}

// CacheRel returns the relative path of an ingest cache entry.
func (l *Layout) CacheRel(source, fileName string) string {
	return filepath.Join(MediaCacheDir, source, fileName)
}

// ImageRel returns the relative path of a persisted generated image.
func (l *Layout) ImageRel(fileName string) string {
	return filepath.Join(ImagesDir, fileName)
}

// StatsRel returns the relative path of the stats document.
func (l *Layout) StatsRel() string {
	return StatsFile
}

// AudioURL maps a relative artifact path onto its public URL.
func AudioURL(rel string) string {
	return "/audio/" + filepath.ToSlash(rel)
}

// ImageURL maps an image filename onto its public URL.
func ImageURL(fileName string) string {
	return "/image/drawthings/" + fileName
}

// slugify lowercases a string, turns separators into single hyphens, and
// drops every other symbol. Shared by clip names, voice ids, and preview keys.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Slugify is the exported form used for voice ids, language keys, and
// uploaded reference names.
func Slugify(s string) string {
	return slugify(s)
}
