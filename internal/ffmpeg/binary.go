// Package ffmpeg provides FFmpeg/FFprobe binary detection, command
// construction, and media probing for the edit pipeline.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/util"
)

// BinaryInfo describes the detected media tools. Only ffmpeg itself is
// required; FFprobePath and YtdlpPath stay empty when the tool is
// absent and callers degrade accordingly.
type BinaryInfo struct {
	FFmpegPath  string   `json:"ffmpeg_path"`
	FFprobePath string   `json:"ffprobe_path,omitempty"`
	YtdlpPath   string   `json:"ytdlp_path,omitempty"`
	Version     string   `json:"version"`
	Encoders    []string `json:"encoders,omitempty"`
}

// HasEncoder reports whether this ffmpeg build carries the named encoder.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// BinaryDetector locates the external media tools and caches the result.
type BinaryDetector struct {
	mu           sync.Mutex
	cfg          config.FFmpegConfig
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. Configured paths take precedence
// over environment variables and PATH lookup.
func NewBinaryDetector(cfg config.FFmpegConfig) *BinaryDetector {
	return &BinaryDetector{
		cfg:      cfg,
		cacheTTL: 5 * time.Minute,
	}
}

// WithCacheTTL overrides how long one detection stays valid.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect locates ffmpeg, ffprobe and yt-dlp and reads ffmpeg's
// capabilities. The mutex spans the whole detection, so concurrent
// callers during a cache miss share one round of tool invocations.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.locate(ctx)
	if err != nil {
		return nil, err
	}
	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

func (d *BinaryDetector) locate(ctx context.Context) (*BinaryInfo, error) {
	// Search order: configured path, TTSHUB_FFMPEG_BINARY, ./ffmpeg, PATH.
	ffmpegPath, err := util.ResolveBinary(d.cfg.BinaryPath, "ffmpeg", "TTSHUB_FFMPEG_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	// Running -version reads the banner and proves the resolved path is
	// actually executable.
	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("checking ffmpeg: %w", err)
	}
	ver, err := parseBanner(out)
	if err != nil {
		return nil, err
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath, Version: ver}

	// ffprobe and yt-dlp are optional: probing reports unavailable on its
	// own, and URL ingest degrades to upload-only.
	if p, err := util.ResolveBinary(d.cfg.ProbePath, "ffprobe", "TTSHUB_FFPROBE_BINARY"); err == nil {
		info.FFprobePath = p
	}
	if p, err := util.ResolveBinary(d.cfg.YtdlpPath, "yt-dlp", "TTSHUB_YTDLP_BINARY"); err == nil {
		info.YtdlpPath = p
	}

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-encoders", "-hide_banner").Output(); err == nil {
		info.Encoders = parseEncoders(out)
	}
	return info, nil
}

var bannerRe = regexp.MustCompile(`^ffmpeg version (\S+)`)

// parseBanner pulls the version token out of `ffmpeg -version` output,
// e.g. "6.0", "6.0.1" or "n7.1-2-g50f34172e0".
func parseBanner(out []byte) (string, error) {
	m := bannerRe.FindSubmatch(out)
	if m == nil {
		return "", errors.New("unrecognized ffmpeg -version output")
	}
	return string(m[1]), nil
}

// parseEncoders lists encoder names from `ffmpeg -encoders` output. The
// listing starts after a ------ separator; each entry is a capability
// flag block whose first letter classes the codec (V/A/S), then the name.
func parseEncoders(out []byte) []string {
	var names []string
	listing := false
	for _, line := range strings.Split(string(out), "\n") {
		if !listing {
			listing = strings.Contains(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0][0] {
		case 'V', 'A', 'S':
			names = append(names, fields[1])
		}
	}
	return names
}
