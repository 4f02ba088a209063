package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/execx"
)

// ytdlpTimeout bounds a single download. Long-form videos at audio
// bitrates finish well inside this.
const ytdlpTimeout = 15 * time.Minute

// runner matches execx.Runner and execx.RunFunc.
type runner interface {
	Run(ctx context.Context, cmd execx.Command) (*execx.Result, error)
}

// YtdlpFetcher downloads best-audio tracks through yt-dlp.
type YtdlpFetcher struct {
	binaryPath string
	runner     runner
	logger     *slog.Logger
}

// NewYtdlpFetcher creates a fetcher bound to the resolved yt-dlp binary.
// An empty path means yt-dlp was not found; Fetch then reports
// engine_unavailable.
func NewYtdlpFetcher(binaryPath string, logger *slog.Logger) *YtdlpFetcher {
	return &YtdlpFetcher{
		binaryPath: binaryPath,
		runner:     execx.Runner{},
		logger:     logger,
	}
}

// WithRunner swaps the subprocess runner. Tests use this to avoid
// invoking a real binary.
func (f *YtdlpFetcher) WithRunner(r runner) *YtdlpFetcher {
	f.runner = r
	return f
}

// Available reports whether yt-dlp was resolved.
func (f *YtdlpFetcher) Available() bool {
	return f.binaryPath != ""
}

// Fetch downloads the best audio track for url into outTemplate.
func (f *YtdlpFetcher) Fetch(ctx context.Context, url, outTemplate string) error {
	if f.binaryPath == "" {
		return apperr.Unavailable("yt-dlp is required for YouTube imports. Install 'yt-dlp' and try again.")
	}

	start := time.Now()
	res, err := f.runner.Run(ctx, execx.Command{
		Path:    f.binaryPath,
		Args:    []string{"-f", "bestaudio/best", "-o", outTemplate, url},
		Timeout: ytdlpTimeout,
	})
	if err != nil {
		if errors.Is(err, execx.ErrTimeout) {
			return apperr.Timeoutf("yt-dlp timed out after %s", ytdlpTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperr.Wrap(apperr.KindUnavailable, "yt-dlp is required for YouTube imports", err)
	}
	if res.ExitCode != 0 {
		detail := res.StderrTail(3)
		if detail == "" {
			detail = "no output"
		}
		return apperr.IOFailuref("yt-dlp failed: %s", detail)
	}

	f.logger.Debug("yt-dlp download finished",
		slog.String("url", url),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
