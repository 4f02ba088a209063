// Package mediaio performs container-level media work for the edit
// pipeline: probing uploads, canonicalizing audio to mono 24 kHz WAV,
// cutting regions, and remuxing the edited track back under the original
// video stream.
package mediaio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/ffmpeg"
)

// NormalizedSampleRate is the canonical rate every edit-pipeline WAV is
// resampled to before transcription, alignment, and splicing.
const NormalizedSampleRate = 24000

// Info is the probe summary reported to clients.
type Info struct {
	Duration float64    `json:"duration"`
	Size     int64      `json:"size"`
	Format   string     `json:"format"`
	HasVideo bool       `json:"has_video"`
	Audio    *AudioInfo `json:"audio,omitempty"`
	Video    *VideoInfo `json:"video,omitempty"`
}

// AudioInfo describes the first audio stream.
type AudioInfo struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// VideoInfo describes the first video stream.
type VideoInfo struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

// Processor runs media operations through the detected ffmpeg tools.
type Processor struct {
	detector *ffmpeg.BinaryDetector
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProcessor creates a media processor. The detector supplies ffmpeg
// and ffprobe paths; operations fail with engine_unavailable when the
// required tool is absent.
func NewProcessor(detector *ffmpeg.BinaryDetector, logger *slog.Logger) *Processor {
	return &Processor{
		detector: detector,
		timeout:  10 * time.Minute,
		logger:   logger,
	}
}

// WithTimeout sets the per-invocation wall clock limit.
func (p *Processor) WithTimeout(timeout time.Duration) *Processor {
	p.timeout = timeout
	return p
}

// Probe inspects a media file and returns the client-facing summary.
func (p *Processor) Probe(ctx context.Context, path string) (*Info, error) {
	prober, err := p.prober(ctx)
	if err != nil {
		return nil, err
	}
	result, err := prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return infoFromProbe(result), nil
}

// Duration is the fast path for reading a file's duration in seconds.
func (p *Processor) Duration(ctx context.Context, path string) (float64, error) {
	prober, err := p.prober(ctx)
	if err != nil {
		return 0, err
	}
	return prober.Duration(ctx, path)
}

// HasVideoStream reports whether the file carries at least one video stream.
func (p *Processor) HasVideoStream(ctx context.Context, path string) (bool, error) {
	prober, err := p.prober(ctx)
	if err != nil {
		return false, err
	}
	return prober.HasVideoStream(ctx, path)
}

// NormalizeToWAV converts src to mono 24 kHz PCM at dst, optionally
// cutting a region. start and end are seconds; end==0 means through the
// end of the source.
func (p *Processor) NormalizeToWAV(ctx context.Context, src, dst string, start, end float64) error {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "ffmpeg is required to process audio. Install ffmpeg and try again.", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.Wrap(apperr.KindIOFailure, "creating output directory", err)
	}
	cmd := NormalizeCommand(info.FFmpegPath, src, dst, start, end)
	return cmd.Run(ctx, p.timeout)
}

// Remux joins the original video stream with a replacement audio track.
// The first attempt copies the video stream; when the container rejects
// the copy, the video is re-encoded with the container's fallback codec.
func (p *Processor) Remux(ctx context.Context, videoSrc, audioSrc, dst string) error {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "ffmpeg is required to remux media. Install ffmpeg and try again.", err)
	}
	rule := RuleForOutput(dst)

	// Fail fast when the detected build cannot produce the container's
	// audio track. An empty encoder list means capability probing failed;
	// let ffmpeg itself report the problem then.
	if len(info.Encoders) > 0 && !info.HasEncoder(rule.AudioCodec) {
		return apperr.Unavailable(fmt.Sprintf(
			"The detected ffmpeg build lacks the %s encoder needed for %s output.",
			rule.AudioCodec, filepath.Ext(dst)))
	}

	copyErr := RemuxCommand(info.FFmpegPath, videoSrc, audioSrc, dst, rule, false).Run(ctx, p.timeout)
	if copyErr == nil {
		return nil
	}
	if !apperr.IsKind(copyErr, apperr.KindIOFailure) {
		return copyErr
	}

	p.logger.Warn("stream copy failed, re-encoding video",
		slog.String("dst", filepath.Base(dst)),
		slog.String("codec", rule.VideoCodec),
		slog.String("error", copyErr.Error()))

	return RemuxCommand(info.FFmpegPath, videoSrc, audioSrc, dst, rule, true).Run(ctx, p.timeout)
}

// NormalizeCommand builds the canonical mono-WAV conversion command.
// A positive start seeks before decode; a positive end bounds the output,
// expressed as a duration when seeking so the two compose.
func NormalizeCommand(ffmpegPath, src, dst string, start, end float64) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite()

	if start > 0 {
		b.Seek(start)
	}
	b.Input(src)
	if end > 0 {
		if start > 0 && end > start {
			b.Duration(end - start)
		} else {
			b.Until(end)
		}
	}

	return b.AudioChannels(1).
		AudioRate(NormalizedSampleRate).
		NoVideo().
		Output(dst).
		Build()
}

// RemuxCommand builds the mux command joining videoSrc's video stream
// with audioSrc encoded per rule. reencode selects the fallback video
// codec instead of stream copy.
func RemuxCommand(ffmpegPath, videoSrc, audioSrc, dst string, rule ContainerRule, reencode bool) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite().
		Input(videoSrc).
		Input(audioSrc).
		Map("0:v:0").
		Map("1:a:0")

	if reencode {
		b.VideoCodec(rule.VideoCodec)
	} else {
		b.VideoCodec("copy")
	}

	b.AudioCodec(rule.AudioCodec).AudioBitrate(rule.AudioBitrate)
	if rule.AudioRate > 0 {
		b.AudioRate(rule.AudioRate)
	}

	return b.Shortest().Output(dst).Build()
}

// prober returns a Prober bound to the detected ffprobe path.
func (p *Processor) prober(ctx context.Context) (*ffmpeg.Prober, error) {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "ffprobe is required to inspect media", err)
	}
	if info.FFprobePath == "" {
		return nil, apperr.Unavailable("ffprobe is required to inspect media. Install ffmpeg and try again.")
	}
	return ffmpeg.NewProber(info.FFprobePath).WithTimeout(p.timeout), nil
}

// infoFromProbe flattens the raw ffprobe result into the client summary.
func infoFromProbe(result *ffmpeg.ProbeResult) *Info {
	info := &Info{
		Duration: result.DurationSeconds(),
		Size:     result.SizeBytes(),
		Format:   result.Format.FormatName,
	}

	if s := result.AudioStream(); s != nil {
		rate, _ := strconv.Atoi(s.SampleRate)
		info.Audio = &AudioInfo{
			Codec:      s.CodecName,
			SampleRate: rate,
			Channels:   s.Channels,
		}
	}

	if s := result.VideoStream(); s != nil {
		info.HasVideo = true
		info.Video = &VideoInfo{
			Codec:  s.CodecName,
			Width:  s.Width,
			Height: s.Height,
			FPS:    s.Framerate(),
		}
	}

	return info
}
