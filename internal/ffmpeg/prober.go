package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/execx"
)

// defaultProbeTimeout bounds a single ffprobe invocation.
const defaultProbeTimeout = 30 * time.Second

// ProbeResult is ffprobe's view of a local media file. ffprobe emits
// far more than this; the structs keep only what the studio reads, and
// numeric values stay strings the way ffprobe prints them.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat is the container-level block of a probe.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// ProbeStream describes one elementary stream.
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
}

func (r *ProbeResult) streamOfType(kind string) *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == kind {
			return &r.Streams[i]
		}
	}
	return nil
}

// VideoStream returns the first video stream, nil when the container
// has none.
func (r *ProbeResult) VideoStream() *ProbeStream { return r.streamOfType("video") }

// AudioStream returns the first audio stream, nil when the container
// has none.
func (r *ProbeResult) AudioStream() *ProbeStream { return r.streamOfType("audio") }

// DurationSeconds returns the container duration, 0 when unknown.
func (r *ProbeResult) DurationSeconds() float64 {
	dur, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}

// SizeBytes returns the container size, 0 when unknown.
func (r *ProbeResult) SizeBytes() int64 {
	size, err := strconv.ParseInt(r.Format.Size, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// Framerate resolves the stream framerate, preferring the average rate
// over the raw rate when both parse.
func (s *ProbeStream) Framerate() float64 {
	if f := parseFramerate(s.AvgFrameRate); f > 0 {
		return f
	}
	return parseFramerate(s.RFrameRate)
}

// parseFramerate reads ffprobe's rational rates ("30000/1001", "25/1")
// and plain decimals. Anything else, including a zero denominator,
// comes back 0.
func parseFramerate(fr string) float64 {
	if numStr, denStr, ok := strings.Cut(fr, "/"); ok {
		num, err1 := strconv.ParseFloat(numStr, 64)
		den, err2 := strconv.ParseFloat(denStr, 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0
		}
		return num / den
	}
	f, err := strconv.ParseFloat(fr, 64)
	if err != nil {
		return 0
	}
	return f
}

// Prober inspects local media files with ffprobe.
type Prober struct {
	binary  string
	timeout time.Duration
}

// NewProber returns a Prober bound to the given ffprobe binary.
func NewProber(binary string) *Prober {
	return &Prober{binary: binary, timeout: defaultProbeTimeout}
}

// WithTimeout overrides the per-invocation wall clock limit.
func (p *Prober) WithTimeout(d time.Duration) *Prober {
	p.timeout = d
	return p
}

// Probe inspects a media file and returns format and stream details.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := p.run(ctx,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}

	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, "parsing ffprobe output", err)
	}
	return &result, nil
}

// Duration is the fast path for reading a file's duration in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx,
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(string(out))
	if text == "" || text == "N/A" {
		return 0, nil
	}
	dur, parseErr := strconv.ParseFloat(text, 64)
	if parseErr != nil {
		return 0, apperr.IOFailuref("unexpected ffprobe duration %q", text)
	}
	return dur, nil
}

// HasVideoStream reports whether the file carries at least one video
// stream.
func (p *Prober) HasVideoStream(ctx context.Context, path string) (bool, error) {
	out, err := p.run(ctx,
		"-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=codec_type", "-of", "csv=p=0", path)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// run invokes ffprobe with the service error mapping applied.
func (p *Prober) run(ctx context.Context, args ...string) ([]byte, error) {
	if p.binary == "" {
		return nil, apperr.Unavailable("ffprobe is required to inspect media. Install ffmpeg and try again.")
	}

	res, err := execx.Run(ctx, execx.Command{
		Path:    p.binary,
		Args:    args,
		Timeout: p.timeout,
	})
	if err != nil {
		if errors.Is(err, execx.ErrTimeout) {
			return nil, apperr.Timeoutf("ffprobe timed out after %s", p.timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindUnavailable, "ffprobe is required to inspect media", err)
	}
	if res.ExitCode != 0 {
		detail := res.StderrTail(2)
		if detail == "" {
			detail = "exit code " + strconv.Itoa(res.ExitCode)
		}
		return nil, apperr.IOFailuref("ffprobe failed: %s", detail)
	}
	return res.Stdout, nil
}
