package ffmpeg

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoShell skips the test if no POSIX shell is available.
func skipIfNoShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}
	return path
}

func TestCommandBuilder_NormalizeArgs(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HideBanner().
		Overwrite().
		Seek(1.5).
		Input("in.mp4").
		Until(30).
		AudioChannels(1).
		AudioRate(24000).
		NoVideo().
		Output("out.wav").
		Build()

	assert.Equal(t, "ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-ss", "1.5",
		"-i", "in.mp4",
		"-to", "30",
		"-ac", "1",
		"-ar", "24000",
		"-vn",
		"out.wav",
	}, cmd.Args)
}

func TestCommandBuilder_CutUsesDurationWhenSeeking(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		Overwrite().
		Seek(10).
		Input("in.wav").
		Duration(2.5).
		Output("region.wav").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-y",
		"-ss", "10",
		"-i", "in.wav",
		"-t", "2.5",
		"region.wav",
	}, cmd.Args)
}

func TestCommandBuilder_RemuxArgs(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		HideBanner().
		Overwrite().
		Input("source.mp4").
		Input("preview.wav").
		Map("0:v:0").
		Map("1:a:0").
		VideoCodec("copy").
		AudioCodec("aac").
		AudioBitrate("192k").
		Shortest().
		Output("final.mp4").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-i", "source.mp4",
		"-i", "preview.wav",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"final.mp4",
	}, cmd.Args)
}

func TestCommand_String(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").Input("a.wav").Output("b.wav").Build()
	assert.Equal(t, "ffmpeg -loglevel error -i a.wav b.wav", cmd.String())
}

func TestCommand_Run_Success(t *testing.T) {
	sh := skipIfNoShell(t)

	cmd := &Command{Binary: sh, Args: []string{"-c", "exit 0"}}
	require.NoError(t, cmd.Run(context.Background(), time.Second))
}

func TestCommand_Run_NonZeroExitIsIOFailure(t *testing.T) {
	sh := skipIfNoShell(t)

	cmd := &Command{Binary: sh, Args: []string{"-c", "echo broken pipe >&2; exit 1"}}
	err := cmd.Run(context.Background(), time.Second)
	require.Error(t, err)

	assert.True(t, apperr.IsKind(err, apperr.KindIOFailure))
	assert.Contains(t, apperr.MessageOf(err), "broken pipe")
}

func TestCommand_Run_TimeoutMapsToTimeout(t *testing.T) {
	sh := skipIfNoShell(t)

	cmd := &Command{Binary: sh, Args: []string{"-c", "sleep 5"}}
	err := cmd.Run(context.Background(), 50*time.Millisecond)
	require.Error(t, err)

	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
}

func TestCommand_Run_MissingBinaryIsUnavailable(t *testing.T) {
	cmd := &Command{Binary: "/nonexistent/ffmpeg"}
	err := cmd.Run(context.Background(), time.Second)
	require.Error(t, err)

	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1.5, "1.5"},
		{30, "30"},
		{0.25, "0.25"},
		{12.345, "12.345"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSeconds(tt.in))
	}
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector(config.FFmpegConfig{})

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.Version)
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector(config.FFmpegConfig{}).WithCacheTTL(1 * time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)
	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.Same(t, info1, info2, "within the TTL both calls return the cached detection")
}

func TestBinaryDetector_ZeroTTLRedetects(t *testing.T) {
	skipIfNoFFmpeg(t)

	ctx := context.Background()
	detector := NewBinaryDetector(config.FFmpegConfig{}).WithCacheTTL(0)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)
	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.NotSame(t, info1, info2)
	assert.Equal(t, info1.FFmpegPath, info2.FFmpegPath)
}

func TestBinaryDetector_ConfiguredPathMustExist(t *testing.T) {
	ctx := context.Background()
	detector := NewBinaryDetector(config.FFmpegConfig{BinaryPath: "/nonexistent/ffmpeg"})

	_, err := detector.Detect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg not found")
}

func TestParseBanner(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			"release build",
			"ffmpeg version 6.0 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 12\n",
			"6.0",
		},
		{
			"patch release",
			"ffmpeg version 6.0.1 Copyright (c) 2000-2023 the FFmpeg developers\n",
			"6.0.1",
		},
		{
			"git snapshot",
			"ffmpeg version n7.1-2-g50f34172e0 Copyright (c) 2000-2024 the FFmpeg developers\n",
			"n7.1-2-g50f34172e0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBanner([]byte(tt.out))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseBanner([]byte("bash: ffmpeg: command not found\n"))
	assert.Error(t, err)
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D a64multi             Multicolor charset for Commodore 64 (codec a64_multi)
 V..... libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libmp3lame           libmp3lame MP3 (MPEG audio layer 3) (codec mp3)
 A....D pcm_s16le            PCM signed 16-bit little-endian
 S..... srt                  SubRip subtitle (codec subrip)
`

	got := parseEncoders([]byte(out))
	assert.Equal(t, []string{"a64multi", "libx264", "aac", "libmp3lame", "pcm_s16le", "srt"}, got)

	// Legend lines above the separator never leak into the list.
	assert.NotContains(t, got, "=")
}

func TestBinaryInfo_HasEncoder(t *testing.T) {
	info := &BinaryInfo{
		Encoders: []string{"aac", "libopus", "libmp3lame", "pcm_s16le"},
	}

	assert.True(t, info.HasEncoder("aac"))
	assert.True(t, info.HasEncoder("libopus"))
	assert.False(t, info.HasEncoder("libvpx-vp9"))
}

func TestProber_MissingBinaryIsUnavailable(t *testing.T) {
	p := NewProber("")

	_, err := p.Probe(context.Background(), "whatever.wav")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))

	_, err = p.Duration(context.Background(), "whatever.wav")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97002997002997},
		{"24", 24},
		{"0/0", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFramerate(tt.in), 0.0001, tt.in)
	}
}

func TestProbeResult_Helpers(t *testing.T) {
	result := &ProbeResult{
		Format: ProbeFormat{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Duration:   "63.41",
			Size:       "1048576",
		},
		Streams: []ProbeStream{
			{Index: 0, CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "25/1"},
			{Index: 1, CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 2},
		},
	}

	assert.InDelta(t, 63.41, result.DurationSeconds(), 0.001)
	assert.Equal(t, int64(1048576), result.SizeBytes())

	video := result.VideoStream()
	require.NotNil(t, video)
	assert.Equal(t, "h264", video.CodecName)
	assert.InDelta(t, 25.0, video.Framerate(), 0.001)

	audio := result.AudioStream()
	require.NotNil(t, audio)
	assert.Equal(t, "aac", audio.CodecName)
	assert.Equal(t, 2, audio.Channels)
}

func TestProbeResult_NoStreams(t *testing.T) {
	result := &ProbeResult{}

	assert.Nil(t, result.VideoStream())
	assert.Nil(t, result.AudioStream())
	assert.Zero(t, result.DurationSeconds())
	assert.Zero(t, result.SizeBytes())
}
