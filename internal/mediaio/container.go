package mediaio

import (
	"path/filepath"
	"strings"
)

// ContainerRule describes how the replacement audio track is encoded for
// a target container, and which video codec the re-encode fallback uses
// when stream copy is rejected.
type ContainerRule struct {
	// AudioCodec is the ffmpeg encoder name for the audio track.
	AudioCodec string
	// AudioBitrate is the target audio bitrate, e.g. "192k".
	AudioBitrate string
	// AudioRate forces an output sample rate; 0 keeps the source rate.
	AudioRate int
	// VideoCodec is the encoder used when copying the video stream fails.
	VideoCodec string
}

// containerRules maps output extensions to their encode settings. WebM
// cannot carry AAC, so it gets Opus at 48 kHz; the MP4 family takes AAC.
var containerRules = map[string]ContainerRule{
	".webm": {AudioCodec: "libopus", AudioBitrate: "160k", AudioRate: 48000, VideoCodec: "libvpx-vp9"},
	".mp4":  {AudioCodec: "aac", AudioBitrate: "192k", VideoCodec: "libx264"},
	".m4v":  {AudioCodec: "aac", AudioBitrate: "192k", VideoCodec: "libx264"},
	".mov":  {AudioCodec: "aac", AudioBitrate: "192k", VideoCodec: "libx264"},
}

// defaultRule covers containers without an explicit entry.
var defaultRule = ContainerRule{AudioCodec: "aac", AudioBitrate: "192k", VideoCodec: "libx264"}

// RuleForOutput picks the encode rule from the destination extension.
func RuleForOutput(dst string) ContainerRule {
	ext := strings.ToLower(filepath.Ext(dst))
	if rule, ok := containerRules[ext]; ok {
		return rule
	}
	return defaultRule
}

// OutputExtension resolves the final container extension from an optional
// requested format ("webm", ".mp4") falling back to the source extension,
// then to ".mp4" when neither is usable.
func OutputExtension(format, sourceExt string) string {
	ext := strings.ToLower(strings.TrimSpace(format))
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return ext
	}
	if sourceExt != "" {
		return strings.ToLower(sourceExt)
	}
	return ".mp4"
}
