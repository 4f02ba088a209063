package voices

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/audio"
	"github.com/jmylchreest/ttshub/internal/storage"
)

type stubSynth struct {
	defaultLang string
	renders     int
	lastText    string
	lastLang    string
	makeClip    func(t *testing.T) string
	err         error
	t           *testing.T
}

func (s *stubSynth) PreviewLanguage(engineID, voiceID, language string, options map[string]any) string {
	if language != "" {
		return language
	}
	return s.defaultLang
}

func (s *stubSynth) RenderPreview(ctx context.Context, engineID, voiceID, text, language string, options map[string]any) (string, error) {
	s.renders++
	s.lastText = text
	s.lastLang = language
	if s.err != nil {
		return "", s.err
	}
	return s.makeClip(s.t), nil
}

func constantClip(value float32, seconds float64, rate int) func(t *testing.T) string {
	return func(t *testing.T) string {
		t.Helper()
		samples := make([]float32, int(seconds*float64(rate)))
		for i := range samples {
			samples[i] = value
		}
		path := filepath.Join(t.TempDir(), "clip.wav")
		require.NoError(t, audio.Save(path, samples, rate))
		return path
	}
}

func newPreviewFixture(t *testing.T) (*storage.Layout, *stubSynth, *PreviewCache) {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	synth := &stubSynth{
		defaultLang: "en-us",
		makeClip:    constantClip(0.5, 2, 8000),
		t:           t,
	}
	cache := NewPreviewCache(layout, synth, nil)
	return layout, synth, cache
}

func TestPreviewCache_Ensure(t *testing.T) {
	layout, synth, cache := newPreviewFixture(t)

	var clipPath string
	inner := synth.makeClip
	synth.makeClip = func(t *testing.T) string {
		clipPath = inner(t)
		return clipPath
	}

	rel, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("voice_previews", "kokoro", "af_heart-en-us-v1.wav"), rel)
	assert.Equal(t, DefaultPreviewText("en-us"), synth.lastText)
	assert.Equal(t, "en-us", synth.lastLang)

	// The synthesised source clip is removed once the preview exists.
	assert.NoFileExists(t, clipPath)

	samples, rate, err := audio.LoadMono(filepath.Join(layout.BaseDir(), rel), 0)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.LessOrEqual(t, len(samples), 5*8000)
	assert.InDelta(t, 0.95, samples[0], 0.01)
}

func TestPreviewCache_EnsureCachesByLanguageKey(t *testing.T) {
	_, synth, cache := newPreviewFixture(t)

	first, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart"})
	require.NoError(t, err)
	second, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, synth.renders)

	// Another language key misses the cache.
	_, err = cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart", Language: "en-gb"})
	require.NoError(t, err)
	assert.Equal(t, 2, synth.renders)
}

func TestPreviewCache_ForceRegenerates(t *testing.T) {
	_, synth, cache := newPreviewFixture(t)

	_, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart"})
	require.NoError(t, err)
	_, err = cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, synth.renders)
}

func TestPreviewCache_TruncatesAndFades(t *testing.T) {
	layout, synth, cache := newPreviewFixture(t)
	synth.makeClip = constantClip(0.5, 7, 4000)

	rel, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_long"})
	require.NoError(t, err)

	samples, rate, err := audio.LoadMono(filepath.Join(layout.BaseDir(), rel), 0)
	require.NoError(t, err)
	assert.Equal(t, 4000, rate)
	assert.Len(t, samples, 5*4000)
	// Faded to silence at the tail, normalised at the head.
	assert.InDelta(t, 0, samples[len(samples)-1], 1e-3)
	assert.InDelta(t, 0.95, samples[0], 0.01)
}

func TestPreviewCache_JapaneseText(t *testing.T) {
	_, synth, cache := newPreviewFixture(t)

	rel, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "jf_alpha", Language: "ja-jp"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("voice_previews", "kokoro", "jf_alpha-ja-jp-v1.wav"), rel)
	assert.Equal(t, previewTexts["ja-jp"], synth.lastText)
}

func TestPreviewCache_RequiresVoice(t *testing.T) {
	_, _, cache := newPreviewFixture(t)

	_, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Equal(t, "Field 'voiceId' is required.", apperr.MessageOf(err))
}

func TestPreviewCache_SynthesizerErrorPassesThrough(t *testing.T) {
	_, synth, cache := newPreviewFixture(t)
	synth.err = apperr.Unavailable("TTS engine 'kokoro' is not available.")

	_, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "kokoro", Voice: "af_heart"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

type stubDecoder struct {
	calls int
}

func (d *stubDecoder) NormalizeToWAV(ctx context.Context, src, dst string, start, end float64) error {
	d.calls++
	return audio.Save(dst, []float32{0.25, 0.5, 0.25, 0}, 8000)
}

func TestPreviewCache_DecodesCompressedClips(t *testing.T) {
	layout, synth, _ := newPreviewFixture(t)
	synth.makeClip = func(t *testing.T) string {
		path := filepath.Join(t.TempDir(), "clip.mp3")
		require.NoError(t, os.WriteFile(path, []byte("not really mp3"), 0o644))
		return path
	}

	t.Run("without decoder", func(t *testing.T) {
		cache := NewPreviewCache(layout, synth, nil)
		_, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "chattts", Voice: "chattts_random"})
		require.Error(t, err)
		assert.Equal(t, apperr.KindIOFailure, apperr.KindOf(err))
	})

	t.Run("with decoder", func(t *testing.T) {
		dec := &stubDecoder{}
		cache := NewPreviewCache(layout, synth, nil).WithDecoder(dec)
		rel, err := cache.Ensure(context.Background(), PreviewRequest{Engine: "chattts", Voice: "chattts_random", Force: true})
		require.NoError(t, err)
		assert.Equal(t, 1, dec.calls)
		assert.FileExists(t, filepath.Join(layout.BaseDir(), rel))
	})
}

func TestFindCachedPreview(t *testing.T) {
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	sb := layout.Sandbox()
	require.NoError(t, sb.WriteFile(layout.PreviewRel("xtts", "custom-default-v1.wav"), []byte("wav")))
	require.NoError(t, sb.WriteFile(layout.PreviewRel("xtts", "custom-en-us-v1.wav"), []byte("wav")))

	url := FindCachedPreview(layout, "xtts", "custom")
	assert.Equal(t, "/audio/voice_previews/xtts/custom-default-v1.wav", url)

	assert.Empty(t, FindCachedPreview(layout, "xtts", "other"))
	assert.Empty(t, FindCachedPreview(nil, "xtts", "custom"))
}

func TestPreviewHelpers(t *testing.T) {
	assert.Equal(t, "default", PreviewLanguageKey(""))
	assert.Equal(t, "en-us", PreviewLanguageKey(" EN-US "))
	assert.Equal(t, "english", PreviewLanguageKey("English"))

	assert.Equal(t, "af_heart-en-us-v1.wav", PreviewFileName("af_heart", "en-us"))
	assert.Equal(t, "voice-default-v1.wav", PreviewFileName("voice", ""))

	assert.Equal(t, previewTexts["en-us"], DefaultPreviewText("fr-fr"))
	assert.Equal(t, previewTexts["ja-jp"], DefaultPreviewText("JA-JP"))
}
