package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/storage"
)

func xttsFixture(t *testing.T) (*XTTS, *storage.Layout) {
	t.Helper()
	dir := t.TempDir()

	voiceDir := filepath.Join(dir, "voices")
	require.NoError(t, os.MkdirAll(voiceDir, 0o755))
	writeTestWAV(t, filepath.Join(voiceDir, "British Narrator.wav"), 0.1, 24000)
	writeTestWAV(t, filepath.Join(voiceDir, "Promo.wav"), 0.1, 24000)
	require.NoError(t, os.WriteFile(filepath.Join(voiceDir, "promo.mp3"), []byte("mp3"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(voiceDir, "notes.txt"), []byte("skip me"), 0o644))

	serviceDir := filepath.Join(dir, "service")
	require.NoError(t, os.MkdirAll(serviceDir, 0o755))

	layout, err := storage.NewLayout(filepath.Join(dir, "out"))
	require.NoError(t, err)

	cfg := config.XTTSConfig{
		ServiceDir: serviceDir,
		Python:     "/bin/sh",
		VoiceDir:   voiceDir,
		Timeout:    5 * time.Second,
	}
	return NewXTTS(cfg, layout, nil), layout
}

func TestXTTSVoices(t *testing.T) {
	x, _ := xttsFixture(t)

	catalog := x.Voices()
	assert.True(t, catalog.Available)
	require.Len(t, catalog.Voices, 3)

	// Sorted by filename; the colliding stem is uniquified.
	assert.Equal(t, "british_narrator", catalog.Voices[0].ID)
	assert.Equal(t, "promo", catalog.Voices[1].ID)
	assert.Equal(t, "promo_2", catalog.Voices[2].ID)

	narrator := catalog.Voices[0]
	assert.Equal(t, "British Narrator", narrator.Label)
	assert.Equal(t, "British Narrator.wav", narrator.Notes)
	assert.Equal(t, "custom", narrator.Accent.ID)
	assert.Equal(t, filepath.Join(x.cfg.VoiceDir, "British Narrator.wav"), narrator.Raw["path"])

	require.Len(t, catalog.Groups, 1)
	assert.Equal(t, "xtts_custom", catalog.Groups[0].ID)
	assert.Equal(t, 3, catalog.Groups[0].Count)
}

func TestXTTSVoicesEmpty(t *testing.T) {
	x, _ := xttsFixture(t)
	x.cfg.VoiceDir = t.TempDir()

	catalog := x.Voices()
	assert.False(t, catalog.Available)
	assert.Empty(t, catalog.Voices)
	assert.Equal(t, "Place reference clips in the XTTS voices directory and reload.", catalog.Message)
}

func TestXTTSPrepare(t *testing.T) {
	x, _ := xttsFixture(t)

	req, err := x.Prepare(Payload{"text": "hello", "voice": "British Narrator"})
	require.NoError(t, err)
	xr := req.(*xttsRequest)
	assert.Equal(t, "british_narrator", xr.VoiceID)
	assert.Equal(t, filepath.Join(x.cfg.VoiceDir, "British Narrator.wav"), xr.VoicePath)
	assert.Equal(t, "en", xr.Language)
	assert.Equal(t, "wav", xr.Format)
	assert.Equal(t, 24000, xr.SampleRate)
	assert.Equal(t, 0.6, xr.Temperature)
	assert.Equal(t, int64(42), xr.Seed)

	req, err = x.Prepare(Payload{"text": "hello", "voice": "promo", "language": "de-DE", "sample_rate": 48000, "seed": 7})
	require.NoError(t, err)
	xr = req.(*xttsRequest)
	assert.Equal(t, "de", xr.Language)
	assert.Equal(t, 48000, xr.SampleRate)
	assert.Equal(t, int64(7), xr.Seed)
}

func TestXTTSPrepareErrors(t *testing.T) {
	x, _ := xttsFixture(t)

	_, err := x.Prepare(Payload{"text": "hello", "voice": "ghost"})
	require.Error(t, err)
	assert.Equal(t, "Unknown XTTS voice 'ghost'.", apperr.MessageOf(err))

	_, err = x.Prepare(Payload{"text": "hello", "voice": "promo", "format": "aiff"})
	require.Error(t, err)
	assert.Equal(t, "Unsupported XTTS format 'aiff'.", apperr.MessageOf(err))

	_, err = x.Prepare(Payload{"text": "hello", "voice": "promo", "sample_rate": "high"})
	require.Error(t, err)
	assert.Equal(t, "XTTS sample rate must be an integer.", apperr.MessageOf(err))

	_, err = x.Prepare(Payload{"text": "hello", "voice": "promo", "temperature": "hot"})
	require.Error(t, err)
	assert.Equal(t, "XTTS temperature must be numeric.", apperr.MessageOf(err))

	_, err = x.Prepare(Payload{"text": "hello", "voice": "promo", "seed": "lucky"})
	require.Error(t, err)
	assert.Equal(t, "XTTS seed must be an integer.", apperr.MessageOf(err))
}

func TestXTTSPreparePathVoice(t *testing.T) {
	x, _ := xttsFixture(t)

	// A path inside voice_dir resolves to its slugified stem.
	inside := filepath.Join(x.cfg.VoiceDir, "British Narrator.wav")
	req, err := x.Prepare(Payload{"text": "hello", "voice": inside})
	require.NoError(t, err)
	assert.Equal(t, "british_narrator", req.(*xttsRequest).VoiceID)

	// Paths outside the allowed roots are rejected even when they exist.
	outside := filepath.Join(t.TempDir(), "secret.wav")
	writeTestWAV(t, outside, 0.1, 24000)
	_, err = x.Prepare(Payload{"text": "hello", "voice": outside})
	require.Error(t, err)
	assert.Contains(t, apperr.MessageOf(err), "Unknown XTTS voice")
}

func TestXTTSSynthesizeCLI(t *testing.T) {
	x, layout := xttsFixture(t)

	var got execx.Command
	x.WithRunner(execx.RunFunc(func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		got = cmd
		writeTestWAV(t, argValue(cmd.Args, "--out"), 0.2, 24000)
		return &execx.Result{ExitCode: 0}, nil
	}))

	req, err := x.Prepare(Payload{"text": "Cloning test", "voice": "promo"})
	require.NoError(t, err)
	res, err := x.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/bin/sh", got.Path)
	assert.Equal(t, []string{"-m", "tts_service.cli"}, got.Args[:2])
	assert.Equal(t, "Cloning test", argValue(got.Args, "--text"))
	assert.Equal(t, filepath.Join(x.cfg.VoiceDir, "Promo.wav"), argValue(got.Args, "--speaker-ref"))
	assert.Equal(t, "en", argValue(got.Args, "--language"))
	assert.Equal(t, "24000", argValue(got.Args, "--sample-rate"))
	assert.Contains(t, got.Args, "--no-cache")
	assert.Equal(t, x.cfg.ServiceDir, got.Dir)

	assert.Equal(t, "xtts", res.Engine)
	assert.Equal(t, "promo", res.Voice)
	assert.Equal(t, 24000, res.SampleRate)
	assert.FileExists(t, filepath.Join(layout.BaseDir(), res.Filename))
}

func TestXTTSSynthesizeCLIFailure(t *testing.T) {
	x, _ := xttsFixture(t)
	x.WithRunner(execx.RunFunc(func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		return &execx.Result{ExitCode: 2, Stderr: "CUDA out of memory\n"}, nil
	}))

	req, err := x.Prepare(Payload{"text": "hello", "voice": "promo"})
	require.NoError(t, err)
	_, err = x.Synthesize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "XTTS synthesis failed: CUDA out of memory", apperr.MessageOf(err))
}

func TestXTTSSynthesizeRemote(t *testing.T) {
	x, layout := xttsFixture(t)

	var posted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tts":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"success": true, "audio_url": "/files/clip.wav"})
		case "/files/clip.wav":
			w.Write([]byte("RIFF-clip-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	x.cfg.ServerURL = srv.URL + "/"

	req, err := x.Prepare(Payload{"text": "Remote hello", "voice": "promo", "speed": 1.1})
	require.NoError(t, err)
	res, err := x.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Remote hello", posted["text"])
	assert.Equal(t, filepath.Join(x.cfg.VoiceDir, "Promo.wav"), posted["speaker_ref"])
	assert.Equal(t, "en", posted["language"])
	assert.Equal(t, 1.1, posted["speed"])

	data, err := os.ReadFile(filepath.Join(layout.BaseDir(), res.Filename))
	require.NoError(t, err)
	assert.Equal(t, "RIFF-clip-bytes", string(data))
	assert.Equal(t, "/audio/"+res.Filename, res.Path)
}

func TestXTTSSynthesizeRemoteErrors(t *testing.T) {
	t.Run("server error status passes through", func(t *testing.T) {
		x, _ := xttsFixture(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()
		x.cfg.ServerURL = srv.URL

		req, err := x.Prepare(Payload{"text": "hello", "voice": "promo"})
		require.NoError(t, err)
		_, err = x.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "XTTS server error: boom", apperr.MessageOf(err))
		assert.Equal(t, 500, apperr.StatusOf(err))
	})

	t.Run("declared failure", func(t *testing.T) {
		x, _ := xttsFixture(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "bad reference"})
		}))
		defer srv.Close()
		x.cfg.ServerURL = srv.URL

		req, err := x.Prepare(Payload{"text": "hello", "voice": "promo"})
		require.NoError(t, err)
		_, err = x.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "XTTS server failed: bad reference", apperr.MessageOf(err))
	})

	t.Run("missing audio url", func(t *testing.T) {
		x, _ := xttsFixture(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": true})
		}))
		defer srv.Close()
		x.cfg.ServerURL = srv.URL

		req, err := x.Prepare(Payload{"text": "hello", "voice": "promo"})
		require.NoError(t, err)
		_, err = x.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "XTTS server response missing audio URL.", apperr.MessageOf(err))
	})

	t.Run("unreachable server", func(t *testing.T) {
		x, _ := xttsFixture(t)
		x.cfg.ServerURL = "http://127.0.0.1:1"

		req, err := x.Prepare(Payload{"text": "hello", "voice": "promo"})
		require.NoError(t, err)
		_, err = x.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
		assert.Contains(t, apperr.MessageOf(err), "XTTS server request failed")
	})
}
