package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/execx"
	"github.com/jmylchreest/ttshub/internal/storage"
)

func openVoiceFixture(t *testing.T) (*OpenVoice, *storage.Layout) {
	t.Helper()
	dir := t.TempDir()

	ckptRoot := filepath.Join(dir, "checkpoints_v2")
	require.NoError(t, os.MkdirAll(filepath.Join(ckptRoot, "converter"), 0o755))
	enDir := filepath.Join(ckptRoot, "base_speakers", "EN")
	require.NoError(t, os.MkdirAll(enDir, 0o755))
	speakerConfig := `{"speakers": {"default": {}, "friendly": {}, "whispering": {}}}`
	require.NoError(t, os.WriteFile(filepath.Join(enDir, "config.json"), []byte(speakerConfig), 0o644))

	refDir := filepath.Join(dir, "resources")
	require.NoError(t, os.MkdirAll(filepath.Join(refDir, "team"), 0o755))
	writeTestWAV(t, filepath.Join(refDir, "alice.wav"), 0.1, 22050)
	require.NoError(t, os.WriteFile(filepath.Join(refDir, "team", "bob.mp3"), []byte("mp3"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(refDir, "README.md"), []byte("docs"), 0o644))

	layout, err := storage.NewLayout(filepath.Join(dir, "out"))
	require.NoError(t, err)

	cfg := config.OpenVoiceConfig{
		Root:         filepath.Join(dir, "OpenVoice"),
		Python:       "/bin/sh",
		CkptRoot:     ckptRoot,
		ReferenceDir: refDir,
		Watermark:    "@TTSHub",
		Timeout:      5 * time.Second,
	}
	require.NoError(t, os.MkdirAll(cfg.Root, 0o755))
	return NewOpenVoice(cfg, layout, nil), layout
}

func TestOpenVoiceVoices(t *testing.T) {
	o, _ := openVoiceFixture(t)

	catalog := o.Voices()
	assert.True(t, catalog.Available)
	require.Len(t, catalog.Voices, 2)

	alice := catalog.Voices[0]
	assert.Equal(t, "openvoice_alice", alice.ID)
	assert.Equal(t, "Alice", alice.Label)
	assert.Equal(t, "alice.wav", alice.Raw["reference_relative"])
	assert.Equal(t, "English", alice.Raw["language"])
	assert.Equal(t, []string{"OpenVoice", "English"}, alice.Tags)

	bob := catalog.Voices[1]
	assert.Equal(t, "openvoice_bob", bob.ID)
	assert.Equal(t, "team/bob.mp3", bob.Raw["reference_relative"])

	require.Len(t, catalog.Groups, 1)
	assert.Equal(t, "openvoice_english", catalog.Groups[0].ID)
	assert.Equal(t, []string{"default", "friendly", "whispering"}, catalog.Styles)
}

func TestOpenVoiceVoicesEmpty(t *testing.T) {
	o, _ := openVoiceFixture(t)
	o.cfg.ReferenceDir = t.TempDir()

	catalog := o.Voices()
	assert.False(t, catalog.Available)
	assert.Empty(t, catalog.Voices)
	assert.Equal(t, "Add reference clips under the OpenVoice resources directory and reload.", catalog.Message)
}

func TestOpenVoicePrepare(t *testing.T) {
	o, _ := openVoiceFixture(t)

	req, err := o.Prepare(Payload{"text": "hello", "voice": "openvoice_alice"})
	require.NoError(t, err)
	or := req.(*openVoiceRequest)
	assert.Equal(t, "English", or.Language)
	assert.Equal(t, "default", or.Style)
	assert.Equal(t, "@TTSHub", or.Watermark)
	assert.True(t, strings.HasSuffix(or.ReferencePath, "alice.wav"))

	req, err = o.Prepare(Payload{"text": "hello", "voice": "openvoice_bob", "style": "friendly", "watermark": "@Custom"})
	require.NoError(t, err)
	or = req.(*openVoiceRequest)
	assert.Equal(t, "friendly", or.Style)
	assert.Equal(t, "@Custom", or.Watermark)
}

func TestOpenVoicePrepareErrors(t *testing.T) {
	o, _ := openVoiceFixture(t)

	_, err := o.Prepare(Payload{"text": "hello", "voice": "openvoice_ghost"})
	require.Error(t, err)
	assert.Equal(t, "Unknown OpenVoice reference 'openvoice_ghost'.", apperr.MessageOf(err))

	_, err = o.Prepare(Payload{"text": "hello", "voice": "openvoice_alice", "style": "angry"})
	require.Error(t, err)
	assert.Equal(t, "Style 'angry' is not available for OpenVoice English.", apperr.MessageOf(err))
}

func TestOpenVoiceSynthesize(t *testing.T) {
	o, layout := openVoiceFixture(t)

	var got execx.Command
	o.WithRunner(execx.RunFunc(func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		got = cmd
		out := argValue(cmd.Args, "--output")
		writeTestWAV(t, out, 0.2, 22050)
		// The upstream converter also drops its base-speaker pass.
		stem := strings.TrimSuffix(out, filepath.Ext(out))
		writeTestWAV(t, stem+"_base.wav", 0.2, 22050)
		return &execx.Result{ExitCode: 0}, nil
	}))

	req, err := o.Prepare(Payload{"text": "Tone transfer", "voice": "openvoice_alice"})
	require.NoError(t, err)
	res, err := o.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "scripts/cli_demo.py", got.Args[0])
	assert.Equal(t, "Tone transfer", argValue(got.Args, "--text"))
	assert.Equal(t, "English", argValue(got.Args, "--language"))
	assert.Equal(t, "default", argValue(got.Args, "--style"))
	assert.Equal(t, o.cfg.CkptRoot, argValue(got.Args, "--ckpt-root"))
	assert.Equal(t, "cpu", argValue(got.Args, "--device"))
	assert.Equal(t, "@TTSHub", argValue(got.Args, "--watermark-message"))
	assert.Equal(t, o.cfg.Root, got.Dir)

	assert.Equal(t, 22050, res.SampleRate)
	assert.Equal(t, "openvoice_alice", res.Voice)
	assert.Equal(t, "alice.wav", res.ReferenceName)
	assert.Equal(t, "alice.wav", res.ReferenceRelative)
	assert.Equal(t, "English", res.Language)

	// The base-speaker intermediate is cleaned up, the clip remains.
	stem := strings.TrimSuffix(res.Filename, filepath.Ext(res.Filename))
	assert.NoFileExists(t, filepath.Join(layout.BaseDir(), stem+"_base.wav"))
	assert.FileExists(t, filepath.Join(layout.BaseDir(), res.Filename))
}

func TestOpenVoiceSynthesizeFailures(t *testing.T) {
	o, _ := openVoiceFixture(t)

	t.Run("nonzero exit", func(t *testing.T) {
		o.WithRunner(execx.RunFunc(func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
			return &execx.Result{ExitCode: 1, Stderr: "missing checkpoint\n"}, nil
		}))
		req, err := o.Prepare(Payload{"text": "hello", "voice": "openvoice_alice"})
		require.NoError(t, err)
		_, err = o.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "OpenVoice synthesis failed: missing checkpoint", apperr.MessageOf(err))
	})

	t.Run("no output", func(t *testing.T) {
		o.WithRunner(execx.RunFunc(func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
			return &execx.Result{ExitCode: 0}, nil
		}))
		req, err := o.Prepare(Payload{"text": "hello", "voice": "openvoice_alice"})
		require.NoError(t, err)
		_, err = o.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, "OpenVoice did not produce an output file.", apperr.MessageOf(err))
	})
}
