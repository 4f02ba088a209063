package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/proxy"
)

func TestGetMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()
	ollama := proxy.NewOllama(config.OllamaConfig{URL: srv.URL}, testLogger())

	frontendDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(frontendDir, "index.html"), []byte("<html>"), 0o644))
	modelPath := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("onnx"), 0o644))

	cfg := &config.Config{}
	cfg.Server = config.ServerConfig{
		Host:        "0.0.0.0",
		Port:        8084,
		APIPrefix:   "api",
		FrontendDir: frontendDir,
	}
	cfg.Engines.Kokoro.ModelPath = modelPath

	registry := engine.NewRegistry(
		&stubEngine{id: "kokoro", available: true, catalog: kokoroStubCatalog()},
		&stubEngine{id: "chattts", available: false},
	)

	h := NewMetaHandler(cfg, registry, ollama, testLogger())
	out, err := h.GetMeta(context.Background(), &GetMetaInput{})
	require.NoError(t, err)
	body := out.Body

	assert.Equal(t, "api", body.APIPrefix)
	assert.Equal(t, 8084, body.Port)
	assert.True(t, body.HasModel)
	assert.False(t, body.HasVoices)
	assert.Equal(t, proxy.Categories(), body.RandomCategories)
	assert.Len(t, body.AccentGroups, 1)
	assert.Equal(t, 2, body.VoiceCount)
	assert.True(t, body.FrontendBundle.Available)
	assert.Equal(t, frontendDir, body.FrontendBundle.Path)
	assert.False(t, body.OllamaAvailable)
	assert.Equal(t, "kokoro", body.DefaultEngine)
	assert.Equal(t, "0.0.0.0", body.BindHost)
	assert.Empty(t, body.PublicHost)

	require.Len(t, body.Engines, 2)
	assert.Equal(t, "kokoro", body.Engines[0].ID)
	assert.True(t, body.Engines[0].Available)
	assert.Equal(t, "chattts", body.Engines[1].ID)
	assert.False(t, body.Engines[1].Available)

	require.NotNil(t, body.URLs.Local)
	assert.Equal(t, "http://127.0.0.1:8084/api", *body.URLs.Local)
	require.NotNil(t, body.URLs.Bind)
	assert.Equal(t, "http://0.0.0.0:8084/api", *body.URLs.Bind)
	assert.Nil(t, body.URLs.WG)
	// The LAN hint depends on the host having an outbound route.
	if body.LANIP == "" {
		assert.Nil(t, body.URLs.LAN)
	} else {
		require.NotNil(t, body.URLs.LAN)
		assert.Contains(t, *body.URLs.LAN, body.LANIP)
	}
}

func TestGetMetaOllamaAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3"}]}`))
	}))
	defer srv.Close()
	ollama := proxy.NewOllama(config.OllamaConfig{URL: srv.URL}, testLogger())

	cfg := &config.Config{}
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: 9000, APIPrefix: "api", PublicHost: "10.0.0.7"}

	registry := engine.NewRegistry(&stubEngine{id: "kokoro", available: true, catalog: kokoroStubCatalog()})
	h := NewMetaHandler(cfg, registry, ollama, testLogger())

	out, err := h.GetMeta(context.Background(), &GetMetaInput{})
	require.NoError(t, err)
	assert.True(t, out.Body.OllamaAvailable)
	assert.False(t, out.Body.HasModel)
	assert.False(t, out.Body.FrontendBundle.Available)
	require.NotNil(t, out.Body.URLs.WG)
	assert.Equal(t, "http://10.0.0.7:9000/api", *out.Body.URLs.WG)
}
