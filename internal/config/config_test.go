package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig dumps YAML to a scratch file and returns its path.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ttshub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

// baseline returns the default configuration, which must itself pass
// validation.
func baseline(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:7860", cfg.Server.Address())
		assert.Equal(t, "/api", cfg.Server.NormalizedAPIPrefix())
		// Renders and model pulls run for minutes and SSE relays stay
		// open as long as the client listens, so both server timeouts
		// default to unlimited.
		assert.Zero(t, cfg.Server.ReadTimeout)
		assert.Zero(t, cfg.Server.WriteTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "data/ttshub.db", cfg.Database.DSN)
		assert.Equal(t, 6, cfg.Database.MaxOpenConns)

		assert.Equal(t, "out", cfg.Storage.OutputDir)
		assert.Equal(t, ByteSize(500*1024*1024), cfg.Storage.MaxUpload)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)

		assert.Equal(t, "python3", cfg.Engines.XTTS.Python)
		assert.Equal(t, []string{"wav", "mp3", "flac", "ogg"}, cfg.Engines.XTTS.Formats)
		assert.InDelta(t, 5.0, cfg.Engines.XTTS.MinRefSeconds, 1e-9)
		assert.Equal(t, "@MyShell", cfg.Engines.OpenVoice.Watermark)
		assert.Equal(t, "local", cfg.Engines.ChatTTS.Source)
		assert.Equal(t, 300*time.Second, cfg.Engines.ChatTTS.Timeout)

		assert.Equal(t, "base", cfg.STT.Model)
		assert.True(t, cfg.STT.AllowStub)

		assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
		assert.True(t, cfg.Ollama.AllowCLI)
		assert.Equal(t, "http://127.0.0.1:7861", cfg.DrawThings.URL)

		assert.Equal(t, Duration(14*24*time.Hour), cfg.Media.CacheTTL)
		assert.Equal(t, "17 * * * *", cfg.Media.ReapSchedule)
		assert.Equal(t, 250, cfg.Media.DefaultMarginMs)
		assert.Equal(t, 12, cfg.Media.DefaultFadeMs)
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 8111
  shutdown_timeout: 25s
  cors_origins: ["http://studio.local:5173"]
storage:
  output_dir: /srv/ttshub/out
  max_upload: 2GB
logging:
  level: debug
engines:
  chattts:
    source: huggingface
    timeout: 10m
stt:
  model: large-v3
  allow_stub: false
media:
  cache_ttl: 48h
  default_fade_ms: 30
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:8111", cfg.Server.Address())
		assert.Equal(t, 25*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, []string{"http://studio.local:5173"}, cfg.Server.CORSOrigins)
		assert.Equal(t, "/srv/ttshub/out", cfg.Storage.OutputDir)
		assert.Equal(t, ByteSize(2*1024*1024*1024), cfg.Storage.MaxUpload)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "huggingface", cfg.Engines.ChatTTS.Source)
		assert.Equal(t, 10*time.Minute, cfg.Engines.ChatTTS.Timeout)
		assert.Equal(t, "large-v3", cfg.STT.Model)
		assert.False(t, cfg.STT.AllowStub)
		assert.Equal(t, Duration(48*time.Hour), cfg.Media.CacheTTL)
		assert.Equal(t, 30, cfg.Media.DefaultFadeMs)
		// Sections the file never mentions keep their defaults.
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("TTSHUB_SERVER_PORT", "7870")
		t.Setenv("TTSHUB_DATABASE_DRIVER", "postgres")
		t.Setenv("TTSHUB_DATABASE_DSN", "postgres://ttshub@localhost/ttshub")
		t.Setenv("TTSHUB_STORAGE_MAX_UPLOAD", "64MB")
		t.Setenv("TTSHUB_MEDIA_CACHE_TTL", "7d")
		t.Setenv("TTSHUB_OLLAMA_ALLOW_CLI", "false")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 7870, cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, "postgres://ttshub@localhost/ttshub", cfg.Database.DSN)
		// The text-unmarshal hook applies to env values too, so sizes
		// and loose durations work outside the config file.
		assert.Equal(t, ByteSize(64*1024*1024), cfg.Storage.MaxUpload)
		assert.Equal(t, Duration(7*24*time.Hour), cfg.Media.CacheTTL)
		assert.False(t, cfg.Ollama.AllowCLI)
	})

	t.Run("environment beats file", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 7860\nlogging:\n  level: warn\n")
		t.Setenv("TTSHUB_LOGGING_LEVEL", "error")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Logging.Level)
		assert.Equal(t, 7860, cfg.Server.Port)
	})

	t.Run("file that fails validation", func(t *testing.T) {
		path := writeConfig(t, "logging:\n  level: loud\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := writeConfig(t, "server: [this is not\n  a mapping\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string // empty means the config stays valid
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"postgres accepted", func(c *Config) { c.Database.Driver = "postgres" }, ""},
		{"mysql accepted", func(c *Config) { c.Database.Driver = "mysql" }, ""},
		{"highest port accepted", func(c *Config) { c.Server.Port = 65535 }, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port beyond range", func(c *Config) { c.Server.Port = 65536 }, "server.port"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongodb" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"missing output dir", func(c *Config) { c.Storage.OutputDir = "" }, "storage.output_dir"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "logfmt" }, "logging.format"},
		{"negative cache ttl", func(c *Config) { c.Media.CacheTTL = Duration(-time.Hour) }, "media.cache_ttl"},
		{"cleanup interval too tight", func(c *Config) { c.Media.CleanupInterval = 30 * time.Second }, "media.cleanup_interval"},
		{"negative margin", func(c *Config) { c.Media.DefaultMarginMs = -5 }, "media.default_margin_ms"},
		{"zero reference minimum", func(c *Config) { c.Engines.XTTS.MinRefSeconds = 0 }, "engines.xtts"},
		{"reference maximum below minimum", func(c *Config) {
			c.Engines.XTTS.MinRefSeconds = 20
			c.Engines.XTTS.MaxRefSeconds = 10
		}, "engines.xtts"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseline(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestServerAddress(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 9090}
	assert.Equal(t, "0.0.0.0:9090", cfg.Address())
}

func TestNormalizedAPIPrefix(t *testing.T) {
	for raw, want := range map[string]string{
		"api":      "/api",
		"/api":     "/api",
		"api/":     "/api",
		"/api/v2/": "/api/v2",
		"":         "",
		"/":        "",
	} {
		cfg := ServerConfig{APIPrefix: raw}
		assert.Equal(t, want, cfg.NormalizedAPIPrefix(), "prefix %q", raw)
	}
}

func TestFavoritesFile(t *testing.T) {
	explicit := StorageConfig{OutputDir: "out", FavoritesPath: "/etc/ttshub/favorites.json"}
	assert.Equal(t, "/etc/ttshub/favorites.json", explicit.FavoritesFile())

	implicit := StorageConfig{OutputDir: "out"}
	got := implicit.FavoritesFile()
	assert.Equal(t, "favorites.json", filepath.Base(got))
	if home, err := os.UserHomeDir(); err == nil {
		assert.Equal(t, filepath.Join(home, ".ttshub", "favorites.json"), got)
	}
}
