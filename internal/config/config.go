// Package config provides configuration management for ttshub using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 7860
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultEngineTimeout   = 120 * time.Second
	defaultSTTTimeout      = 10 * time.Minute
	defaultMaxUploadBytes  = 500 * 1024 * 1024
	defaultCacheTTL        = 14 * 24 * time.Hour
	defaultCleanupInterval = time.Hour
	defaultMarginMs        = 250
	defaultFadeMs          = 12
	defaultMinRefSeconds   = 5.0
	defaultMaxRefSeconds   = 30.0
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engines    EnginesConfig    `mapstructure:"engines"`
	STT        STTConfig        `mapstructure:"stt"`
	Ollama     OllamaConfig     `mapstructure:"ollama"`
	DrawThings DrawThingsConfig `mapstructure:"drawthings"`
	Media      MediaConfig      `mapstructure:"media"`
	Favorites  FavoritesConfig  `mapstructure:"favorites"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	PublicHost      string        `mapstructure:"public_host"`
	FrontendDir     string        `mapstructure:"frontend_dir"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration for the clip ledger.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// OutputDir is the root for all generated artifacts: clips, previews,
	// media-edit jobs, the ingest cache, and images.
	OutputDir string `mapstructure:"output_dir"`
	// FavoritesPath is the favorites JSON document location.
	FavoritesPath string `mapstructure:"favorites_path"`
	// MaxUpload caps multipart upload size.
	// Supports human-readable values like "500MB", "1GB", or raw byte counts.
	MaxUpload ByteSize `mapstructure:"max_upload"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EnginesConfig groups per-engine settings.
type EnginesConfig struct {
	Kokoro    KokoroConfig    `mapstructure:"kokoro"`
	XTTS      XTTSConfig      `mapstructure:"xtts"`
	OpenVoice OpenVoiceConfig `mapstructure:"openvoice"`
	ChatTTS   ChatTTSConfig   `mapstructure:"chattts"`
}

// KokoroConfig configures the bundled voice-bank engine.
type KokoroConfig struct {
	ModelPath  string        `mapstructure:"model_path"`
	VoicesPath string        `mapstructure:"voices_path"`
	Command    []string      `mapstructure:"command"` // runner argv (empty = auto-detect "kokoro-cli")
	Timeout    time.Duration `mapstructure:"timeout"`
}

// XTTSConfig configures the cloning engine (subprocess or remote service).
type XTTSConfig struct {
	ServiceDir    string        `mapstructure:"service_dir"`
	Python        string        `mapstructure:"python"`
	VoiceDir      string        `mapstructure:"voice_dir"`
	ServerURL     string        `mapstructure:"server_url"` // non-empty switches to remote mode
	Timeout       time.Duration `mapstructure:"timeout"`
	MinRefSeconds float64       `mapstructure:"min_ref_seconds"`
	MaxRefSeconds float64       `mapstructure:"max_ref_seconds"`
	Formats       []string      `mapstructure:"formats"` // accepted reference extensions
}

// OpenVoiceConfig configures the style-transfer cloning engine.
type OpenVoiceConfig struct {
	Root         string        `mapstructure:"root"`
	Python       string        `mapstructure:"python"`
	CkptRoot     string        `mapstructure:"ckpt_root"`
	ReferenceDir string        `mapstructure:"reference_dir"`
	Watermark    string        `mapstructure:"watermark"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ChatTTSConfig configures the dialogue engine.
type ChatTTSConfig struct {
	Root      string        `mapstructure:"root"`
	Python    string        `mapstructure:"python"`
	PresetDir string        `mapstructure:"preset_dir"`
	Source    string        `mapstructure:"source"` // asset source passed to the runner
	Timeout   time.Duration `mapstructure:"timeout"`
}

// STTConfig configures the speech-to-text runner.
type STTConfig struct {
	Command   string        `mapstructure:"command"` // runner binary (empty = auto-detect)
	Model     string        `mapstructure:"model"`
	Device    string        `mapstructure:"device"`
	AllowStub bool          `mapstructure:"allow_stub"` // evenly spaced words when no runner is present
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OllamaConfig configures the local LLM proxy.
type OllamaConfig struct {
	URL      string `mapstructure:"url"`
	Model    string `mapstructure:"model"`
	AllowCLI bool   `mapstructure:"allow_cli"` // permit `ollama rm` fallback on delete
}

// DrawThingsConfig configures the image generation proxy.
type DrawThingsConfig struct {
	URL string `mapstructure:"url"`
}

// MediaConfig holds media-edit pipeline configuration.
type MediaConfig struct {
	// CacheTTL bounds the age of ingest-cache entries and finished job dirs.
	// Supports human-readable values like "14d", "336h".
	CacheTTL Duration `mapstructure:"cache_ttl"`
	// CleanupInterval gates how often opportunistic reaping may run.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// ReapSchedule is a 5-field cron expression for scheduled reaping.
	ReapSchedule    string `mapstructure:"reap_schedule"`
	DefaultMarginMs int    `mapstructure:"default_margin_ms"`
	DefaultFadeMs   int    `mapstructure:"default_fade_ms"`
}

// FavoritesConfig holds favorites API protection.
type FavoritesConfig struct {
	APIKey string `mapstructure:"api_key" masq:"secret"`
}

// FFmpegConfig holds external media tool configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
	YtdlpPath  string `mapstructure:"ytdlp_path"`  // Path to yt-dlp binary (empty = auto-detect)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TTSHUB_ and use underscores for nesting.
// Example: TTSHUB_SERVER_PORT=7860.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ttshub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ttshub")
		v.AddConfigPath("/etc/ttshub")
	}

	// Environment variable settings
	v.SetEnvPrefix("TTSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// The extra TextUnmarshaller hook lets ByteSize and Duration fields
	// accept human-readable values like "500MB" and "14d" from files and
	// environment variables.
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.api_prefix", "api")
	v.SetDefault("server.public_host", "")
	v.SetDefault("server.frontend_dir", "")
	// Zero read/write timeouts: synthesis renders and model pulls run for
	// minutes, and SSE relays stay open as long as the client listens.
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/ttshub.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.output_dir", "out")
	v.SetDefault("storage.favorites_path", "")
	v.SetDefault("storage.max_upload", defaultMaxUploadBytes)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Engine defaults
	v.SetDefault("engines.kokoro.model_path", "")
	v.SetDefault("engines.kokoro.voices_path", "")
	v.SetDefault("engines.kokoro.command", []string{})
	v.SetDefault("engines.kokoro.timeout", defaultEngineTimeout)
	v.SetDefault("engines.xtts.service_dir", "")
	v.SetDefault("engines.xtts.python", "python3")
	v.SetDefault("engines.xtts.voice_dir", "")
	v.SetDefault("engines.xtts.server_url", "")
	v.SetDefault("engines.xtts.timeout", defaultEngineTimeout)
	v.SetDefault("engines.xtts.min_ref_seconds", defaultMinRefSeconds)
	v.SetDefault("engines.xtts.max_ref_seconds", defaultMaxRefSeconds)
	v.SetDefault("engines.xtts.formats", []string{"wav", "mp3", "flac", "ogg"})
	v.SetDefault("engines.openvoice.root", "")
	v.SetDefault("engines.openvoice.python", "python3")
	v.SetDefault("engines.openvoice.ckpt_root", "")
	v.SetDefault("engines.openvoice.reference_dir", "")
	v.SetDefault("engines.openvoice.watermark", "@MyShell")
	v.SetDefault("engines.openvoice.timeout", 180*time.Second)
	v.SetDefault("engines.chattts.root", "")
	v.SetDefault("engines.chattts.python", "python3")
	v.SetDefault("engines.chattts.preset_dir", "")
	v.SetDefault("engines.chattts.source", "local")
	v.SetDefault("engines.chattts.timeout", 300*time.Second)

	// STT defaults
	v.SetDefault("stt.command", "")
	v.SetDefault("stt.model", "base")
	v.SetDefault("stt.device", "auto")
	v.SetDefault("stt.allow_stub", true)
	v.SetDefault("stt.timeout", defaultSTTTimeout)

	// Ollama defaults
	v.SetDefault("ollama.url", "http://127.0.0.1:11434")
	v.SetDefault("ollama.model", "phi3:latest")
	v.SetDefault("ollama.allow_cli", true)

	// DrawThings defaults
	v.SetDefault("drawthings.url", "http://127.0.0.1:7861")

	// Media defaults
	v.SetDefault("media.cache_ttl", defaultCacheTTL)
	v.SetDefault("media.cleanup_interval", defaultCleanupInterval)
	v.SetDefault("media.reap_schedule", "17 * * * *")
	v.SetDefault("media.default_margin_ms", defaultMarginMs)
	v.SetDefault("media.default_fade_ms", defaultFadeMs)

	// Favorites defaults
	v.SetDefault("favorites.api_key", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.ytdlp_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.OutputDir == "" {
		return fmt.Errorf("storage.output_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Media validation
	if c.Media.CacheTTL < 0 {
		return fmt.Errorf("media.cache_ttl must not be negative")
	}
	if c.Media.CleanupInterval < time.Minute {
		return fmt.Errorf("media.cleanup_interval must be at least 1m")
	}
	if c.Media.DefaultMarginMs < 0 {
		return fmt.Errorf("media.default_margin_ms must not be negative")
	}

	// XTTS validation
	if c.Engines.XTTS.MinRefSeconds <= 0 || c.Engines.XTTS.MaxRefSeconds <= c.Engines.XTTS.MinRefSeconds {
		return fmt.Errorf("engines.xtts reference bounds must satisfy 0 < min < max")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NormalizedAPIPrefix returns the API prefix with exactly one leading slash
// and no trailing slash, e.g. "/api".
func (c *ServerConfig) NormalizedAPIPrefix() string {
	p := strings.Trim(c.APIPrefix, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// FavoritesFile returns the favorites document path, defaulting to
// ~/.ttshub/favorites.json when unset.
func (c *StorageConfig) FavoritesFile() string {
	if c.FavoritesPath != "" {
		return c.FavoritesPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(c.OutputDir, "favorites.json")
	}
	return filepath.Join(home, ".ttshub", "favorites.json")
}
