// Package cmd implements the ttshub command-line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/observability"
	"github.com/jmylchreest/ttshub/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "ttshub",
	Short:   "Local text-to-speech studio service",
	Version: version.Short(),
	Long: `ttshub is a local media-studio service for text-to-speech work. It
dispatches synthesis across several engines (kokoro, xtts, openvoice,
chattts), maintains voice catalogs with cached previews, edits spoken
audio by replacing transcript regions, and relays requests to local
Ollama and DrawThings instances.

Everything runs on one host against local model checkouts; no cloud
services are involved.`,
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Assigned here rather than in the rootCmd literal: initLogging reads
	// rootCmd's flag set, which does not exist until the var initializer
	// has run.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// None of these bind to viper. Binding would let a flag's default
	// value shadow env and config-file settings, so initLogging and
	// runServe overlay a flag only when Changed reports the user set it.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ttshub.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig seeds viper with defaults, then layers the config file and
// TTSHUB_* environment variables over them.
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ttshub")
		v.SetConfigType("yaml")
		for _, dir := range []string{".", "$HOME/.config/ttshub", "/etc/ttshub"} {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("TTSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; defaults and env cover everything.
	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
}

// initLogging builds the process logger before any subcommand runs.
// Precedence, highest first: explicit --log-level/--log-format flags,
// TTSHUB_LOGGING_* environment variables, the config file, then the
// built-in info/json defaults.
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      loggingSetting("log-level", "logging.level", "info"),
		Format:     loggingSetting("log-format", "logging.format", "json"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// loggingSetting resolves one logging option. Viper already ranks env
// over config file over default; an explicitly set CLI flag beats all
// three.
func loggingSetting(flag, viperKey, fallback string) string {
	val := viper.GetString(viperKey)
	if rootCmd.PersistentFlags().Changed(flag) {
		val, _ = rootCmd.PersistentFlags().GetString(flag)
	}
	if val == "" {
		val = fallback
	}
	return strings.ToLower(val)
}
