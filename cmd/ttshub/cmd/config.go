package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect ttshub configuration",
	Long:  "Commands for inspecting ttshub configuration.",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the default configuration as YAML",
	Long: `Print every configuration option with its default value, ready to
redirect into a config file:

  ttshub config dump > ttshub.yaml

Settings resolve from, in rising priority: built-in defaults, the
config file, TTSHUB_* environment variables, and command-line flags.
Environment names join nested keys with underscores, so server.port
becomes TTSHUB_SERVER_PORT.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

const dumpHeader = `# ttshub configuration
#
# Every value below is a default. Durations read like 30s, 5m, 1h or
# 14d; sizes like 5MB or 1GB. Any key can be overridden through the
# environment: TTSHUB_SERVER_PORT, TTSHUB_DATABASE_DSN,
# TTSHUB_STORAGE_OUTPUT_DIR, TTSHUB_LOGGING_LEVEL, and so on.

`

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out, err := yaml.Marshal(configTree(reflect.ValueOf(cfg).Elem()))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Print(dumpHeader + string(out))
	return nil
}

// configTree flattens a config struct into the map yaml.Marshal renders,
// replacing duration and size values with the spellings the loader
// accepts back.
func configTree(val reflect.Value) map[string]any {
	tree := make(map[string]any, val.NumField())
	for i := 0; i < val.NumField(); i++ {
		name := keyFor(val.Type().Field(i))
		field := val.Field(i)

		switch v := field.Interface().(type) {
		case time.Duration:
			tree[name] = duration.Format(v)
		case config.Duration:
			tree[name] = v.String()
		case config.ByteSize:
			tree[name] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				tree[name] = configTree(field)
			} else {
				tree[name] = v
			}
		}
	}
	return tree
}

// keyFor prefers the mapstructure tag, which is what the loader reads.
func keyFor(f reflect.StructField) string {
	if tag := f.Tag.Get("mapstructure"); tag != "" {
		return tag
	}
	return strings.ToLower(f.Name)
}
