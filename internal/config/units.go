package config

import (
	"time"

	"github.com/jmylchreest/ttshub/pkg/bytesize"
	"github.com/jmylchreest/ttshub/pkg/duration"
)

// The viper decode hook feeds string settings through
// encoding.TextUnmarshaler, so these wrappers are what let config
// fields say "500MB" or "14d" in files and environment variables.

// ByteSize is a byte count accepting human-readable sizes. A bare
// number is taken as bytes.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := bytesize.Parse(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }

// String renders with the largest fitting unit: "500MB", "1.5GB".
func (b ByteSize) String() string { return bytesize.Format(bytesize.Size(b)) }

// Duration is a time.Duration accepting the loose syntax in
// pkg/duration, where "14d" and "2 weeks" are valid.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := duration.Parse(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the plain time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String renders with the largest fitting units: "2w", "1d12h".
func (d Duration) String() string { return duration.Format(time.Duration(d)) }
