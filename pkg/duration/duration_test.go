package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		// Native Go syntax still works
		{"45s", 45 * time.Second},
		{"90m", 90 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"720h", 720 * time.Hour},
		{"100ms", 100 * time.Millisecond},

		// Extended units
		{"1d", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1mo", 30 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
		{"1w2d12h", (7*24 + 2*24 + 12) * time.Hour},

		// Spelled-out units and whitespace
		{"30 days", 30 * 24 * time.Hour},
		{"2 weeks", 14 * 24 * time.Hour},
		{"3 hours", 3 * time.Hour},
		{"15 minutes", 15 * time.Minute},
		{"1 month", 30 * 24 * time.Hour},
		{" 24h ", 24 * time.Hour},
		{"1h 30m", 90 * time.Minute},

		// Fractions and signs
		{"1.5d", 36 * time.Hour},
		{"0.5h", 30 * time.Minute},
		{"-7d", -7 * 24 * time.Hour},
		{"-30 days", -30 * 24 * time.Hour},
		{"+1h", time.Hour},

		// Zero
		{"0", 0},
		{"0s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"soon",
		"12", // number without unit
		"h",  // unit without number
		"1x", // unknown unit
		"one day",
		"1h ago",
		"--1h",
		"1h-30m",
	}

	for _, in := range bad {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestParseOverflow(t *testing.T) {
	for _, in := range []string{"300y", "9999999999999999999h"} {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "out of range")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Minute, "1h30m"},
		{25 * time.Hour, "1d1h"},
		{8 * 24 * time.Hour, "1w1d"},
		{30 * 24 * time.Hour, "1mo"},
		{400 * 24 * time.Hour, "1y1mo5d"},
		{time.Hour + 10*time.Second, "1h10s"},
		{1500 * time.Microsecond, "1ms500µs"},
		{-90 * time.Minute, "-1h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}
