// Package bytesize parses and formats byte counts the way people write
// them in config files: "500KB", "1.5 GB", "1024". Units are binary
// (1024-based) whether spelled "MB" or "MiB".
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	b  Size = 1
	kb      = 1024 * b
	mb      = 1024 * kb
	gb      = 1024 * mb
	tb      = 1024 * gb
	pb      = 1024 * tb
)

// units maps accepted unit spellings, lowercased, to their byte count.
// A missing unit means plain bytes.
var units = map[string]Size{
	"": b, "b": b, "byte": b, "bytes": b,
	"k": kb, "kb": kb, "kib": kb,
	"m": mb, "mb": mb, "mib": mb,
	"g": gb, "gb": gb, "gib": gb,
	"t": tb, "tb": tb, "tib": tb,
	"p": pb, "pb": pb, "pib": pb,
}

// Parse reads a size like "5MB", "1.5 GB", or "1024". Whitespace
// around and between number and unit is ignored.
func Parse(s string) (Size, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("bytesize: empty input")
	}

	split := len(in)
	for i := 0; i < len(in); i++ {
		if c := in[i]; (c < '0' || c > '9') && c != '.' {
			split = i
			break
		}
	}

	value, err := strconv.ParseFloat(in[:split], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number in %q", s)
	}

	unit, ok := units[strings.ToLower(strings.TrimSpace(in[split:]))]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit in %q", s)
	}

	total := value * float64(unit)
	if total > math.MaxInt64 {
		return 0, fmt.Errorf("bytesize: %q out of range", s)
	}
	return Size(total), nil
}

// scales orders the units Format considers, largest first.
var scales = []struct {
	span   Size
	suffix string
}{
	{pb, "PB"},
	{tb, "TB"},
	{gb, "GB"},
	{mb, "MB"},
	{kb, "KB"},
}

// Format renders a size with the largest unit that keeps the value at
// or above one, trimming to at most two decimals: "5MB", "1.5GB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	var sign string
	if s < 0 {
		sign, s = "-", -s
	}
	for _, sc := range scales {
		if s >= sc.span {
			return sign + trimmedFloat(float64(s)/float64(sc.span)) + sc.suffix
		}
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

func trimmedFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}
