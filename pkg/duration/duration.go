// Package duration parses and formats durations in the loose style
// people write in config files and query strings. On top of Go's native
// syntax it understands day, week, month, and year units, spelled-out
// unit names, and whitespace between value and unit: "90m", "1w2d",
// "30 days", and "2 weeks" all parse.
package duration

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Calendar-free approximations; a month is 30 days, a year 365.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// unitTable maps every accepted unit spelling to its length. Spellings
// are matched after lowercasing.
var unitTable = map[string]time.Duration{
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,

	"us": time.Microsecond, "µs": time.Microsecond, "μs": time.Microsecond,
	"micro": time.Microsecond, "micros": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,

	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,

	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,

	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,

	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,

	"d": Day, "day": Day, "days": Day,

	"w": Week, "wk": Week, "wks": Week,
	"week": Week, "weeks": Week,

	"mo": Month, "mos": Month,
	"month": Month, "months": Month,

	"y": Year, "yr": Year, "yrs": Year,
	"year": Year, "years": Year,
}

// tokenRe matches one value-unit pair. Unit runs are maximal, so "mo"
// never splits into minutes plus a stray letter.
var tokenRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([a-zµμ]+)`)

// Parse reads a duration like "45s", "1h30m", "7d", "2 weeks", or
// "1w2d12h". A leading sign applies to the whole value. Fractions are
// allowed ("1.5d" is 36 hours).
func Parse(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("duration: empty input")
	}

	neg := false
	switch in[0] {
	case '-':
		neg = true
		in = strings.TrimSpace(in[1:])
	case '+':
		in = strings.TrimSpace(in[1:])
	}
	if in == "0" {
		return 0, nil
	}

	tokens := tokenRe.FindAllStringSubmatch(in, -1)
	if len(tokens) == 0 || strings.TrimSpace(tokenRe.ReplaceAllString(in, "")) != "" {
		return 0, fmt.Errorf("duration: cannot parse %q", s)
	}

	var total time.Duration
	for _, tok := range tokens {
		unit, ok := unitTable[strings.ToLower(tok[2])]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", tok[2], s)
		}
		add, err := scale(tok[1], unit)
		if err != nil {
			return 0, fmt.Errorf("duration: %q out of range", s)
		}
		if total > math.MaxInt64-add {
			return 0, fmt.Errorf("duration: %q out of range", s)
		}
		total += add
	}

	if neg {
		total = -total
	}
	return total, nil
}

// scale multiplies a numeric token by its unit. Integer values stay on
// integer math so large spans come out exact.
func scale(num string, unit time.Duration) (time.Duration, error) {
	if !strings.Contains(num, ".") {
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, err
		}
		if n != 0 && n > int64(math.MaxInt64)/int64(unit) {
			return 0, fmt.Errorf("value %s overflows", num)
		}
		return time.Duration(n) * unit, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if f*float64(unit) > math.MaxInt64 {
		return 0, fmt.Errorf("value %s overflows", num)
	}
	return time.Duration(f * float64(unit)), nil
}

// formatUnits orders the units Format emits, largest first.
var formatUnits = []struct {
	span time.Duration
	name string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format renders a duration with the largest units that fit, omitting
// zero components: 90 minutes is "1h30m", 8 days is "1w1d".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	for _, u := range formatUnits {
		if n := d / u.span; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.span
		}
	}
	return b.String()
}
