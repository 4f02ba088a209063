package duration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadSince reports a since expression that is neither a look-back
// window nor a timestamp.
var ErrBadSince = errors.New("duration: not a look-back window or timestamp")

// sinceLayouts are the absolute timestamp forms ParseSince accepts, most
// specific first. Layouts without a zone are taken as local time.
var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseSince resolves a history cutoff: either a look-back window such as
// "24h", "7d" or "2 weeks" (subtracted from now), or an absolute timestamp
// in RFC3339 or date-only form.
func ParseSince(s string) (time.Time, error) {
	return ParseSinceFrom(s, time.Now())
}

// ParseSinceFrom is ParseSince with an explicit now, for deterministic
// cutoffs in tests.
func ParseSinceFrom(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrBadSince)
	}

	if d, err := Parse(s); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("%w: window %q is not positive", ErrBadSince, s)
		}
		return now.Add(-d), nil
	}

	for _, layout := range sinceLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrBadSince, s)
}
