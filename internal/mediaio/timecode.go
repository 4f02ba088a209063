package mediaio

import (
	"strconv"
	"strings"
)

// ParseTimecode reads a trim boundary from a form or JSON value.
// Accepted shapes: a non-negative number of seconds, "m:s", or "h:m:s";
// second fields may carry decimals. Anything else, negative numbers
// included, reports false so the caller skips the trim.
func ParseTimecode(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		if t < 0 {
			return 0, false
		}
		return t, true
	case float32:
		return ParseTimecode(float64(t))
	case int:
		return ParseTimecode(float64(t))
	case int64:
		return ParseTimecode(float64(t))
	case string:
		return parseTimecodeString(t)
	}
	return 0, false
}

func parseTimecodeString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		fields := make([]float64, 0, len(parts))
		for _, part := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return 0, false
			}
			fields = append(fields, f)
		}
		switch len(fields) {
		case 2:
			return clampTimecode(fields[0]*60 + fields[1]), true
		case 3:
			return clampTimecode(fields[0]*3600 + fields[1]*60 + fields[2]), true
		}
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return clampTimecode(f), true
}

func clampTimecode(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
