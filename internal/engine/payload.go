// Package engine hosts the TTS backends behind a single polymorphic
// interface plus the dispatcher that routes requests to them. Each
// backend validates its own payload fields, shells out through execx,
// and publishes finished clips into the output tree.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/ttshub/internal/apperr"
)

// Payload is a raw synthesis request body. The API is loosely typed:
// numbers arrive as JSON numbers or numeric strings, flags as anything
// truthy, and engines only look at the fields they understand. The
// getters centralize the coercion rules clients already rely on.
type Payload map[string]any

// Has reports whether the field is present, even as null.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String renders a field as text. Absent and null fields are "".
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Float coerces a numeric field. ok reports presence; err is set when a
// present value cannot be read as a number.
func (p Payload) Float(key string) (float64, bool, error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case float32:
		return float64(t), true, nil
	case int:
		return float64(t), true, nil
	case int64:
		return float64(t), true, nil
	case bool:
		if t {
			return 1, true, nil
		}
		return 0, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, true, err
		}
		return f, true, nil
	}
	return 0, true, fmt.Errorf("not a number: %T", v)
}

// Int coerces an integral field. Fractional JSON numbers truncate.
func (p Payload) Int(key string) (int64, bool, error) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true, nil
	case int:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, true, err
		}
		return n, true, nil
	}
	return 0, true, fmt.Errorf("not an integer: %T", v)
}

// Bool reads a flag with truthiness semantics; def applies only when
// the field is absent (an explicit null reads as false).
func (p Payload) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	return Truthy(v)
}

// Truthy reports whether a decoded JSON value counts as set: true,
// non-empty strings and collections, nonzero numbers.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Base is the normalized request core every engine shares.
type Base struct {
	Text        string
	Voice       string
	Language    string
	Speed       float64
	TrimSilence bool
}

// ValidateBase applies the shared request rules: text is required,
// voice is required when the engine demands one, speed must be numeric
// (default 1.0), language is lower-cased (default "en-us"), and the
// trim flag is accepted under both trimSilence and trim_silence
// (default true).
func ValidateBase(p Payload, requireVoice bool) (Base, error) {
	text := strings.TrimSpace(p.String("text"))
	if text == "" {
		return Base{}, apperr.BadRequest("Field 'text' is required.")
	}

	voice := strings.TrimSpace(p.String("voice"))
	if requireVoice && voice == "" {
		return Base{}, apperr.BadRequest("Field 'voice' is required.")
	}

	speed := 1.0
	if v, ok, err := p.Float("speed"); err != nil {
		return Base{}, apperr.BadRequest("Field 'speed' must be numeric.")
	} else if ok {
		speed = v
	}

	language := strings.ToLower(strings.TrimSpace(p.String("language")))
	if language == "" {
		language = "en-us"
	}

	trim := true
	if p.Has("trimSilence") {
		trim = p.Bool("trimSilence", true)
	} else if p.Has("trim_silence") {
		trim = p.Bool("trim_silence", true)
	}

	return Base{
		Text:        text,
		Voice:       voice,
		Language:    language,
		Speed:       speed,
		TrimSilence: trim,
	}, nil
}
