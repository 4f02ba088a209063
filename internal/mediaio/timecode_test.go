package mediaio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTimecode(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   float64
		wantOK bool
	}{
		{"nil", nil, 0, false},
		{"seconds float", 12.5, 12.5, true},
		{"seconds int", 90, 90, true},
		{"zero", 0.0, 0, true},
		{"negative number", -3.0, 0, false},
		{"plain string", "42", 42, true},
		{"decimal string", "3.75", 3.75, true},
		{"negative string clamps", "-5", 0, true},
		{"minutes seconds", "1:30", 90, true},
		{"minutes decimal seconds", "2:07.5", 127.5, true},
		{"hours minutes seconds", "1:02:03", 3723, true},
		{"spaced fields", " 0:45 ", 45, true},
		{"too many fields", "1:2:3:4", 0, false},
		{"junk field", "1:xx", 0, false},
		{"empty string", "", 0, false},
		{"blank string", "   ", 0, false},
		{"unparsable", "soon", 0, false},
		{"unsupported type", []string{"1"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimecode(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
