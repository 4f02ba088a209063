package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS([]float32{}))

	constant := []float32{0.5, 0.5, -0.5, -0.5}
	assert.InDelta(t, 0.5, RMS(constant), 1e-6)

	tone := sine(24000, 440, 24000, 0.5)
	assert.InDelta(t, 0.5/1.41421356, RMS(tone), 0.01)
}

func TestPeak(t *testing.T) {
	assert.Zero(t, Peak(nil))
	assert.InDelta(t, 0.8, Peak([]float32{0.1, -0.8, 0.3}), 1e-6)
}

func TestGainFromDB(t *testing.T) {
	assert.InDelta(t, 1.0, GainFromDB(0), 1e-9)
	assert.InDelta(t, 0.501187, GainFromDB(-6), 1e-5)
	assert.InDelta(t, 0.1, GainFromDB(-20), 1e-9)
	assert.InDelta(t, 2.0, GainFromDB(6.0206), 1e-4)
}

func TestPeakNormalize(t *testing.T) {
	samples := []float32{0.1, -0.2}
	PeakNormalize(samples, 0.95)

	assert.InDelta(t, 0.475, samples[0], 1e-6)
	assert.InDelta(t, -0.95, samples[1], 1e-6)

	// Silence stays silent.
	silent := []float32{0, 0, 0}
	PeakNormalize(silent, 0.95)
	assert.Equal(t, []float32{0, 0, 0}, silent)
}

func TestFadeOut(t *testing.T) {
	samples := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	FadeOut(samples, 4)

	assert.Equal(t, float32(1), samples[3])
	assert.InDelta(t, 0.75, samples[4], 1e-6)
	assert.InDelta(t, 0.5, samples[5], 1e-6)
	assert.InDelta(t, 0.25, samples[6], 1e-6)
	assert.Zero(t, samples[7])

	// Fade longer than the clip leaves it unchanged.
	short := []float32{1, 1}
	FadeOut(short, 5)
	assert.Equal(t, []float32{1, 1}, short)
}

func TestTrimSilence(t *testing.T) {
	rate := 24000
	samples := make([]float32, 0, 2500)
	samples = append(samples, make([]float32, 1000)...)
	for i := 0; i < 500; i++ {
		samples = append(samples, 0.5)
	}
	samples = append(samples, make([]float32, 1000)...)

	// 40 dB below a 0.5 peak is 0.005; 10 ms pads keep 240 samples each side.
	out := TrimSilence(samples, rate, 40, 10, 10)
	require.Len(t, out, 980)
	assert.Equal(t, float32(0.5), out[240])
	assert.Zero(t, out[0])
}

func TestTrimSilence_Degenerate(t *testing.T) {
	assert.Empty(t, TrimSilence(nil, 24000, 40, 0, 0))
	assert.Empty(t, TrimSilence(make([]float32, 100), 24000, 40, 0, 0))

	// Signal everywhere: nothing removed.
	loud := []float32{0.5, 0.5, 0.5}
	assert.Equal(t, loud, TrimSilence(loud, 24000, 40, 0, 0))
}

func TestConcatWithGap(t *testing.T) {
	rate := 24000
	a := make([]float32, 100)
	b := make([]float32, 200)
	c := make([]float32, 50)

	out := ConcatWithGap([][]float32{a, b, c}, rate, 0.01)
	assert.Len(t, out, 100+240+200+240+50)

	// Single clip has no gap.
	assert.Len(t, ConcatWithGap([][]float32{a}, rate, 1.0), 100)

	// No clips is empty.
	assert.Empty(t, ConcatWithGap(nil, rate, 1.0))
}

func TestResample(t *testing.T) {
	in := sine(2400, 440, 24000, 0.5)

	up := Resample(in, 24000, 48000)
	assert.InDelta(t, 4800, len(up), 2)
	assert.Equal(t, in[0], up[0])
	assert.InDelta(t, in[len(in)-1], up[len(up)-1], 1e-4)

	down := Resample(in, 24000, 12000)
	assert.InDelta(t, 1200, len(down), 2)

	// Same rate copies.
	same := Resample(in, 24000, 24000)
	assert.Equal(t, in, same)

	assert.Empty(t, Resample(nil, 24000, 48000))
}
