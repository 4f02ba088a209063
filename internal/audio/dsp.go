package audio

import "math"

// RMS returns the root-mean-square level of the samples, 0 when empty.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute sample value, 0 when empty.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// GainFromDB converts a decibel value to a linear gain factor.
func GainFromDB(db float64) float64 {
	return math.Pow(10, db/20)
}

// PeakNormalize scales samples in place so the peak hits target. Silent
// input is left unchanged.
func PeakNormalize(samples []float32, target float64) {
	peak := Peak(samples)
	if peak <= 0 || target <= 0 {
		return
	}
	gain := float32(target / peak)
	for i := range samples {
		samples[i] *= gain
	}
}

// FadeOut applies a linear fade over the last n samples in place. Inputs
// not longer than the fade are left unchanged.
func FadeOut(samples []float32, n int) {
	if n <= 0 || len(samples) <= n {
		return
	}
	for i := 0; i < n; i++ {
		samples[len(samples)-n+i] *= float32(1 - float64(i+1)/float64(n))
	}
}

// TrimSilence strips leading and trailing samples whose amplitude sits
// more than topDB below the clip peak, keeping prepadMs/postpadMs of
// context. Empty input is returned unchanged; an all-silent clip trims to
// zero length.
func TrimSilence(samples []float32, rate int, topDB float64, prepadMs, postpadMs float64) []float32 {
	if len(samples) == 0 || rate <= 0 {
		return samples
	}
	peak := Peak(samples)
	if peak <= 0 {
		return samples[:0]
	}
	threshold := peak * math.Pow(10, -topDB/20)

	first, last := -1, -1
	for i, s := range samples {
		if math.Abs(float64(s)) >= threshold {
			first = i
			break
		}
	}
	if first < 0 {
		return samples[:0]
	}
	for i := len(samples) - 1; i >= 0; i-- {
		if math.Abs(float64(samples[i])) >= threshold {
			last = i
			break
		}
	}

	start := first - int(prepadMs/1000*float64(rate))
	if start < 0 {
		start = 0
	}
	end := last + 1 + int(postpadMs/1000*float64(rate))
	if end > len(samples) {
		end = len(samples)
	}

	out := make([]float32, end-start)
	copy(out, samples[start:end])
	return out
}

// ConcatWithGap joins clips with gapSeconds of silence between them.
// There is no trailing gap.
func ConcatWithGap(clips [][]float32, rate int, gapSeconds float64) []float32 {
	gapLen := int(float64(rate) * gapSeconds)
	if gapLen < 0 {
		gapLen = 0
	}

	var total int
	for _, clip := range clips {
		total += len(clip)
	}
	if len(clips) > 1 {
		total += gapLen * (len(clips) - 1)
	}

	out := make([]float32, 0, total)
	for i, clip := range clips {
		out = append(out, clip...)
		if i < len(clips)-1 {
			out = append(out, make([]float32, gapLen)...)
		}
	}
	return out
}

// Resample converts samples between rates by linear interpolation. Speech
// material headed for a subprocess round-trip does not warrant a polyphase
// resampler; inputs needing codec work go through ffmpeg instead.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if len(samples) == 0 || fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if outLen <= 0 {
		return []float32{}
	}
	out := make([]float32, outLen)
	if len(samples) == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	step := float64(len(samples)-1) / float64(outLen-1)
	if outLen == 1 {
		step = 0
	}
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + frac*(samples[j+1]-samples[j])
	}
	return out
}
