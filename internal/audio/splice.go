package audio

import "math"

// loudnessContextSeconds bounds the neighborhood used for RMS matching:
// up to a quarter second on each side of the region.
const loudnessContextSeconds = 0.25

// CrossfadeSplice replaces source[i0:i1] with replacement, stretched to
// the region length, loudness-matched to the surrounding material, and
// blended with symmetric equal-power crossfades of min(fadeMs, region/4)
// at both boundaries. duckGain in (0, 1] keeps the original playing under
// the replacement at that gain, restored smoothly across the trailing
// fade; 0 removes it entirely. Samples outside the region are preserved
// bit-exactly. Degenerate ranges return an unmodified copy.
func CrossfadeSplice(source, replacement []float32, rate int, i0, i1 int, fadeMs float64, duckGain float64) []float32 {
	out := make([]float32, len(source))
	copy(out, source)

	if i0 < 0 {
		i0 = 0
	}
	if i1 > len(source) {
		i1 = len(source)
	}
	region := i1 - i0
	if region <= 0 || rate <= 0 {
		return out
	}

	repl := TimeStretchToLength(replacement, rate, region)
	matchLoudness(source, repl, rate, i0, i1)

	fade := int(fadeMs / 1000 * float64(rate))
	if fade > region/4 {
		fade = region / 4
	}
	if fade < 0 {
		fade = 0
	}
	duck := duckGain
	if duck < 0 {
		duck = 0
	}
	if duck > 1 {
		duck = 1
	}

	for k := 0; k < region; k++ {
		srcGain, repGain := duck, 1.0
		if fade > 0 {
			switch {
			case k < fade:
				t := float64(k+1) / float64(fade)
				repGain = math.Sin(t * math.Pi / 2)
				srcGain = duck + (1-duck)*math.Cos(t*math.Pi/2)
			case k >= region-fade:
				t := float64(region-k) / float64(fade)
				repGain = math.Sin(t * math.Pi / 2)
				srcGain = duck + (1-duck)*math.Cos(t*math.Pi/2)
			}
		}
		out[i0+k] = float32(float64(source[i0+k])*srcGain + float64(repl[k])*repGain)
	}

	SoftLimit(out[i0:i1], 0.98)
	return out
}

// matchLoudness scales repl in place so its RMS matches the RMS of up to
// loudnessContextSeconds of source on each side of [i0, i1).
func matchLoudness(source, repl []float32, rate int, i0, i1 int) {
	half := int(loudnessContextSeconds * float64(rate))

	lo := i0 - half
	if lo < 0 {
		lo = 0
	}
	hi := i1 + half
	if hi > len(source) {
		hi = len(source)
	}

	var sum float64
	var count int
	for _, s := range source[lo:i0] {
		sum += float64(s) * float64(s)
		count++
	}
	for _, s := range source[i1:hi] {
		sum += float64(s) * float64(s)
		count++
	}
	if count == 0 {
		return
	}
	contextRMS := math.Sqrt(sum / float64(count))
	replRMS := RMS(repl)
	if contextRMS <= 0 || replRMS <= 0 {
		return
	}

	gain := float32(contextRMS / replRMS)
	for i := range repl {
		repl[i] *= gain
	}
}

// SoftLimit applies a tanh limiter when the peak exceeds ceiling, then a
// hard clamp at 1.0. Inputs already under the ceiling pass through the
// tanh stage untouched.
func SoftLimit(samples []float32, ceiling float64) {
	if ceiling <= 0 {
		return
	}
	if Peak(samples) > ceiling {
		for i := range samples {
			samples[i] = float32(ceiling * math.Tanh(float64(samples[i])/ceiling))
		}
	}
	for i := range samples {
		if samples[i] > 1 {
			samples[i] = 1
		} else if samples[i] < -1 {
			samples[i] = -1
		}
	}
}
