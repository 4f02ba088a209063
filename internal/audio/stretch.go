package audio

import "math"

// Stretch tuning. Frame and seek windows are derived from the sample rate
// so behavior is rate-independent; the FFT size is fixed.
const (
	wsolaFrameSeconds = 0.05 // analysis frame
	wsolaSeekSeconds  = 0.01 // correlation search radius
	vocoderSize       = 1024
	vocoderHop        = vocoderSize / 4
)

// TimeStretchToLength stretches samples to exactly targetLen without
// changing pitch. The preferred path chains WSOLA passes whose factors
// each stay within [0.5, 2.0]; extreme ratios and inputs too short for
// overlap-add fall back to a phase vocoder (or plain interpolation when
// even one FFT frame does not fit). Output length is forced by truncation
// or zero-padding.
func TimeStretchToLength(samples []float32, rate int, targetLen int) []float32 {
	if targetLen <= 0 {
		return []float32{}
	}
	out := make([]float32, targetLen)
	if len(samples) == 0 {
		return out
	}
	if len(samples) == targetLen {
		copy(out, samples)
		return out
	}

	factor := float64(len(samples)) / float64(targetLen)
	steps := chainFactors(factor)

	var stretched []float32
	frame := wsolaFrame(rate)
	switch {
	case len(samples) >= 2*frame && len(steps) <= 3:
		stretched = samples
		for _, f := range steps {
			stretched = wsola(stretched, f, rate)
		}
	case len(samples) >= vocoderSize:
		stretched = phaseVocoder(samples, factor)
	default:
		stretched = linearStretch(samples, factor)
	}

	copy(out, stretched)
	return out
}

// chainFactors decomposes an overall speed factor into steps that each
// stay within [0.5, 2.0] and multiply back to the original factor.
func chainFactors(factor float64) []float64 {
	if factor <= 0 {
		return []float64{1}
	}
	var chain []float64
	for factor > 2.0 {
		chain = append(chain, 2.0)
		factor /= 2.0
	}
	for factor < 0.5 {
		chain = append(chain, 0.5)
		factor /= 0.5
	}
	return append(chain, factor)
}

func wsolaFrame(rate int) int {
	frame := int(float64(rate) * wsolaFrameSeconds)
	if frame < 64 {
		frame = 64
	}
	if frame%2 == 1 {
		frame++
	}
	return frame
}

// wsola performs one waveform-similarity overlap-add pass. factor is a
// speed: >1 shortens, <1 lengthens. Inputs shorter than two frames are
// handled by interpolation.
func wsola(x []float32, factor float64, rate int) []float32 {
	if len(x) == 0 {
		return nil
	}
	if factor <= 0 {
		factor = 1
	}
	frame := wsolaFrame(rate)
	if len(x) < 2*frame {
		return linearStretch(x, factor)
	}

	overlap := frame / 2
	hop := frame - overlap
	seek := int(float64(rate) * wsolaSeekSeconds)
	outLen := int(math.Round(float64(len(x)) / factor))
	if outLen <= 0 {
		return []float32{}
	}

	win := hannWindow(frame)
	acc := make([]float64, outLen+frame)
	den := make([]float64, outLen+frame)

	prevStart := 0
	for outPos := 0; outPos < outLen; outPos += hop {
		ideal := int(math.Round(float64(outPos) * factor))
		start := ideal
		if outPos > 0 {
			lo := ideal - seek
			hi := ideal + seek
			if lo < 0 {
				lo = 0
			}
			if hi > len(x)-frame {
				hi = len(x) - frame
			}
			if hi <= lo {
				start = lo
			} else {
				// The natural continuation of the previous segment is
				// the reference the candidate must line up with.
				ref := x[prevStart+hop : prevStart+frame]
				start = bestCorrelation(x, lo, hi, ref)
			}
		}
		if start > len(x)-frame {
			start = len(x) - frame
		}
		if start < 0 {
			start = 0
		}

		for i := 0; i < frame; i++ {
			w := win[i]
			acc[outPos+i] += float64(x[start+i]) * w
			den[outPos+i] += w
		}
		prevStart = start
	}

	out := make([]float32, outLen)
	for i := range out {
		if den[i] > 1e-9 {
			out[i] = float32(acc[i] / den[i])
		}
	}
	return out
}

// bestCorrelation returns the candidate offset in [lo, hi] whose leading
// samples best match ref by plain cross-correlation.
func bestCorrelation(x []float32, lo, hi int, ref []float32) int {
	best := lo
	bestScore := math.Inf(-1)
	for c := lo; c <= hi; c++ {
		var dot float64
		cand := x[c : c+len(ref)]
		for i := range ref {
			dot += float64(cand[i]) * float64(ref[i])
		}
		if dot > bestScore {
			bestScore = dot
			best = c
		}
	}
	return best
}

// phaseVocoder stretches by resynthesizing STFT frames with accumulated
// instantaneous phase. Used where WSOLA cannot run: extreme factors and
// short inputs.
func phaseVocoder(x []float32, factor float64) []float32 {
	if len(x) == 0 {
		return nil
	}
	if factor <= 0 {
		factor = 1
	}
	n := vocoderSize
	if len(x) < n {
		return linearStretch(x, factor)
	}

	hopS := vocoderHop
	hopA := int(math.Round(float64(hopS) * factor))
	if hopA < 1 {
		hopA = 1
	}

	win := hannWindow(n)
	numFrames := (len(x)-n)/hopA + 1
	outLen := (numFrames-1)*hopS + n

	acc := make([]float64, outLen)
	den := make([]float64, outLen)
	prevPhase := make([]float64, n/2+1)
	synthPhase := make([]float64, n/2+1)

	re := make([]float64, n)
	im := make([]float64, n)
	mag := make([]float64, n/2+1)
	phase := make([]float64, n/2+1)

	for m := 0; m < numFrames; m++ {
		inPos := m * hopA
		for i := 0; i < n; i++ {
			re[i] = float64(x[inPos+i]) * win[i]
			im[i] = 0
		}
		fft(re, im, false)

		for k := 0; k <= n/2; k++ {
			mag[k] = math.Hypot(re[k], im[k])
			phase[k] = math.Atan2(im[k], re[k])
		}

		if m == 0 {
			copy(synthPhase, phase)
		} else {
			for k := 0; k <= n/2; k++ {
				omega := 2 * math.Pi * float64(k) / float64(n)
				delta := princArg(phase[k] - prevPhase[k] - omega*float64(hopA))
				instFreq := omega + delta/float64(hopA)
				synthPhase[k] = princArg(synthPhase[k] + instFreq*float64(hopS))
			}
		}
		copy(prevPhase, phase)

		// Rebuild a Hermitian spectrum and invert.
		for k := 0; k <= n/2; k++ {
			re[k] = mag[k] * math.Cos(synthPhase[k])
			im[k] = mag[k] * math.Sin(synthPhase[k])
		}
		for k := n/2 + 1; k < n; k++ {
			re[k] = re[n-k]
			im[k] = -im[n-k]
		}
		fft(re, im, true)

		outPos := m * hopS
		for i := 0; i < n; i++ {
			w := win[i]
			acc[outPos+i] += re[i] * w
			den[outPos+i] += w * w
		}
	}

	out := make([]float32, outLen)
	for i := range out {
		if den[i] > 1e-9 {
			out[i] = float32(acc[i] / den[i])
		}
	}

	target := int(math.Round(float64(len(x)) / factor))
	if target > 0 && target < len(out) {
		out = out[:target]
	}
	return out
}

// linearStretch resamples to the target length without pitch
// preservation. Only reached for fragments shorter than one FFT frame,
// where pitch artifacts are inaudible anyway.
func linearStretch(x []float32, factor float64) []float32 {
	if len(x) == 0 || factor <= 0 {
		return nil
	}
	outLen := int(math.Round(float64(len(x)) / factor))
	if outLen <= 0 {
		return []float32{}
	}
	out := make([]float32, outLen)
	if outLen == 1 {
		out[0] = x[0]
		return out
	}
	step := float64(len(x)-1) / float64(outLen-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(x)-1 {
			out[i] = x[len(x)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = x[j] + frac*(x[j+1]-x[j])
	}
	return out
}

func hannWindow(n int) []float64 {
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := range win {
		win[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return win
}

// princArg wraps a phase into (-pi, pi].
func princArg(p float64) float64 {
	return p - 2*math.Pi*math.Round(p/(2*math.Pi))
}
