package dsp

import "math"

// LowPass applies a single-pole RC low-pass filter with the given cutoff
// frequency to int16 PCM samples. The input is not modified. A cutoff or
// sample rate of zero returns the input unchanged.
func LowPass(samples []int16, cutoff float64, sampleRate int) []int16 {
	if cutoff <= 0 || sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	dt := 1.0 / float64(sampleRate)
	rc := 1.0 / (2 * math.Pi * cutoff)
	alpha := dt / (rc + dt)

	out := make([]int16, len(samples))
	y := float64(samples[0])
	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		y += alpha * (float64(samples[i]) - y)
		out[i] = clampInt16(y)
	}
	return out
}

// HighPass applies a single-pole RC high-pass filter with the given cutoff
// frequency. The input is not modified. A cutoff or sample rate of zero
// returns the input unchanged.
func HighPass(samples []int16, cutoff float64, sampleRate int) []int16 {
	if cutoff <= 0 || sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	dt := 1.0 / float64(sampleRate)
	rc := 1.0 / (2 * math.Pi * cutoff)
	alpha := rc / (rc + dt)

	out := make([]int16, len(samples))
	y := 0.0
	prev := float64(samples[0])
	out[0] = 0
	for i := 1; i < len(samples); i++ {
		x := float64(samples[i])
		y = alpha * (y + x - prev)
		prev = x
		out[i] = clampInt16(y)
	}
	return out
}

// applyFilter runs the configured filter chain over samples. Band-pass is the
// composition of high-pass at the low cutoff and low-pass at the high cutoff.
func applyFilter(samples []int16, cfg Config, sampleRate int) []int16 {
	switch cfg.FilterMode {
	case FilterLowPass:
		return LowPass(samples, cfg.CutoffHigh, sampleRate)
	case FilterHighPass:
		return HighPass(samples, cfg.CutoffLow, sampleRate)
	case FilterBandPass:
		return LowPass(HighPass(samples, cfg.CutoffLow, sampleRate), cfg.CutoffHigh, sampleRate)
	default:
		return samples
	}
}

// clampInt16 rounds v to the nearest int16, saturating at the type bounds.
func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}
