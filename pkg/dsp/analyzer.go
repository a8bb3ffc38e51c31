package dsp

import (
	"math"
	"math/cmplx"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
)

// Metrics is the analysis result for one frame. It is a value: produced once,
// never mutated, identified only by the timestamp its caller attaches.
type Metrics struct {
	// Volume is the 0–100 loudness derived from peak-to-peak amplitude.
	Volume int

	// PeakToPeak is max − min over the buffer; zero for silence.
	PeakToPeak int

	Min int
	Max int
	Avg float64

	// Bands holds [NumBands] summed spectral magnitudes, lowest band first.
	Bands []float64

	// SNR is the signal-to-noise ratio in dB against the adaptive noise
	// floor. Zero when the buffer carries no energy.
	SNR float64

	// Filtered is the independently computed metrics of the filtered buffer
	// variant. Nil when the filter mode is FilterNone.
	Filtered *Metrics
}

// noiseFloor is a slowly-adapting running estimate of the baseline signal
// energy. It drops immediately to any quieter observation and rises towards
// louder ones with a small exponential coefficient, so short bursts of signal
// do not inflate the floor.
type noiseFloor struct {
	energy float64
	primed bool
}

// riseCoeff controls how quickly the floor creeps up towards sustained
// louder input.
const riseCoeff = 0.01

// update folds one frame's energy into the estimate and returns the current
// floor.
func (n *noiseFloor) update(energy float64) float64 {
	if !n.primed {
		n.energy = energy
		n.primed = true
		return n.energy
	}
	if energy < n.energy {
		n.energy = energy
	} else {
		n.energy += riseCoeff * (energy - n.energy)
	}
	return n.energy
}

// Analyzer computes [Metrics] from sample buffers. The only state it carries
// across calls is the pair of noise-floor estimators, one per logical channel
// (raw and filtered) so the two SNR series adapt independently.
//
// The config is replaced atomically via [Analyzer.SetConfig]; a replacement
// affects the next Analyze call, never a running one. Analyze itself must be
// called from a single goroutine — the gateway processes frames in arrival
// order, so this matches its use.
type Analyzer struct {
	cfg atomic.Pointer[Config]

	rawFloor      noiseFloor
	filteredFloor noiseFloor
}

// New creates an Analyzer. Zero-valued config fields fall back to
// [DefaultConfig] values.
func New(cfg Config) *Analyzer {
	a := &Analyzer{}
	a.SetConfig(cfg)
	return a
}

// SetConfig atomically replaces the analyser configuration. It takes effect
// for the next frame onward.
func (a *Analyzer) SetConfig(cfg Config) {
	c := cfg.withDefaults()
	a.cfg.Store(&c)
}

// Config returns the current configuration snapshot.
func (a *Analyzer) Config() Config {
	return *a.cfg.Load()
}

// Analyze computes the metrics for one sample buffer. sampleRate is the
// frame's rate hint in Hz; zero falls back to the configured default. An
// empty buffer is valid input (silence) and yields all-zero metrics.
func (a *Analyzer) Analyze(samples []int16, sampleRate int) Metrics {
	cfg := *a.cfg.Load()
	if sampleRate <= 0 {
		sampleRate = cfg.SampleRate
	}

	m := a.analyzeChannel(samples, cfg, sampleRate, &a.rawFloor, false)

	if cfg.FilterMode != FilterNone {
		filtered := applyFilter(samples, cfg, sampleRate)
		fm := a.analyzeChannel(filtered, cfg, sampleRate, &a.filteredFloor, cfg.VoiceBoost)
		m.Filtered = &fm
	}
	return m
}

// analyzeChannel computes the metrics of one buffer against one noise-floor
// channel. boost applies the vocal-band amplification before the SNR is
// derived.
func (a *Analyzer) analyzeChannel(samples []int16, cfg Config, sampleRate int, floor *noiseFloor, boost bool) Metrics {
	m := Metrics{Bands: make([]float64, NumBands)}
	if len(samples) == 0 {
		return m
	}

	minS, maxS := samples[0], samples[0]
	var sum, energy float64
	for _, s := range samples {
		if s < minS {
			minS = s
		}
		if s > maxS {
			maxS = s
		}
		f := float64(s)
		sum += f
		energy += f * f
	}
	energy /= float64(len(samples))

	m.Min = int(minS)
	m.Max = int(maxS)
	m.Avg = sum / float64(len(samples))
	m.PeakToPeak = int(maxS) - int(minS)
	m.Volume = volumeFromPeak(m.PeakToPeak)
	m.Bands = bandEnergies(samples, cfg, sampleRate)

	if boost {
		boosted, ratio := boostVocalBands(m.Bands, cfg.BandEdges)
		m.Bands = boosted
		energy *= ratio
	}

	f := floor.update(energy)
	if energy > 0 && f > 0 && energy > f {
		m.SNR = 10 * math.Log10(energy/f)
	}
	return m
}

// volumeFromPeak maps a peak-to-peak amplitude onto the 0–100 volume scale.
// Values at or below the noise floor (100) read as silence; the empirical
// ceiling (20000) and above read as full scale, with a linear ramp between.
func volumeFromPeak(peakToPeak int) int {
	if peakToPeak <= noiseFloorPeak {
		return 0
	}
	v := float64(peakToPeak-noiseFloorPeak) / float64(ceilingPeak-noiseFloorPeak) * 100
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

// bandEnergies partitions the buffer's spectrum into the configured bands.
// Buffers shorter than the window are zero-padded; longer ones contribute
// only their most recent window (recency over history).
func bandEnergies(samples []int16, cfg Config, sampleRate int) []float64 {
	window := make([]float64, cfg.WindowSize)
	if len(samples) >= cfg.WindowSize {
		tail := samples[len(samples)-cfg.WindowSize:]
		for i, s := range tail {
			window[i] = float64(s)
		}
	} else {
		for i, s := range samples {
			window[i] = float64(s)
		}
	}

	spectrum := fft.FFTReal(window)
	n := len(spectrum)

	bands := make([]float64, NumBands)
	for i := 0; i <= n/2; i++ {
		freq := float64(sampleRate) * float64(i) / float64(n)
		bands[bandIndex(freq, cfg.BandEdges)] += cmplx.Abs(spectrum[i]) / float64(n)
	}
	return bands
}

// bandIndex returns the band a frequency falls into: the first band whose
// upper edge exceeds it, with everything past the last edge folded into the
// top band.
func bandIndex(freq float64, edges []float64) int {
	for i, edge := range edges {
		if freq < edge {
			return i
		}
	}
	return len(edges) - 1
}

// boostVocalBands amplifies bands lying entirely inside the vocal range and
// returns the boosted copy plus the total-energy ratio the boost introduced
// (used to scale the SNR input accordingly).
func boostVocalBands(bands, edges []float64) ([]float64, float64) {
	boosted := make([]float64, len(bands))
	var before, after float64
	for i, b := range bands {
		lower := 0.0
		if i > 0 {
			lower = edges[i-1]
		}
		upper := edges[i]

		v := b
		if lower >= vocalBandLow && upper <= vocalBandHigh {
			v = b * voiceBoostGain
		}
		boosted[i] = v
		before += b
		after += v
	}
	if before == 0 {
		return boosted, 1
	}
	return boosted, after / before
}
