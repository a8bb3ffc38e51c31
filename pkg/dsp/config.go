// Package dsp derives per-frame signal metrics from raw int16 PCM buffers:
// volume, peak-to-peak amplitude, a fixed set of frequency-band energies, a
// signal-to-noise ratio against an adaptive noise floor, and optional
// single-pole filtering with an independently analysed filtered variant.
package dsp

// FilterMode selects the pre-analysis filter applied to the filtered variant
// of each frame.
type FilterMode string

const (
	FilterNone     FilterMode = "none"
	FilterLowPass  FilterMode = "lowpass"
	FilterHighPass FilterMode = "highpass"
	FilterBandPass FilterMode = "bandpass"
)

// IsValid reports whether m is a recognised filter mode.
func (m FilterMode) IsValid() bool {
	switch m {
	case FilterNone, FilterLowPass, FilterHighPass, FilterBandPass:
		return true
	}
	return false
}

// NumBands is the number of frequency bands every analysis produces. The
// band edges are configurable; the count is fixed by the consumer protocol.
const NumBands = 9

// Volume mapping breakpoints, calibrated for the sensor's dynamic range.
// Peak-to-peak values at or below the noise floor map to volume 0; the
// ceiling maps to 100. Numeric-compatibility tests depend on these exact
// values.
const (
	noiseFloorPeak = 100
	ceilingPeak    = 20000
)

// Vocal band limits for the voice-boost feature.
const (
	vocalBandLow   = 500.0  // Hz
	vocalBandHigh  = 2500.0 // Hz
	voiceBoostGain = 2.0
)

// Config holds the analyser settings. It is treated as an immutable value:
// updates replace the whole config atomically and take effect from the next
// frame onward.
type Config struct {
	// FilterMode enables the filtered metrics variant when not FilterNone.
	FilterMode FilterMode

	// CutoffLow is the high-pass cutoff in Hz (lower edge for band-pass).
	CutoffLow float64

	// CutoffHigh is the low-pass cutoff in Hz (upper edge for band-pass).
	CutoffHigh float64

	// VoiceBoost amplifies bands inside the vocal range (roughly 500–2500 Hz)
	// on the filtered variant before its SNR is recomputed.
	VoiceBoost bool

	// WindowSize is the transform window in samples. Shorter buffers are
	// zero-padded; longer ones contribute only their most recent window.
	WindowSize int

	// BandEdges lists the upper frequency bound of each band in Hz, lowest
	// band first. Must have exactly [NumBands] entries in ascending order.
	BandEdges []float64

	// SampleRate is the fallback rate in Hz used when a frame carries no
	// sample-rate hint.
	SampleRate int
}

// DefaultConfig returns the documented analyser defaults: a 128-sample
// window and nine bands spanning 0–8 kHz.
func DefaultConfig() Config {
	return Config{
		FilterMode: FilterNone,
		WindowSize: 128,
		BandEdges:  []float64{100, 250, 500, 1000, 2000, 3000, 4000, 6000, 8000},
		SampleRate: 16000,
	}
}

// withDefaults fills zero-valued fields from [DefaultConfig].
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FilterMode == "" {
		c.FilterMode = def.FilterMode
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if len(c.BandEdges) != NumBands {
		c.BandEdges = def.BandEdges
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	return c
}
