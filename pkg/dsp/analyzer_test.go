package dsp_test

import (
	"math"
	"testing"

	"github.com/apetrei/audioscope/pkg/dsp"
)

func TestAnalyze_EmptyBuffer(t *testing.T) {
	a := dsp.New(dsp.Config{})
	m := a.Analyze(nil, 16000)

	if m.Volume != 0 || m.PeakToPeak != 0 {
		t.Errorf("silence: got volume=%d peakToPeak=%d, want 0/0", m.Volume, m.PeakToPeak)
	}
	if len(m.Bands) != dsp.NumBands {
		t.Fatalf("got %d bands, want %d", len(m.Bands), dsp.NumBands)
	}
	for i, b := range m.Bands {
		if b != 0 {
			t.Errorf("band %d: got %g, want 0", i, b)
		}
	}
}

func TestAnalyze_AllZeroBuffer(t *testing.T) {
	a := dsp.New(dsp.Config{})
	m := a.Analyze(make([]int16, 256), 16000)

	if m.Volume != 0 {
		t.Errorf("volume: got %d, want 0", m.Volume)
	}
	if m.PeakToPeak != 0 {
		t.Errorf("peak-to-peak: got %d, want 0", m.PeakToPeak)
	}
	if m.SNR != 0 {
		t.Errorf("snr: got %g, want 0", m.SNR)
	}
	for i, b := range m.Bands {
		if b != 0 {
			t.Errorf("band %d: got %g, want 0", i, b)
		}
	}
}

func TestAnalyze_VolumeMappingBreakpoints(t *testing.T) {
	tests := []struct {
		name       string
		amplitude  int16 // buffer alternates ±amplitude
		wantVolume int
	}{
		{"at noise floor", 50, 0},       // peak-to-peak exactly 100
		{"below noise floor", 20, 0},    // peak-to-peak 40
		{"at ceiling", 10000, 100},      // peak-to-peak 20000
		{"midpoint", 5025, 50},          // peak-to-peak 10050
		{"beyond ceiling", 16000, 100},  // peak-to-peak 32000, clamped
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := dsp.New(dsp.Config{})
			m := a.Analyze(alternating(tt.amplitude, 128), 16000)
			if m.Volume != tt.wantVolume {
				t.Errorf("volume for peak-to-peak %d: got %d, want %d",
					m.PeakToPeak, m.Volume, tt.wantVolume)
			}
		})
	}
}

func TestAnalyze_MaxAmplitudeSquareWave(t *testing.T) {
	samples := make([]int16, 128)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32768
		}
	}

	a := dsp.New(dsp.Config{})
	m := a.Analyze(samples, 16000)

	if m.PeakToPeak != 65535 {
		t.Errorf("peak-to-peak: got %d, want 65535", m.PeakToPeak)
	}
	if m.Volume != 100 {
		t.Errorf("volume: got %d, want 100", m.Volume)
	}
	if m.Min != -32768 || m.Max != 32767 {
		t.Errorf("min/max: got %d/%d, want -32768/32767", m.Min, m.Max)
	}
}

func TestAnalyze_Ramp(t *testing.T) {
	samples := make([]int16, 128)
	for i := range samples {
		samples[i] = int16(i * 100) // 0, 100, ... 12700
	}

	a := dsp.New(dsp.Config{})
	m := a.Analyze(samples, 16000)

	if m.PeakToPeak != 12700 {
		t.Errorf("peak-to-peak: got %d, want 12700", m.PeakToPeak)
	}
	// Linear mapping: (12700-100)/(20000-100)*100 ≈ 63.3.
	if m.Volume != 63 {
		t.Errorf("volume: got %d, want 63", m.Volume)
	}
	if m.Avg != 6350 {
		t.Errorf("avg: got %g, want 6350", m.Avg)
	}
}

func TestAnalyze_SineEnergyLandsInBand(t *testing.T) {
	// 1 kHz sine at 16 kHz: with the default edges the energy belongs to
	// the [1000, 2000) band (index 4).
	samples := sine(1000, 16000, 256, 10000)

	a := dsp.New(dsp.Config{})
	m := a.Analyze(samples, 16000)

	maxBand := 0
	for i, b := range m.Bands {
		if b > m.Bands[maxBand] {
			maxBand = i
		}
	}
	if maxBand != 4 {
		t.Errorf("dominant band: got %d (bands %v), want 4", maxBand, m.Bands)
	}
}

func TestAnalyze_ShortBufferZeroPadded(t *testing.T) {
	a := dsp.New(dsp.Config{WindowSize: 128})
	// 16 samples, well under the window. Must not panic and must produce
	// finite band values.
	m := a.Analyze(alternating(1000, 16), 16000)
	for i, b := range m.Bands {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			t.Errorf("band %d: got %g, want finite", i, b)
		}
	}
}

func TestAnalyze_SNRRisesAboveNoiseFloor(t *testing.T) {
	a := dsp.New(dsp.Config{})

	// Prime the noise floor with quiet frames.
	for i := 0; i < 5; i++ {
		a.Analyze(alternating(20, 128), 16000)
	}
	m := a.Analyze(sine(1000, 16000, 128, 10000), 16000)
	if m.SNR <= 0 {
		t.Errorf("snr after loud frame on quiet floor: got %g, want > 0", m.SNR)
	}
}

func TestAnalyze_FilteredVariant(t *testing.T) {
	a := dsp.New(dsp.Config{
		FilterMode: dsp.FilterLowPass,
		CutoffHigh: 500,
	})
	m := a.Analyze(sine(4000, 16000, 256, 10000), 16000)

	if m.Filtered == nil {
		t.Fatal("filtered variant missing with lowpass mode")
	}
	// A 4 kHz tone through a 500 Hz low-pass must lose amplitude.
	if m.Filtered.PeakToPeak >= m.PeakToPeak {
		t.Errorf("filtered peak-to-peak %d not below raw %d",
			m.Filtered.PeakToPeak, m.PeakToPeak)
	}
}

func TestAnalyze_NoFilteredVariantByDefault(t *testing.T) {
	a := dsp.New(dsp.Config{})
	m := a.Analyze(alternating(1000, 128), 16000)
	if m.Filtered != nil {
		t.Error("filtered variant present with FilterNone")
	}
}

func TestAnalyze_VoiceBoostAmplifiesVocalBands(t *testing.T) {
	mk := func(boost bool) []float64 {
		a := dsp.New(dsp.Config{
			FilterMode: dsp.FilterLowPass,
			CutoffHigh: 4000,
			VoiceBoost: boost,
		})
		m := a.Analyze(sine(1500, 16000, 256, 10000), 16000)
		return m.Filtered.Bands
	}

	plain := mk(false)
	boosted := mk(true)

	// 1.5 kHz lives in the [1000, 2000) band, fully inside the vocal range.
	if boosted[4] <= plain[4] {
		t.Errorf("vocal band not boosted: %g vs %g", boosted[4], plain[4])
	}
	// The top band (6–8 kHz) is outside the vocal range and must be untouched.
	if boosted[8] != plain[8] {
		t.Errorf("non-vocal band changed: %g vs %g", boosted[8], plain[8])
	}
}

func TestSetConfig_TakesEffectNextFrame(t *testing.T) {
	a := dsp.New(dsp.Config{})
	if m := a.Analyze(alternating(1000, 128), 16000); m.Filtered != nil {
		t.Fatal("unexpected filtered variant before config change")
	}

	a.SetConfig(dsp.Config{FilterMode: dsp.FilterLowPass, CutoffHigh: 1000})
	if m := a.Analyze(alternating(1000, 128), 16000); m.Filtered == nil {
		t.Fatal("filtered variant missing after config change")
	}
}

func TestConfig_DefaultsApplied(t *testing.T) {
	a := dsp.New(dsp.Config{})
	cfg := a.Config()
	if cfg.WindowSize != 128 {
		t.Errorf("window size: got %d, want 128", cfg.WindowSize)
	}
	if len(cfg.BandEdges) != dsp.NumBands {
		t.Errorf("band edges: got %d, want %d", len(cfg.BandEdges), dsp.NumBands)
	}
	if cfg.FilterMode != dsp.FilterNone {
		t.Errorf("filter mode: got %q, want %q", cfg.FilterMode, dsp.FilterNone)
	}
}

// alternating builds a buffer alternating between +amp and -amp.
func alternating(amp int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

// sine builds a sine wave buffer at freq Hz sampled at rate Hz.
func sine(freq, rate, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*float64(freq)*float64(i)/float64(rate)))
	}
	return out
}
