package telemetry

// NumBands is the number of frequency bands reported per update. The band
// edges themselves are configuration, but the count is part of the wire
// contract with the dashboard clients.
const NumBands = 9

// Update is the structured metrics message broadcast to every consumer, one
// per processed frame (or throttled to the configured minimum interval).
type Update struct {
	// Volume is the 0–100 loudness derived from peak-to-peak amplitude.
	Volume int `json:"volume"`

	// PeakToPeak is max(sample) − min(sample) over the frame.
	PeakToPeak int `json:"peakToPeak"`

	// Bands holds the summed spectral energy of each of the [NumBands]
	// frequency ranges, lowest band first.
	Bands []float64 `json:"bands"`

	// FilteredBands mirrors Bands for the filtered signal variant. Nil when
	// no filter is active.
	FilteredBands []float64 `json:"filteredBands,omitempty"`

	// SNR is the raw signal-to-noise ratio in dB.
	SNR float64 `json:"snr"`

	// FilteredSNR is the SNR of the filtered variant in dB. Zero when no
	// filter is active.
	FilteredSNR float64 `json:"filteredSnr,omitempty"`

	Min int     `json:"min"`
	Max int     `json:"max"`
	Avg float64 `json:"avg"`

	// Timestamp is the producer-assigned frame timestamp, passed through.
	Timestamp uint32 `json:"timestamp"`
}

// Hello is the optional JSON identification message a producer may send on
// connect, e.g. {"source":"arduino","status":"connected","type":"audio_processor"}.
// Frame processing begins regardless of whether it arrives.
type Hello struct {
	Source string `json:"source"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

// Welcome is the greeting the gateway sends back to a freshly connected
// producer.
type Welcome struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Snapshot is the first message a consumer receives: the most recent updates
// known to the gateway, oldest first, so dashboards can render immediately
// instead of starting from a blank chart.
type Snapshot struct {
	Type    string   `json:"type"`
	Records []Update `json:"records"`
}

// SnapshotType is the Type value carried by [Snapshot] messages.
const SnapshotType = "initial_data"
