// Package config provides the configuration schema, YAML loader, and file
// watcher for the audioscope telemetry gateway.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/apetrei/audioscope/pkg/dsp"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// HistoryBackend selects where processed telemetry records are kept.
type HistoryBackend string

const (
	// HistoryMemory keeps only an in-process ring of recent records.
	HistoryMemory HistoryBackend = "memory"

	// HistoryPostgres additionally persists records to PostgreSQL in
	// batched inserts.
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised history backend.
func (b HistoryBackend) IsValid() bool {
	return b == HistoryMemory || b == HistoryPostgres
}

// Config is the root configuration structure for audioscope. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	History  HistoryConfig  `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProducerConfig tunes the single authoritative producer connection.
type ProducerConfig struct {
	// HandshakeTimeout bounds how long a freshly accepted producer may stay
	// silent before the gateway closes it.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// MalformedThreshold is the number of consecutive malformed frames that
	// forces a protective disconnect of the producer session.
	MalformedThreshold int `yaml:"malformed_threshold"`

	// MaxFrameBytes caps a single inbound frame. Larger messages are treated
	// as malformed.
	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// ConsumerConfig tunes the dashboard-facing consumer connections.
type ConsumerConfig struct {
	// QueueSize is the per-consumer outbound queue bound. When full, the
	// oldest queued update is dropped so slow readers never stall the rest.
	QueueSize int `yaml:"queue_size"`

	// PingInterval is how often idle consumers are pinged.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PingGrace is the multiple of PingInterval a consumer may stay
	// unresponsive before eviction.
	PingGrace int `yaml:"ping_grace"`

	// MinBroadcastInterval throttles updates: at most one broadcast per
	// interval. Zero broadcasts every processed frame.
	MinBroadcastInterval time.Duration `yaml:"min_broadcast_interval"`

	// InitialHistory is how many recent records a newly connected consumer
	// receives as its initial snapshot.
	InitialHistory int `yaml:"initial_history"`
}

// AnalyzerConfig mirrors [dsp.Config] with YAML tags. It is the one section
// the file watcher hot-applies at runtime.
type AnalyzerConfig struct {
	FilterMode string    `yaml:"filter_mode"`
	CutoffLow  float64   `yaml:"cutoff_low"`
	CutoffHigh float64   `yaml:"cutoff_high"`
	VoiceBoost bool      `yaml:"voice_boost"`
	WindowSize int       `yaml:"window_size"`
	BandEdges  []float64 `yaml:"band_edges"`
	SampleRate int       `yaml:"sample_rate"`
}

// DSP converts the YAML analyzer section into a [dsp.Config].
func (a AnalyzerConfig) DSP() dsp.Config {
	return dsp.Config{
		FilterMode: dsp.FilterMode(a.FilterMode),
		CutoffLow:  a.CutoffLow,
		CutoffHigh: a.CutoffHigh,
		VoiceBoost: a.VoiceBoost,
		WindowSize: a.WindowSize,
		BandEdges:  a.BandEdges,
		SampleRate: a.SampleRate,
	}
}

// HistoryConfig controls the recent-records ring and optional persistence.
type HistoryConfig struct {
	// Backend selects the history store implementation.
	Backend HistoryBackend `yaml:"backend"`

	// DSN is the PostgreSQL connection string (postgres backend only).
	DSN string `yaml:"dsn"`

	// Capacity is the size of the in-memory ring of recent records.
	Capacity int `yaml:"capacity"`

	// BufferSize is how many records accumulate before a batch write
	// (postgres backend only).
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval forces a batch write even when the buffer is not full
	// (postgres backend only).
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Default returns the configuration defaults applied on top of loaded files.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Producer: ProducerConfig{
			HandshakeTimeout:   10 * time.Second,
			MalformedThreshold: 25,
			MaxFrameBytes:      1 << 16,
		},
		Consumer: ConsumerConfig{
			QueueSize:      32,
			PingInterval:   15 * time.Second,
			PingGrace:      2,
			InitialHistory: 10,
		},
		Analyzer: AnalyzerConfig{
			FilterMode: string(dsp.FilterNone),
			WindowSize: 128,
			SampleRate: 16000,
		},
		History: HistoryConfig{
			Backend:       HistoryMemory,
			Capacity:      100,
			BufferSize:    50,
			FlushInterval: 5 * time.Second,
		},
	}
}

// applyDefaults fills zero-valued fields of cfg from [Default].
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Producer.HandshakeTimeout <= 0 {
		cfg.Producer.HandshakeTimeout = def.Producer.HandshakeTimeout
	}
	if cfg.Producer.MalformedThreshold <= 0 {
		cfg.Producer.MalformedThreshold = def.Producer.MalformedThreshold
	}
	if cfg.Producer.MaxFrameBytes <= 0 {
		cfg.Producer.MaxFrameBytes = def.Producer.MaxFrameBytes
	}
	if cfg.Consumer.QueueSize <= 0 {
		cfg.Consumer.QueueSize = def.Consumer.QueueSize
	}
	if cfg.Consumer.PingInterval <= 0 {
		cfg.Consumer.PingInterval = def.Consumer.PingInterval
	}
	if cfg.Consumer.PingGrace <= 0 {
		cfg.Consumer.PingGrace = def.Consumer.PingGrace
	}
	if cfg.Consumer.InitialHistory <= 0 {
		cfg.Consumer.InitialHistory = def.Consumer.InitialHistory
	}
	if cfg.Analyzer.FilterMode == "" {
		cfg.Analyzer.FilterMode = def.Analyzer.FilterMode
	}
	if cfg.Analyzer.WindowSize <= 0 {
		cfg.Analyzer.WindowSize = def.Analyzer.WindowSize
	}
	if cfg.Analyzer.SampleRate <= 0 {
		cfg.Analyzer.SampleRate = def.Analyzer.SampleRate
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = def.History.Backend
	}
	if cfg.History.Capacity <= 0 {
		cfg.History.Capacity = def.History.Capacity
	}
	if cfg.History.BufferSize <= 0 {
		cfg.History.BufferSize = def.History.BufferSize
	}
	if cfg.History.FlushInterval <= 0 {
		cfg.History.FlushInterval = def.History.FlushInterval
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if mode := dsp.FilterMode(cfg.Analyzer.FilterMode); cfg.Analyzer.FilterMode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("analyzer.filter_mode %q is invalid; valid values: none, lowpass, highpass, bandpass", cfg.Analyzer.FilterMode))
	}
	switch dsp.FilterMode(cfg.Analyzer.FilterMode) {
	case dsp.FilterLowPass:
		if cfg.Analyzer.CutoffHigh <= 0 {
			errs = append(errs, errors.New("analyzer.cutoff_high must be set for lowpass mode"))
		}
	case dsp.FilterHighPass:
		if cfg.Analyzer.CutoffLow <= 0 {
			errs = append(errs, errors.New("analyzer.cutoff_low must be set for highpass mode"))
		}
	case dsp.FilterBandPass:
		if cfg.Analyzer.CutoffLow <= 0 || cfg.Analyzer.CutoffHigh <= 0 {
			errs = append(errs, errors.New("analyzer.cutoff_low and analyzer.cutoff_high must be set for bandpass mode"))
		} else if cfg.Analyzer.CutoffLow >= cfg.Analyzer.CutoffHigh {
			errs = append(errs, errors.New("analyzer.cutoff_low must be below analyzer.cutoff_high"))
		}
	}

	if n := len(cfg.Analyzer.BandEdges); n != 0 && n != dsp.NumBands {
		errs = append(errs, fmt.Errorf("analyzer.band_edges must list exactly %d edges, got %d", dsp.NumBands, n))
	}
	for i := 1; i < len(cfg.Analyzer.BandEdges); i++ {
		if cfg.Analyzer.BandEdges[i] <= cfg.Analyzer.BandEdges[i-1] {
			errs = append(errs, errors.New("analyzer.band_edges must be strictly ascending"))
			break
		}
	}

	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn must be set for the postgres backend"))
	}

	return errors.Join(errs...)
}
