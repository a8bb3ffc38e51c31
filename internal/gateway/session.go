package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/apetrei/audioscope/internal/history"
	"github.com/apetrei/audioscope/internal/observe"
	"github.com/apetrei/audioscope/pkg/dsp"
	"github.com/apetrei/audioscope/pkg/telemetry"
)

// State is the lifecycle phase of a producer session.
type State int32

const (
	// StateIdle means the session exists but has not started reading.
	StateIdle State = iota

	// StateHandshaking means the session is waiting for the producer's
	// first message within the handshake window.
	StateHandshaking

	// StateStreaming means frames are being decoded and analysed.
	StateStreaming

	// StateClosed is terminal.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SessionConfig tunes one producer session.
type SessionConfig struct {
	// HandshakeTimeout bounds the wait for the producer's first message.
	HandshakeTimeout time.Duration

	// MalformedThreshold is the run of consecutive undecodable frames that
	// closes the session. Zero disables the limit.
	MalformedThreshold int

	// MaxFrameBytes caps a single inbound message. Zero disables the cap.
	MaxFrameBytes int

	// MinBroadcastInterval throttles consumer fan-out. Every frame is still
	// analysed and recorded in history.
	MinBroadcastInterval time.Duration

	// HeartbeatInterval is the producer ping cadence.
	HeartbeatInterval time.Duration
}

// Session drives one producer connection through its lifecycle: handshake,
// then a streaming loop that decodes each binary frame, analyses it, records
// the result, and fans it out to the consumers.
type Session struct {
	conn     Conn
	registry *Registry
	analyzer *dsp.Analyzer
	store    history.Store
	metrics  *observe.Metrics
	log      *slog.Logger
	cfg      SessionConfig

	state         atomic.Int32
	malformedRun  int
	lastBroadcast time.Time
}

// NewSession wires a session for conn. Run must be called to start it.
func NewSession(conn Conn, reg *Registry, an *dsp.Analyzer, store history.Store, m *observe.Metrics, log *slog.Logger, cfg SessionConfig) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Session{
		conn:     conn,
		registry: reg,
		analyzer: an,
		store:    store,
		metrics:  m,
		log:      log.With("producer", conn.RemoteAddr()),
		cfg:      cfg,
	}
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run executes the session until the producer disconnects, the context is
// cancelled, or a protocol violation forces a close. It always leaves the
// session in StateClosed.
func (s *Session) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateClosed))

	s.state.Store(int32(StateHandshaking))
	s.log.Info("producer session started")

	first, binary, err := s.awaitFirstMessage(ctx)
	if err != nil {
		return err
	}

	s.state.Store(int32(StateStreaming))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(hbCtx)

	if err := s.handleMessage(ctx, first, binary); err != nil {
		return err
	}

	for {
		data, binary, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gateway: producer read: %w", err)
		}
		if err := s.handleMessage(ctx, data, binary); err != nil {
			return err
		}
	}
}

// awaitFirstMessage waits up to HandshakeTimeout for the producer's opening
// message, which may be either a JSON hello or the first audio frame.
func (s *Session) awaitFirstMessage(ctx context.Context) ([]byte, bool, error) {
	hsCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}

	data, binary, err := s.conn.Read(hsCtx)
	if err != nil {
		if hsCtx.Err() != nil && ctx.Err() == nil {
			_ = s.conn.Close("handshake timeout")
			return nil, false, ErrHandshakeTimeout
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, fmt.Errorf("gateway: handshake read: %w", err)
	}
	return data, binary, nil
}

// heartbeat pings the producer on a fixed cadence. A failed ping closes the
// connection, which surfaces as a read error in the main loop.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("producer heartbeat failed", "err", err)
					_ = s.conn.Close("heartbeat failed")
				}
				return
			}
		}
	}
}

// handleMessage dispatches one inbound message. Text messages are treated as
// hello/identification payloads; binary messages are audio frames.
func (s *Session) handleMessage(ctx context.Context, data []byte, binary bool) error {
	if !binary {
		s.handleText(ctx, data)
		return nil
	}
	return s.handleFrame(ctx, data)
}

// handleText processes a JSON identification message and greets the producer.
func (s *Session) handleText(ctx context.Context, data []byte) {
	var hello telemetry.Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		s.log.Debug("ignoring unparseable text message", "bytes", len(data))
		return
	}
	s.log.Info("producer identified",
		"source", hello.Source, "status", hello.Status, "type", hello.Type)

	welcome, err := json.Marshal(telemetry.Welcome{
		Status:  "connected",
		Message: "audioscope gateway ready",
	})
	if err != nil {
		return
	}
	if err := s.conn.Write(ctx, welcome, false); err != nil {
		s.log.Warn("welcome write failed", "err", err)
	}
}

// handleFrame decodes, analyses, records, and broadcasts one audio frame.
func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	if s.cfg.MaxFrameBytes > 0 && len(data) > s.cfg.MaxFrameBytes {
		return s.malformed(ctx, "oversized", fmt.Errorf("frame of %d bytes exceeds limit %d", len(data), s.cfg.MaxFrameBytes))
	}

	frame, err := telemetry.Decode(data)
	if err != nil {
		reason := "decode"
		switch {
		case errors.Is(err, telemetry.ErrFrameTooShort):
			reason = "short"
		case errors.Is(err, telemetry.ErrUnknownMessageType):
			reason = "unknown_type"
		}
		return s.malformed(ctx, reason, err)
	}
	s.malformedRun = 0

	start := time.Now()
	m := s.analyzer.Analyze(frame.Samples(), frame.SampleRate)
	if s.metrics != nil {
		s.metrics.AnalyzeDuration.Record(ctx, time.Since(start).Seconds())
		s.metrics.FramesProcessed.Add(ctx, 1)
	}

	upd := telemetry.Update{
		Volume:     m.Volume,
		PeakToPeak: m.PeakToPeak,
		Bands:      m.Bands,
		SNR:        m.SNR,
		Min:        m.Min,
		Max:        m.Max,
		Avg:        m.Avg,
		Timestamp:  frame.Timestamp,
	}
	if m.Filtered != nil {
		upd.FilteredBands = m.Filtered.Bands
		upd.FilteredSNR = m.Filtered.SNR
	}

	if s.store != nil {
		rec := history.Record{Update: upd, ReceivedAt: time.Now()}
		if err := s.store.Add(ctx, rec); err != nil {
			s.log.Warn("history record failed", "err", err)
		}
	}

	// Throttle fan-out only. History and the noise floor see every frame.
	if s.cfg.MinBroadcastInterval > 0 && time.Since(s.lastBroadcast) < s.cfg.MinBroadcastInterval {
		return nil
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("gateway: marshal update: %w", err)
	}
	s.registry.Broadcast(ctx, payload)
	s.lastBroadcast = time.Now()
	return nil
}

// malformed counts one undecodable frame and closes the session once the
// consecutive-run threshold is reached.
func (s *Session) malformed(ctx context.Context, reason string, err error) error {
	s.malformedRun++
	if s.metrics != nil {
		s.metrics.MalformedFrames.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("reason", reason)))
	}
	s.log.Warn("malformed frame",
		"reason", reason, "run", s.malformedRun, "err", err)

	if s.cfg.MalformedThreshold > 0 && s.malformedRun >= s.cfg.MalformedThreshold {
		_ = s.conn.Close("malformed frame threshold exceeded")
		return ErrMalformedThreshold
	}
	return nil
}
