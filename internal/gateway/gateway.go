package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/apetrei/audioscope/internal/history"
	"github.com/apetrei/audioscope/internal/observe"
	"github.com/apetrei/audioscope/pkg/dsp"
	"github.com/apetrei/audioscope/pkg/telemetry"
)

// Config tunes the gateway's producer and consumer handling.
type Config struct {
	// Session configures the producer state machine.
	Session SessionConfig

	// QueueSize bounds each consumer's outbound queue.
	QueueSize int

	// PingInterval is the consumer liveness ping cadence.
	PingInterval time.Duration

	// PingGrace is how many consecutive ping failures a consumer survives.
	PingGrace int

	// InitialHistory is the number of recent records sent to a consumer on
	// connect.
	InitialHistory int
}

// Gateway is the telemetry core: it owns the connection registry, the signal
// analyzer, and the history store, and serves producer and consumer
// connections handed over by the transport layer.
type Gateway struct {
	registry *Registry
	analyzer *dsp.Analyzer
	store    history.Store
	metrics  *observe.Metrics
	log      *slog.Logger
	cfg      Config
}

// New assembles a Gateway. store may be nil to disable history entirely.
func New(cfg Config, an *dsp.Analyzer, store history.Store, m *observe.Metrics, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &Gateway{
		registry: NewRegistry(cfg.QueueSize, m, log),
		analyzer: an,
		store:    store,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// UpdateAnalyzerConfig hot-applies new analysis settings. In-flight frames
// finish on the previous settings; the next frame picks up the new ones.
func (g *Gateway) UpdateAnalyzerConfig(cfg dsp.Config) {
	g.analyzer.SetConfig(cfg)
	g.log.Info("analyzer configuration updated",
		"filterMode", cfg.FilterMode, "windowSize", cfg.WindowSize)
}

// HasProducer reports whether a producer currently streams into the gateway.
func (g *Gateway) HasProducer() bool { return g.registry.HasProducer() }

// ConsumerCount returns the number of connected consumers.
func (g *Gateway) ConsumerCount() int { return g.registry.ConsumerCount() }

// History returns the gateway's record store, or nil when history is off.
func (g *Gateway) History() history.Store { return g.store }

// Shutdown closes every consumer connection. Producer sessions end via
// their context.
func (g *Gateway) Shutdown(reason string) {
	g.registry.CloseAll(reason)
}

// ServeProducer runs conn as the authoritative producer until it disconnects,
// is superseded, or violates the protocol. It blocks for the lifetime of the
// connection.
func (g *Gateway) ServeProducer(ctx context.Context, conn Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.registry.AcquireProducer(conn, cancel)

	sess := NewSession(conn, g.registry, g.analyzer, g.store, g.metrics, g.log, g.cfg.Session)
	err := sess.Run(sctx)

	wasCurrent := g.registry.ReleaseProducer(conn)
	if !wasCurrent && errors.Is(err, context.Canceled) {
		err = ErrSuperseded
	}

	reason := sessionEndReason(ctx, err)
	if g.metrics != nil {
		g.metrics.ProducerSessions.Add(context.Background(), 1,
			metric.WithAttributes(observe.Attr("reason", reason)))
	}
	g.log.Info("producer session ended",
		"producer", conn.RemoteAddr(), "reason", reason, "err", err)

	_ = conn.Close("session ended")
	return err
}

// sessionEndReason maps a session outcome to a metric label.
func sessionEndReason(parent context.Context, err error) string {
	switch {
	case err == nil:
		return "disconnect"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrMalformedThreshold):
		return "malformed"
	case parent.Err() != nil:
		return "shutdown"
	default:
		return "disconnect"
	}
}

// ServeConsumer registers conn as a dashboard consumer, sends it the initial
// history snapshot, and pumps queued updates to it until it disconnects. It
// blocks for the lifetime of the connection.
func (g *Gateway) ServeConsumer(ctx context.Context, conn Conn) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Snapshot goes out before registration so a live broadcast cannot
	// land ahead of it on the wire.
	if err := g.sendSnapshot(cctx, conn); err != nil {
		return err
	}

	c := g.registry.Register(conn)
	defer g.registry.Unregister(c)

	// Consumers are not expected to send anything, but reading is the only
	// way to notice a closed peer promptly. Inbound data is discarded.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(cctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-cctx.Done():
			return cctx.Err()
		case <-c.done:
			return nil
		case payload := <-c.queue:
			if err := conn.Write(cctx, payload, false); err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(cctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				missed++
				if missed > g.cfg.PingGrace {
					_ = conn.Close("unresponsive")
					return nil
				}
				continue
			}
			missed = 0
		}
	}
}

// sendSnapshot delivers the recent-history snapshot to a new consumer.
func (g *Gateway) sendSnapshot(ctx context.Context, conn Conn) error {
	if g.store == nil || g.cfg.InitialHistory <= 0 {
		return nil
	}
	recs := g.store.Latest(g.cfg.InitialHistory)
	if len(recs) == 0 {
		return nil
	}

	updates := make([]telemetry.Update, len(recs))
	for i, rec := range recs {
		updates[i] = rec.Update
	}
	payload, err := json.Marshal(telemetry.Snapshot{
		Type:    telemetry.SnapshotType,
		Records: updates,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, payload, false)
}
