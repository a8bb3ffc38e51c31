// Command audioscope runs the real-time audio telemetry gateway: it accepts
// binary PCM frames from a producer device over WebSocket, analyses each
// frame, and fans the resulting metrics out to dashboard consumers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apetrei/audioscope/internal/config"
	"github.com/apetrei/audioscope/internal/gateway"
	"github.com/apetrei/audioscope/internal/health"
	"github.com/apetrei/audioscope/internal/history"
	"github.com/apetrei/audioscope/internal/observe"
	"github.com/apetrei/audioscope/internal/server"
	"github.com/apetrei/audioscope/pkg/dsp"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", true, "hot-reload analyzer settings when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "audioscope: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "audioscope: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("audioscope starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"history_backend", cfg.History.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── History store ─────────────────────────────────────────────────────────
	store, err := buildStore(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to initialise history store", "err", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Warn("history store close error", "err", err)
		}
	}()

	// ── Gateway ───────────────────────────────────────────────────────────────
	analyzer := dsp.New(cfg.Analyzer.DSP())
	gw := gateway.New(gateway.Config{
		Session: gateway.SessionConfig{
			HandshakeTimeout:     cfg.Producer.HandshakeTimeout,
			MalformedThreshold:   cfg.Producer.MalformedThreshold,
			MaxFrameBytes:        cfg.Producer.MaxFrameBytes,
			MinBroadcastInterval: cfg.Consumer.MinBroadcastInterval,
		},
		QueueSize:      cfg.Consumer.QueueSize,
		PingInterval:   cfg.Consumer.PingInterval,
		PingGrace:      cfg.Consumer.PingGrace,
		InitialHistory: cfg.Consumer.InitialHistory,
	}, analyzer, store, metrics, logger)

	// ── Config watcher ────────────────────────────────────────────────────────
	if *watchConfig {
		watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
			gw.UpdateAnalyzerConfig(next.Analyzer.DSP())
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New([]health.Checker{health.StoreChecker(store)})
	srv := server.New(cfg.Server, gw, healthHandler, metrics, cfg.Producer.MaxFrameBytes, logger)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildStore creates the configured history backend.
func buildStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case config.HistoryPostgres:
		return history.NewPostgresStore(ctx, cfg.DSN, cfg.Capacity, cfg.BufferSize, cfg.FlushInterval)
	default:
		return history.NewMemStore(cfg.Capacity), nil
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
