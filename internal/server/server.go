// Package server exposes the telemetry gateway over HTTP: WebSocket
// endpoints for the producer device and the dashboard consumers, a small
// REST API over the history store, and the operational endpoints
// (/healthz, /readyz, /metrics).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/apetrei/audioscope/internal/config"
	"github.com/apetrei/audioscope/internal/gateway"
	"github.com/apetrei/audioscope/internal/health"
	"github.com/apetrei/audioscope/internal/observe"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the gateway.
type Server struct {
	cfg     config.ServerConfig
	gw      *gateway.Gateway
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger

	maxFrameBytes int
}

// New assembles the server around an already-wired gateway.
func New(cfg config.ServerConfig, gw *gateway.Gateway, h *health.Handler, m *observe.Metrics, maxFrameBytes int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:           cfg,
		gw:            gw,
		health:        h,
		metrics:       m,
		log:           log,
		maxFrameBytes: maxFrameBytes,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleProducer)
	mux.HandleFunc("/ws-dashboard", s.handleConsumer)

	mux.HandleFunc("/api/data/latest", s.handleLatest)
	mux.HandleFunc("/api/data/stats", s.handleStats)

	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// Run serves HTTP until ctx is cancelled, then drains connections and shuts
// the gateway's consumers down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.cfg.TLS != nil {
			s.log.Info("listening with TLS", "addr", s.cfg.ListenAddr)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.log.Info("listening", "addr", s.cfg.ListenAddr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	})

	g.Go(func() error {
		<-gctx.Done()

		s.gw.Shutdown("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
