// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/syncroom/syncroom/hub/internal/api"
	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/config"
	"github.com/syncroom/syncroom/hub/internal/generation"
	"github.com/syncroom/syncroom/hub/internal/metrics"
	"github.com/syncroom/syncroom/hub/internal/router"
	"github.com/syncroom/syncroom/hub/internal/store"
)

const shutdownTimeout = 30 * time.Second

// Hub is the main hub process.
type Hub struct {
	cfg       *config.Config
	dir       store.Directory
	verifier  auth.Verifier
	generator generation.Generator
	router    *router.Router
	api       *api.Server
	logger    *slog.Logger
}

// New creates a new hub from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	dir, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	// A hub without a model still serves rooms; "@ai" requests get an error.
	gen, err := generation.New(ctx, cfg.Generation)
	if err != nil {
		logger.Warn("generation service unavailable", "provider", cfg.Generation.Provider, "error", err)
		gen = generation.Unavailable{Reason: err}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	rt := router.New(dir, verifier, gen, rec, logger, router.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MaxMessageBytes:   cfg.Session.MaxMessageBytes,
		MaxConnsPerUser:   cfg.Session.MaxConnsPerUser,
		OutboundQueue:     cfg.Session.OutboundQueue,
		MessagesPerSecond: cfg.Session.MessagesPerSecond,
		MessageBurst:      cfg.Session.MessageBurst,
		GenerationTimeout: cfg.Generation.Timeout.Duration,
		MaxConcurrentGen:  cfg.Generation.MaxConcurrent,
	})

	h := &Hub{
		cfg:       cfg,
		dir:       dir,
		verifier:  verifier,
		generator: gen,
		router:    rt,
		api:       api.NewServer(dir, verifier, rt, rec, reg, cfg, logger),
		logger:    logger.With("component", "hub"),
	}

	if len(cfg.Server.AllowedOrigins) == 0 {
		h.logger.Warn("allowed_origins is empty, every origin is accepted; restrict it in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			h.logger.Warn("allowed_origins contains wildcard '*'; restrict it in production")
			break
		}
	}

	h.logger.Info("hub initialized",
		"storage", cfg.Storage.Driver,
		"verifier", verifier.Name(),
		"generator", gen.Name(),
	)
	return h, nil
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler {
	return h.api.Handler()
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Server.Addr)
	if err != nil {
		h.close()
		return fmt.Errorf("listen: %w", err)
	}
	return h.Serve(ctx, ln)
}

// Serve runs the hub on an existing listener until ctx is canceled.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", ln.Addr().String())
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ServeTLS(ln, h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by http.Server,
		// so the router drains them first and refuses new admissions.
		if err := h.router.Close(shutdownCtx); err != nil {
			h.logger.Warn("router did not drain in time", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = h.router.Close(closeCtx)
		h.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *Hub) close() {
	if err := h.verifier.Close(); err != nil {
		h.logger.Warn("close verifier", "error", err)
	}
	h.logger.Info("closing store")
	if err := h.dir.Close(); err != nil {
		h.logger.Warn("close store", "error", err)
	}
}
