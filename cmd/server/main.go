// Command groupq-server is the groupq group-queue server process.
// It loads configuration, initialises instance identity, opens the group
// store, and starts the HTTP/WebSocket transport.
//
// Usage:
//
//	groupq-server [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groupq-io/groupq/internal/broker"
	"github.com/groupq-io/groupq/internal/config"
	"github.com/groupq-io/groupq/internal/ident"
	"github.com/groupq-io/groupq/internal/metrics"
	transphttp "github.com/groupq-io/groupq/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "groupq: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise instance identity ──────────────────────────────────────
	inst, err := ident.NewInstance(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	slog.Info("groupq starting",
		"node_id", inst.ID(),
		"host", cfg.Node.Host,
		"port", cfg.Node.Port,
		"data_dir", inst.DataDir(),
		"store_backend", cfg.Store.Backend,
		"capacity", cfg.Queue.Capacity,
	)

	// ── 4. Initialise metrics registry ───────────────────────────────────────
	metricsReg := &metrics.Registry{}

	// ── 5. Initialise broker (store + per-group queues) ──────────────────────
	b, err := broker.New(cfg, broker.WithMetrics(metricsReg))
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}

	// ── 6. Start HTTP / WebSocket transport ──────────────────────────────────
	srv := transphttp.New(b, cfg, string(inst.ID()), metricsReg)
	addr := fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("groupq ready", "node_id", inst.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 7. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 8. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := b.Close(); err != nil {
		slog.Warn("broker close error", "err", err)
	}

	slog.Info("groupq stopped")
	return nil
}
