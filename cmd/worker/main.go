package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/config"
	"github.com/brojonat/homepass/service/metrics"
	natspkg "github.com/brojonat/homepass/service/nats"
	"github.com/brojonat/homepass/service/shares"
	solanapkg "github.com/brojonat/homepass/service/solana"
)

// The snapshot worker re-reads every catalog property on REFRESH_INTERVAL
// and publishes each snapshot to NATS. It never signs anything.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting snapshot worker",
		"refresh_interval", cfg.RefreshInterval,
		"program_id", cfg.ProgramID,
		"log_level", cfg.LogLevel,
	)

	if cfg.NATSURL == "" {
		logger.Error("NATS_URL is required for the snapshot worker")
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	endpoint := solanapkg.EndpointLabel(cfg.SolanaRPCURL)
	solanaClient := solanapkg.NewClient(
		solanapkg.NewRPCClient(cfg.SolanaRPCURL, cfg.RPCRequestsPerSecond),
		endpoint, m, logger,
	)
	logger.Info("initialized solana RPC client", "endpoint", endpoint, "rps", cfg.RPCRequestsPerSecond)

	catalogBackoff := backoff.NewExponentialBackOff()
	catalogBackoff.MaxElapsedTime = time.Minute
	configs, err := catalog.NewFetcher(cfg.CatalogURL, nil, logger).FetchWithRetry(ctx, catalogBackoff)
	if err != nil {
		logger.Error("failed to load property catalog", "url", cfg.CatalogURL, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded property catalog", "properties", len(configs))

	// Initialize NATS publisher
	publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	reader := shares.NewReader(solanaClient, cfg.ProgramID, logger)
	tracker := shares.NewTracker(reader, configs, m, logger).
		WithNotifier(natspkg.NewNotifier(publisher, logger))

	watchOwner := func() *solana.PublicKey { return cfg.WatchOwner }
	if cfg.WatchOwner == nil {
		logger.Info("WATCH_OWNER not set, snapshots carry pool state only")
	}

	if _, err := tracker.Refresh(ctx, watchOwner()); err != nil {
		logger.Warn("initial refresh failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(ctx, cfg.RefreshInterval, watchOwner)
	}()

	logger.Info("snapshot worker initialized, all dependencies ready",
		"endpoint", endpoint,
		"properties", len(configs),
		"metrics_addr", cfg.MetricsAddr,
	)

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	cancel()
	<-done
	logger.Info("shutdown complete", "generation", tracker.Current().Generation)
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
