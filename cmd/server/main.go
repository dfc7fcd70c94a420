package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/brojonat/homepass/service/catalog"
	"github.com/brojonat/homepass/service/config"
	"github.com/brojonat/homepass/service/db"
	"github.com/brojonat/homepass/service/metrics"
	natspkg "github.com/brojonat/homepass/service/nats"
	"github.com/brojonat/homepass/service/server"
	"github.com/brojonat/homepass/service/shares"
	"github.com/brojonat/homepass/service/solana"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"program_id", cfg.ProgramID,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL, cfg.RPCRequestsPerSecond)
	solanaClient := solana.NewClient(solanaRPC, solana.EndpointLabel(cfg.SolanaRPCURL), m, logger).
		WithConfirmTimeout(cfg.ConfirmTimeout)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL, "rps", cfg.RPCRequestsPerSecond)

	catalogBackoff := backoff.NewExponentialBackOff()
	catalogBackoff.MaxElapsedTime = time.Minute
	configs, err := catalog.NewFetcher(cfg.CatalogURL, nil, logger).FetchWithRetry(ctx, catalogBackoff)
	if err != nil {
		logger.Error("failed to load property catalog", "url", cfg.CatalogURL, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded property catalog", "properties", len(configs))

	reader := shares.NewReader(solanaClient, cfg.ProgramID, logger)
	tracker := shares.NewTracker(reader, configs, m, logger)
	executor := shares.NewExecutor(solanaClient, tracker, cfg.ProgramID, m, logger)
	resolver := catalog.NewResolver(cfg.ListingPropertyMap, cfg.DefaultPropertyID)

	httpServer := server.New(cfg.ServerAddr, tracker, executor, resolver, m, logger)

	if cfg.SignerKeypairPath != "" {
		signer, err := solana.LoadKeypairSigner(cfg.SignerKeypairPath)
		if err != nil {
			logger.Error("failed to load signer keypair", "path", cfg.SignerKeypairPath, "error", err)
			os.Exit(1)
		}
		httpServer.WithSigner(signer)
		logger.Info("signing identity connected", "public_key", signer.PublicKey())
	} else {
		logger.Warn("no signer keypair configured, actions will be rejected")
	}

	// Optional NATS event publishing
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		notifier := natspkg.NewNotifier(publisher, logger)
		tracker.WithNotifier(notifier)
		executor.WithNotifier(notifier)
	} else {
		logger.Warn("NATS_URL not set, events will not be published")
	}

	// Optional action receipts
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		store := db.NewStore(dbPool).WithMetrics(m)
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		executor.WithReceipts(store)
		httpServer.WithReceipts(store)
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, action receipts will not be recorded")
	}

	// Initial pass; failures are kept in the snapshot and retried on the next tick.
	if _, err := tracker.Refresh(ctx, httpServer.Owner()); err != nil {
		logger.Warn("initial refresh failed", "error", err)
	}
	go tracker.Run(ctx, cfg.RefreshInterval, httpServer.Owner)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"refresh_interval", cfg.RefreshInterval,
		"nats_enabled", cfg.NATSURL != "",
		"db_enabled", cfg.DatabaseURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
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
