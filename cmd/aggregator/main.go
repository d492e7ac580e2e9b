package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yieldagg/internal/aggregator"
	"yieldagg/internal/cache"
	"yieldagg/internal/config"
	"yieldagg/internal/metrics"
	"yieldagg/internal/persistence"
	"yieldagg/internal/poller"
	"yieldagg/internal/server"
	"yieldagg/pkg/chain/mainnet"
	"yieldagg/pkg/client"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Logging)
	log.Info().Msg("Starting yield aggregator")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("Yield aggregator shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize metrics
	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	// Initialize persistence
	history, err := persistence.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		return err
	}
	defer history.Close()
	log.Info().Str("path", cfg.Persistence.SQLitePath).Msg("SQLite initialized")

	// Initialize RPC client
	rpcClient, err := mainnet.NewClient(cfg.Chain.RPCURL, cfg.Chain.RequestsPerSecond)
	if err != nil {
		return err
	}
	defer rpcClient.Close()
	if chainID, err := rpcClient.ChainID(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not read chain ID")
	} else {
		log.Info().Str("chain_id", chainID.String()).Msg("RPC client connected")
	}

	httpClient := client.NewHTTPClient(client.Options{
		Timeout:           cfg.Feed.HTTPTimeout,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
	})

	// Initialize cache and object graph
	store, err := cache.New(cfg.Cache.Timeouts, cache.WithMetrics(m))
	if err != nil {
		return err
	}
	agg, err := aggregator.New(cfg, store, rpcClient, httpClient, m)
	if err != nil {
		return err
	}

	pollerSvc := poller.New(agg, history, m, cfg.Poller.Interval)

	// Start all services
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pollerSvc.Run(gCtx)
	})

	if cfg.API.Enabled {
		api := server.New(agg, pollerSvc, history, cfg.API.PushInterval)
		g.Go(func() error {
			return api.Run(gCtx, cfg.API.Port)
		})
	}

	// Wait for all goroutines
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
