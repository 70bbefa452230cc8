// Package main provides the entry point for the study aggregation service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evidlab/study-aggregation-service/internal/config"
	"github.com/evidlab/study-aggregation-service/internal/database"
	"github.com/evidlab/study-aggregation-service/internal/events"
	"github.com/evidlab/study-aggregation-service/internal/observability"
	"github.com/evidlab/study-aggregation-service/internal/repository"
	httpserver "github.com/evidlab/study-aggregation-service/internal/server/http"
	"github.com/evidlab/study-aggregation-service/internal/service"
	"github.com/evidlab/study-aggregation-service/internal/sources"
	"github.com/evidlab/study-aggregation-service/internal/sources/clinicaltrials"
	"github.com/evidlab/study-aggregation-service/internal/sources/cochrane"
	"github.com/evidlab/study-aggregation-service/internal/sources/pubmed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("study-aggregation-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create repositories.
	runRepo := repository.NewPgRunRepository(db)
	paperRepo := repository.NewPgPaperRepository(db)

	// Register the enabled record sources.
	registry := buildRegistry(cfg, logger)

	// Kafka publisher for run lifecycle events. Disabled config yields
	// a no-op publisher, so wiring is unconditional.
	publisher := events.NewPublisher(cfg.Kafka, logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close event publisher")
		}
	}()

	metrics := observability.NewMetrics("study_aggregation")

	svc := service.NewAggregationService(runRepo, paperRepo, registry, publisher, metrics, logger)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, svc, db, metrics, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Strs("sources", enabledSourceNames(registry))
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("study-aggregation-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down study-aggregation-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("study-aggregation-service shutdown complete")
	return nil
}

// buildRegistry creates the source registry with a client per enabled
// source from configuration.
func buildRegistry(cfg *config.Config, logger zerolog.Logger) *sources.Registry {
	registry := sources.NewRegistry()

	registry.Register(pubmed.New(pubmed.Config{
		BaseURL:      cfg.Sources.PubMed.BaseURL,
		APIKey:       cfg.Sources.PubMed.APIKey,
		ContactEmail: cfg.Sources.ContactEmail,
		Timeout:      cfg.Sources.PubMed.Timeout,
		RateLimit:    cfg.Sources.PubMed.RateLimit,
		MaxResults:   cfg.Sources.PubMed.MaxResults,
		Enabled:      cfg.Sources.PubMed.Enabled,
	}))
	registry.Register(cochrane.New(cochrane.Config{
		BaseURL:    cfg.Sources.Cochrane.BaseURL,
		APIKey:     cfg.Sources.Cochrane.APIKey,
		Timeout:    cfg.Sources.Cochrane.Timeout,
		RateLimit:  cfg.Sources.Cochrane.RateLimit,
		MaxResults: cfg.Sources.Cochrane.MaxResults,
		Enabled:    cfg.Sources.Cochrane.Enabled,
	}))
	registry.Register(clinicaltrials.New(clinicaltrials.Config{
		BaseURL:    cfg.Sources.ClinicalTrials.BaseURL,
		Timeout:    cfg.Sources.ClinicalTrials.Timeout,
		RateLimit:  cfg.Sources.ClinicalTrials.RateLimit,
		MaxResults: cfg.Sources.ClinicalTrials.MaxResults,
		Enabled:    cfg.Sources.ClinicalTrials.Enabled,
	}))

	for _, src := range registry.EnabledSources() {
		logger.Info().Str("source", string(src.SourceName())).Msg("record source enabled")
	}

	return registry
}

func enabledSourceNames(registry *sources.Registry) []string {
	var names []string
	for _, src := range registry.EnabledSources() {
		names = append(names, string(src.SourceName()))
	}
	return names
}
