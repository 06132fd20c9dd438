package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/config"
	"github.com/bgalvandev/clinicsay-migrations/connectors"
	delivery "github.com/bgalvandev/clinicsay-migrations/delivery/http"
	"github.com/bgalvandev/clinicsay-migrations/engine"
	"github.com/bgalvandev/clinicsay-migrations/migrations"
	"github.com/bgalvandev/clinicsay-migrations/pkg/logging"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
	"github.com/bgalvandev/clinicsay-migrations/store"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	tenant := flag.String("tenant", "", "tenant id the migrated rows belong to")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tenantID := uuid.Nil
	if *tenant != "" {
		tenantID, err = uuid.Parse(*tenant)
		if err != nil {
			logger.Fatal("Invalid tenant id", zap.String("tenant", *tenant), zap.Error(err))
		}
	}

	if err := run(cfg, tenantID, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, tenantID uuid.UUID, logger *zap.Logger) error {
	m := metrics.New(prometheus.NewRegistry())

	storeClient, err := store.NewClient(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxLifetime:  cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer storeClient.Close()

	transport, err := connectors.NewClient(&connectors.ClientConfig{
		BaseURL:                 cfg.Source.BaseURL,
		APIKey:                  cfg.Source.APIKey,
		RequestTimeout:          cfg.Source.RequestTimeout,
		RequestsPerSecond:       cfg.Source.RequestsPerSecond,
		Burst:                   cfg.Source.Burst,
		BreakerFailureThreshold: cfg.Source.BreakerFailureThreshold,
		BreakerTimeout:          cfg.Source.BreakerTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("transport initialization failed: %w", err)
	}

	oracle, err := connectors.NewOracleClient(&connectors.OracleClientConfig{
		URL:            cfg.Oracle.URL,
		APIKey:         cfg.Oracle.APIKey,
		RequestTimeout: cfg.Oracle.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("oracle initialization failed: %w", err)
	}

	reader := connectors.NewPaginatedReader(transport, connectors.ReaderConfig{
		PageSize:    cfg.Migration.PageSize,
		PageTimeout: cfg.Migration.PageTimeout,
	}, logger, m)

	reconciler := engine.NewReconciliationEngine(oracle, engine.NewReconciliationCache(), logger, m)
	loader := engine.NewChunkedLoader(storeClient, engine.LoaderConfig{
		ChunkSize:    cfg.Migration.ChunkSize,
		ChunkTimeout: cfg.Migration.ChunkTimeout,
	}, logger, m)

	registry := engine.NewRunRegistry()
	orchestrator := engine.NewOrchestrator(reconciler, reader, loader, storeClient, engine.OrchestratorConfig{
		DetailConcurrency: cfg.Migration.DetailConcurrency,
	}, registry, logger, m)

	catalog := migrations.Catalog(&migrations.Deps{
		Reader:       reader,
		Transport:    transport,
		DB:           storeClient.DB(),
		TenantID:     tenantID,
		SkipMigrated: cfg.Migration.SkipMigrated,
	})

	server := delivery.NewServer(delivery.ServerConfig{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		Environment:  cfg.Service.Environment,
	}, orchestrator, registry, catalog, storeClient, logger, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("Migration service started",
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.Int("entities", len(catalog)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
