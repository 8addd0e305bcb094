package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/asakaida/chronicle/internal/handlers"
	"github.com/asakaida/chronicle/internal/infrastructure/config"
	"github.com/asakaida/chronicle/internal/infrastructure/database"
	"github.com/asakaida/chronicle/internal/infrastructure/logging"
	"github.com/asakaida/chronicle/internal/infrastructure/metrics"
	"github.com/asakaida/chronicle/internal/repositories/sqlstore"
	"github.com/asakaida/chronicle/internal/services"
	"github.com/asakaida/chronicle/internal/services/validation"
	"github.com/asakaida/chronicle/internal/services/versioning"
)

const (
	defaultEnv            = "dev"
	metricsUpdateInterval = 10 * time.Second
)

func main() {
	// Get environment from ENV variable or use default
	env := os.Getenv("ENV")
	if env == "" {
		env = defaultEnv
	}

	// Initialize configuration
	if err := config.InitConfig(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logs, err := logging.FromConfig(cfg.Log).Make()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logs.Close()
	logger := logs.Logger

	// Connect to database
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info().Str("driver", db.Driver).Msg("connected to database")

	// Load the schema description
	schemaPath := cfg.Engine.SchemaPath
	if !filepath.IsAbs(schemaPath) {
		root, err := config.ProjectRoot()
		if err != nil {
			log.Fatalf("Failed to find project root: %v", err)
		}
		schemaPath = filepath.Join(root, schemaPath)
	}

	schemaService, err := services.NewSchemaService()
	if err != nil {
		log.Fatalf("Failed to create schema service: %v", err)
	}
	schema, err := schemaService.LoadSchema(schemaPath)
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}
	logger.Info().Str("path", schemaPath).Strs("entity_types", schema.EntityTypeNames()).Msg("schema loaded")

	validator, err := validation.NewCELValidator(schema)
	if err != nil {
		log.Fatalf("Failed to compile validation rules: %v", err)
	}

	// Metrics
	collector := metrics.NewCollector()
	exporter := metrics.NewPrometheusExporter(collector)

	// Initialize the versioning engine
	dialect, err := sqlstore.DialectFor(db.Driver)
	if err != nil {
		log.Fatalf("Failed to select SQL dialect: %v", err)
	}
	repo := sqlstore.NewRecordRepository(db.DB, dialect)
	engine := versioning.NewEngine(schema, repo,
		versioning.WithValidator(validator),
		versioning.WithObserver(metrics.NewVersionObserver(collector, exporter)),
		versioning.WithLogger(logger.With().Str("component", "versioning").Logger()),
		versioning.WithConflictRetries(cfg.Engine.ConflictRetries),
		versioning.WithPlanCacheBytes(cfg.Engine.ClassifierCacheBytes),
	)
	collector.SetCache(engine.Classifier().Cache())

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(metrics.UnaryServerInterceptor(collector, exporter, &logger)),
	)
	handlers.RegisterVersionServiceServer(grpcServer, handlers.NewVersionHandler(engine, logger))

	// Start listening
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	logger.Info().Str("addr", addr).Msg("gRPC server listening")

	serverErrors := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			serverErrors <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// Metrics HTTP server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	updateCtx, stopUpdates := context.WithCancel(context.Background())
	defer stopUpdates()
	go func() {
		ticker := time.NewTicker(metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-updateCtx.Done():
				return
			case <-ticker.C:
				exporter.Update()
			}
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("server error")
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	}

	stopUpdates()

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown failed")
	}

	// Channel to notify when graceful stop completes
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	// Wait for graceful stop or timeout
	select {
	case <-stopped:
		logger.Info().Msg("server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	logger.Info().Msg("shutdown complete")
}
