package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/api"
	"github.com/variant-curation-server/internal/config"
	"github.com/variant-curation-server/internal/database"
	"github.com/variant-curation-server/internal/gateway"
	"github.com/variant-curation-server/internal/repository"
	"github.com/variant-curation-server/internal/service"
	"github.com/variant-curation-server/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting variant curation server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.NewConnection(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
		MaxConnIdle: cfg.Database.ConnMaxLifetime,
		SSLMode:     cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	migrationRunner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), "./migrations", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := migrationRunner.Up(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	migrationRunner.Close()

	// Repositories
	resultStore := repository.NewSearchResultStore(db.Pool, logger)
	savedVariants := repository.NewSavedVariantRepository(db.Pool, logger)
	projects := repository.NewProjectRepository(db.Pool, logger)
	access := repository.NewAccessRepository(db.Pool, logger)
	genes, err := repository.NewGeneRepository(db.Pool, logger, cfg.Cache.GeneLRUSize)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create gene repository")
	}

	// Variant index gateway
	indexGateway, err := gateway.NewElasticsearchGateway(logger, cfg.Elasticsearch, cfg.Elasticsearch.DefaultIndex)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create variant index gateway")
	}

	// OMIM client with optional Redis cache
	var omimCache *external.CacheClient
	if cache, err := external.NewCacheClient(cfg.Cache); err != nil {
		logger.WithError(err).Warn("Redis unavailable, OMIM lookups will not be cached")
	} else {
		omimCache = cache
		defer omimCache.Close()
	}
	omimClient := external.NewOMIMClient(cfg.OMIM, omimCache, logger)

	// Services
	orchestrator := service.NewSearchOrchestrator(
		logger, resultStore, indexGateway, savedVariants, projects, genes, access)
	discovery := service.NewDiscoverySheetAggregator(
		logger, projects, savedVariants, genes, omimClient)

	// Create server
	server := api.NewServer(cfg, logger, orchestrator, discovery)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
