// Package main provides the standalone entry point for the variant
// curation server. This version requires no external databases: curation
// data lives in a local SQLite file and only a variant index is needed.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/variant-curation-server/internal/api"
	"github.com/variant-curation-server/internal/config"
	"github.com/variant-curation-server/internal/domain"
	"github.com/variant-curation-server/internal/gateway"
	"github.com/variant-curation-server/internal/litestore"
)

func main() {
	cfg := config.LoadLiteConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	logger.WithField("data_dir", cfg.DataDir).Info("Starting variant curation server (lite)")

	if err := cfg.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}

	store, err := litestore.NewSQLiteStore(cfg.SavedVariantDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open curation store")
	}
	defer store.Close()

	indexGateway, err := gateway.NewElasticsearchGateway(logger, domain.ElasticsearchConfig{
		Addresses: []string{cfg.ElasticsearchAddress},
	}, cfg.DefaultIndex)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create variant index gateway")
	}

	server := api.NewLiteServer(cfg, logger, store, indexGateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

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
