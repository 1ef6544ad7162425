// Package config provides configuration management for the curation
// server. This file contains the lightweight configuration for
// standalone single-node operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no PostgreSQL or Redis and stores curation data in a
// local SQLite file.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Variant index
	ElasticsearchAddress string // Single-node index address
	DefaultIndex         string

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Server settings
	HTTPPort int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".variant-curation")

	return &LiteConfig{
		DataDir:              dataDir,
		ElasticsearchAddress: "http://localhost:9200",
		DefaultIndex:         "variants",
		CacheMaxItems:        1000,
		CacheTTL:             24 * time.Hour,
		HTTPPort:             8080,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("CURATION_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Variant index
	if v := os.Getenv("CURATION_ELASTICSEARCH_ADDRESS"); v != "" {
		cfg.ElasticsearchAddress = v
	}
	if v := os.Getenv("CURATION_DEFAULT_INDEX"); v != "" {
		cfg.DefaultIndex = v
	}

	// Cache settings
	if v := os.Getenv("CURATION_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("CURATION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Server
	if v := os.Getenv("CURATION_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Logging
	if v := os.Getenv("CURATION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CURATION_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// SavedVariantDBPath returns the path to the SQLite curation database.
func (c *LiteConfig) SavedVariantDBPath() string {
	return filepath.Join(c.DataDir, "curation.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
