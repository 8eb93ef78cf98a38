// Package cli holds the startup plumbing shared by cmd/bilancio and
// cmd/bilancio-worker.
package cli

import (
	"os"

	"github.com/joho/godotenv"

	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/store"
	"bilancio/internal/store/postgres"
	"bilancio/internal/store/sqlite"
)

// Bootstrap loads the environment, configuration, and logger for one
// binary and installs the logger as the process default. The .env file
// is optional; an invalid configuration ends the process.
func Bootstrap(component string) (*config.Config, *log.Logger) {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: component,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	return cfg, logger
}

// OpenStore opens the configured storage backend, running migrations
// on the way up. Exits the process on failure; neither binary can do
// anything without storage.
func OpenStore(logger *log.Logger, cfg *config.Config) store.Store {
	var (
		st  store.Store
		err error
	)

	switch cfg.StorageDriver {
	case "postgres":
		st, err = postgres.Open(cfg.PostgresDSN)
	default:
		st, err = sqlite.Open(cfg.SQLiteDBPath)
	}
	if err != nil {
		logger.Error("Failed to open storage",
			"driver", cfg.StorageDriver,
			"error", err)
		os.Exit(1)
	}

	logger.Info("Storage ready", "driver", cfg.StorageDriver)
	return st
}
