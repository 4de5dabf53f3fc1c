// Package cli provides common initialization shared by the creditsd,
// monthly-worker, and audit-worker entrypoints.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/martinsvarc/creditmanagement/internal/config"
	applog "github.com/martinsvarc/creditmanagement/internal/log"
	"github.com/martinsvarc/creditmanagement/internal/storage"
)

// SetupLogger initializes structured logging and installs it as the process
// default.
func SetupLogger(component string) *applog.Logger {
	logger := applog.New(applog.DefaultConfig()).WithComponent(component)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitStore opens the ledger store, running migrations.
// Returns the repository or exits the process on failure.
func InitStore(logger *applog.Logger, dbPath string) *storage.LedgerRepository {
	repo, err := storage.NewLedgerRepository(dbPath)
	if err != nil {
		logger.Error("failed to initialize ledger store", applog.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
