// Package cli provides common CLI initialization utilities shared by
// cmd/budget and cmd/budget-worker.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"budget/internal/backend"
	"budget/internal/config"
	"budget/internal/log"
	"budget/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads configuration from the environment and validates it.
func LoadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the logger described by LOG_LEVEL and LOG_FORMAT and
// sets it as the default logger. Invalid settings fall back to info/text.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logger, err := log.FromSettings(cfg.LogLevel, cfg.LogFormat, component)
	if err != nil {
		logger = log.New(log.Config{Level: slog.LevelInfo, Component: component})
		logger.Warn("Invalid log settings, using defaults", "error", err)
	}
	log.SetDefault(logger)
	return logger
}

// OpenBackend creates the data backend selected by DATA_BACKEND.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.Backend, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	b, err := backend.NewFactory(logger.For(log.ComponentBackend)).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}
	return b, nil
}

// ServiceOptions translates the budget rules of cfg into service options.
func ServiceOptions(cfg *config.Config, b *backend.Backend, logger *slog.Logger) []services.BudgetOption {
	opts := []services.BudgetOption{
		services.WithLogger(logger),
		services.WithAggregator(services.NewAggregator(
			services.WithMarkerAccounts(cfg.MarkerAccounts...),
			services.WithAggregatorLogger(logger),
		)),
		services.WithSortOptions(services.WithTieBreak(services.TieBreak(cfg.SortTieBreak))),
	}
	if b.Notifier != nil {
		opts = append(opts, services.WithNotifier(b.Notifier))
	}
	return opts
}

// NewBudgetService wires a budget service onto b.
func NewBudgetService(cfg *config.Config, b *backend.Backend, logger *log.Logger) *services.BudgetService {
	svcLogger := logger.For(log.ComponentBudget)
	return services.NewBudgetService(b.Source, b.Sink, ServiceOptions(cfg, b, svcLogger)...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
