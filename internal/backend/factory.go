package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budget/internal/amqp"
	gsheet "budget/internal/sheets/google"
	"budget/internal/sheets/memory"
	"budget/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		b   *Backend
		err error
	)
	switch config.Type {
	case SQLiteBackend:
		b, err = f.createSQLiteBackend(config)
	case SheetsBackend:
		b, err = f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		b, err = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}
	b.Type = config.Type
	f.attachNotifier(b, config.AMQP)
	return b, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Backend, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &Backend{
		Source:   repo,
		Sink:     repo,
		Importer: repo,
		History:  repo,
		Cleanup:  repo.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*Backend, error) {
	cli, err := gsheet.New(ctx, config.Sheets, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", config.Sheets.SpreadsheetID)

	return &Backend{
		Source: cli,
		Sink:   cli,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*Backend, error) {
	store, err := memory.NewFromFile(config.DataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "data_file", config.DataFile)

	return &Backend{
		Source:   store,
		Sink:     store,
		Notifier: store,
		History:  store,
	}, nil
}

// attachNotifier replaces the backend notifier with an AMQP publisher when a
// broker is configured. A broker that cannot be reached is logged and
// skipped since progress events are advisory.
func (f *DefaultFactory) attachNotifier(b *Backend, cfg amqp.Config) {
	if cfg.URL == "" {
		return
	}
	client, err := amqp.NewClient(cfg, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without progress events", "error", err)
		return
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", cfg.Exchange,
		"progress_key", cfg.ProgressKey)

	b.Notifier = client
	cleanup := b.Cleanup
	b.Cleanup = func() error {
		var errs []error
		if cleanup != nil {
			errs = append(errs, cleanup())
		}
		errs = append(errs, client.Close())
		return errors.Join(errs...)
	}
}
