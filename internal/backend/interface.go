package backend

import (
	"context"

	"budget/internal/amqp"
	"budget/internal/core"
	"budget/internal/sheets"
	gsheet "budget/internal/sheets/google"
)

// SnapshotImporter replaces every stored input of a budget at once.
type SnapshotImporter interface {
	ReplaceSnapshot(ctx context.Context, snap core.Snapshot) error
}

// RunHistory lists recorded runs, newest first.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]core.RunRecord, error)
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Backend bundles the ports of one data backend. Notifier, Importer and
// History are nil when the backend has no such capability.
type Backend struct {
	Type     BackendType
	Source   sheets.BudgetSource
	Sink     sheets.BudgetSink
	Notifier sheets.ProgressNotifier
	Importer SnapshotImporter
	History  RunHistory
	Cleanup  CleanupFunc
}

// Close runs the cleanup function, if any.
func (b *Backend) Close() error {
	if b == nil || b.Cleanup == nil {
		return nil
	}
	return b.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*Backend, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Backend type
	Type BackendType

	// Memory specific
	DataFile string

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific
	Sheets gsheet.Config

	// Progress notifications; disabled when AMQP.URL is empty
	AMQP amqp.Config
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
