package sheets

import (
	"budget/internal/core"
	"context"
)

// Ports for outbound adapters.
type (
	// BudgetSource supplies the inputs of a run. Implementations must return
	// rows in their stored order.
	BudgetSource interface {
		CurrencyRates(ctx context.Context) (core.RateTable, error)
		TargetDates(ctx context.Context) ([]core.Date, error)
		TransactionCatalog(ctx context.Context) ([]core.Transaction, error)
		FrequencyRanks(ctx context.Context) (core.FrequencyRank, error)
	}

	// BudgetSink receives the outputs of a run.
	BudgetSink interface {
		// WriteDailyResult stores the result of the rowIndex-th target date.
		WriteDailyResult(ctx context.Context, rowIndex int, r core.DailyResult) error
		// WriteSortedCatalog replaces the stored catalog with the given order.
		WriteSortedCatalog(ctx context.Context, catalog []core.Transaction) error
	}

	// DailyResultBatchWriter is implemented by sinks that can store every
	// daily result in one call. Results are indexed by position.
	DailyResultBatchWriter interface {
		WriteDailyResults(ctx context.Context, results []core.DailyResult) error
	}

	// ProgressNotifier receives advisory run milestones.
	ProgressNotifier interface {
		Notify(ctx context.Context, p core.Progress) error
	}

	// RunRecorder keeps a history of runs.
	RunRecorder interface {
		RecordRun(ctx context.Context, r core.RunRecord) error
	}
)
