package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budget/internal/amqp"
	"budget/internal/core"
)

// BudgetRunner is the part of services.BudgetService the worker drives.
type BudgetRunner interface {
	UpdateBudget(ctx context.Context) (core.RunRecord, error)
	SortCatalog(ctx context.Context) (core.RunRecord, error)
}

// RunWorker executes run requests received from AMQP.
type RunWorker struct {
	runner BudgetRunner
	logger *slog.Logger
}

func NewRunWorker(runner BudgetRunner, logger *slog.Logger) *RunWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunWorker{runner: runner, logger: logger}
}

// HandleRunRequest runs the requested operation. Errors that a retry cannot
// fix wrap amqp.ErrPermanent so the delivery is dropped instead of requeued.
func (w *RunWorker) HandleRunRequest(ctx context.Context, msg *amqp.RunRequestMessage) error {
	w.logger.InfoContext(ctx, "Processing run request",
		"id", msg.ID,
		"operation", msg.Operation,
		"requested_at", msg.RequestedAt)

	var (
		run core.RunRecord
		err error
	)
	switch msg.Operation {
	case core.OpUpdateBudget:
		run, err = w.runner.UpdateBudget(ctx)
	case core.OpSortCatalog:
		run, err = w.runner.SortCatalog(ctx)
	default:
		return fmt.Errorf("%w: unknown operation %q", amqp.ErrPermanent, msg.Operation)
	}
	if err != nil {
		if isDataError(err) {
			return fmt.Errorf("%w: %s: %w", amqp.ErrPermanent, msg.Operation, err)
		}
		return fmt.Errorf("%s: %w", msg.Operation, err)
	}

	w.logger.InfoContext(ctx, "Run request completed",
		"id", msg.ID,
		"operation", run.Operation,
		"matches", run.Matches,
		"duration", run.Duration())
	return nil
}

// isDataError reports failures caused by the budget data itself; they repeat
// until someone edits the data.
func isDataError(err error) bool {
	for _, target := range []error{
		core.ErrMissingRate,
		core.ErrUnrankedFrequency,
		core.ErrDuplicateRank,
		core.ErrMalformedRow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
