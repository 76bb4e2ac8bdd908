package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"budget/internal/core"
	"budget/internal/sheets"
)

// BudgetService runs the budget workflows against a source and a sink.
type BudgetService struct {
	source     sheets.BudgetSource
	sink       sheets.BudgetSink
	notifier   sheets.ProgressNotifier
	aggregator *Aggregator
	sortOpts   []SortOption
	logger     *slog.Logger
	now        func() time.Time
}

// BudgetOption configures a BudgetService.
type BudgetOption func(*BudgetService)

// WithNotifier sets the progress notifier.
func WithNotifier(n sheets.ProgressNotifier) BudgetOption {
	return func(s *BudgetService) { s.notifier = n }
}

// WithAggregator replaces the default aggregator.
func WithAggregator(a *Aggregator) BudgetOption {
	return func(s *BudgetService) {
		if a != nil {
			s.aggregator = a
		}
	}
}

// WithSortOptions sets the options passed to SortCatalog.
func WithSortOptions(opts ...SortOption) BudgetOption {
	return func(s *BudgetService) { s.sortOpts = opts }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) BudgetOption {
	return func(s *BudgetService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now, used to stamp run records.
func WithClock(now func() time.Time) BudgetOption {
	return func(s *BudgetService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBudgetService creates a new budget service
func NewBudgetService(source sheets.BudgetSource, sink sheets.BudgetSink, opts ...BudgetOption) *BudgetService {
	s := &BudgetService{
		source: source,
		sink:   sink,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.aggregator == nil {
		s.aggregator = NewAggregator(WithAggregatorLogger(s.logger))
	}
	return s
}

// UpdateBudget loads a fresh snapshot, sorts the catalog, computes the total
// of every target date over the sorted catalog, then writes the results and
// the sorted catalog.
func (s *BudgetService) UpdateBudget(ctx context.Context) (core.RunRecord, error) {
	if s.source == nil || s.sink == nil {
		return core.RunRecord{}, fmt.Errorf("budget service not properly initialized")
	}

	run := core.RunRecord{Operation: core.OpUpdateBudget, Started: s.now()}
	s.notify(ctx, core.Progress{Stage: core.StageStarting, Operation: run.Operation, At: run.Started})

	err := s.updateBudget(ctx, &run)
	return s.finish(ctx, run, err)
}

func (s *BudgetService) updateBudget(ctx context.Context, run *core.RunRecord) error {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	run.Dates = len(snap.Dates)
	run.Transactions = len(snap.Catalog)

	sorted, err := SortCatalog(snap.Catalog, snap.Ranks, s.sortOpts...)
	if err != nil {
		return fmt.Errorf("sort catalog: %w", err)
	}

	results, err := s.aggregator.Aggregate(snap.Dates, sorted, snap.Rates)
	if err != nil {
		return err
	}
	for _, r := range results {
		run.Matches += r.Matches
	}

	if err := s.writeResults(ctx, results); err != nil {
		return err
	}
	if err := s.sink.WriteSortedCatalog(ctx, sorted); err != nil {
		return fmt.Errorf("write sorted catalog: %w", err)
	}
	return nil
}

// SortCatalog reorders the stored catalog by frequency rank.
func (s *BudgetService) SortCatalog(ctx context.Context) (core.RunRecord, error) {
	if s.source == nil || s.sink == nil {
		return core.RunRecord{}, fmt.Errorf("budget service not properly initialized")
	}

	run := core.RunRecord{Operation: core.OpSortCatalog, Started: s.now()}
	s.notify(ctx, core.Progress{Stage: core.StageStarting, Operation: run.Operation, At: run.Started})

	err := s.sortCatalog(ctx, &run)
	return s.finish(ctx, run, err)
}

func (s *BudgetService) sortCatalog(ctx context.Context, run *core.RunRecord) error {
	var (
		catalog []core.Transaction
		ranks   core.FrequencyRank
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		catalog, err = s.source.TransactionCatalog(gctx)
		return wrapLoad("transaction catalog", err)
	})
	g.Go(func() (err error) {
		ranks, err = s.source.FrequencyRanks(gctx)
		return wrapLoad("frequency ranks", err)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	run.Transactions = len(catalog)

	sorted, err := SortCatalog(catalog, ranks, s.sortOpts...)
	if err != nil {
		return fmt.Errorf("sort catalog: %w", err)
	}
	if err := s.sink.WriteSortedCatalog(ctx, sorted); err != nil {
		return fmt.Errorf("write sorted catalog: %w", err)
	}
	return nil
}

// loadSnapshot reads the four inputs of a run concurrently.
func (s *BudgetService) loadSnapshot(ctx context.Context) (core.Snapshot, error) {
	var snap core.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Rates, err = s.source.CurrencyRates(gctx)
		return wrapLoad("currency rates", err)
	})
	g.Go(func() (err error) {
		snap.Dates, err = s.source.TargetDates(gctx)
		return wrapLoad("target dates", err)
	})
	g.Go(func() (err error) {
		snap.Catalog, err = s.source.TransactionCatalog(gctx)
		return wrapLoad("transaction catalog", err)
	})
	g.Go(func() (err error) {
		snap.Ranks, err = s.source.FrequencyRanks(gctx)
		return wrapLoad("frequency ranks", err)
	})
	if err := g.Wait(); err != nil {
		return core.Snapshot{}, err
	}

	s.logger.DebugContext(ctx, "Loaded budget snapshot",
		"rates", len(snap.Rates),
		"dates", len(snap.Dates),
		"transactions", len(snap.Catalog),
		"ranks", len(snap.Ranks))
	return snap, nil
}

func (s *BudgetService) writeResults(ctx context.Context, results []core.DailyResult) error {
	if bw, ok := s.sink.(sheets.DailyResultBatchWriter); ok {
		if err := bw.WriteDailyResults(ctx, results); err != nil {
			return fmt.Errorf("write daily results: %w", err)
		}
		return nil
	}
	for i, r := range results {
		if err := s.sink.WriteDailyResult(ctx, i, r); err != nil {
			return fmt.Errorf("write daily result %d (%s): %w", i, r.Date, err)
		}
	}
	return nil
}

func (s *BudgetService) finish(ctx context.Context, run core.RunRecord, err error) (core.RunRecord, error) {
	run.Finished = s.now()
	run.Err = err

	if rec, ok := s.sink.(sheets.RunRecorder); ok {
		if recErr := rec.RecordRun(ctx, run); recErr != nil {
			s.logger.WarnContext(ctx, "Failed to record budget run", "operation", run.Operation, "error", recErr)
		}
	}

	stage := core.StageComplete
	if err != nil {
		stage = core.StageFailed
		s.logger.ErrorContext(ctx, "Budget run failed",
			"operation", run.Operation,
			"error", err)
	} else {
		s.logger.InfoContext(ctx, "Budget run complete",
			"operation", run.Operation,
			"dates", run.Dates,
			"transactions", run.Transactions,
			"matches", run.Matches,
			"duration", run.Duration())
	}
	s.notify(ctx, core.Progress{
		Stage:        stage,
		Operation:    run.Operation,
		Dates:        run.Dates,
		Transactions: run.Transactions,
		Err:          err,
		At:           run.Finished,
	})
	return run, err
}

// notify delivers p; failures are logged and otherwise ignored.
func (s *BudgetService) notify(ctx context.Context, p core.Progress) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "Failed to deliver progress notification",
			"stage", p.Stage,
			"operation", p.Operation,
			"error", err)
	}
}

func wrapLoad(what string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}
