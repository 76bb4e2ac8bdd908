package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"budget/internal/core"
	ports "budget/internal/sheets"
)

// Ensure interface conformance
var (
	_ ports.BudgetSource     = (*Store)(nil)
	_ ports.BudgetSink       = (*Store)(nil)
	_ ports.ProgressNotifier = (*Store)(nil)
	_ ports.RunRecorder      = (*Store)(nil)
)

// Store keeps a budget in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	rates    core.RateTable
	dates    []core.Date
	catalog  []core.Transaction
	ranks    core.FrequencyRank
	results  map[int]core.DailyResult
	progress []core.Progress
	runs     []core.RunRecord
}

func New(snap core.Snapshot) *Store {
	s := &Store{results: map[int]core.DailyResult{}}
	s.Replace(snap)
	return s
}

// NewFromFile loads a YAML budget file.
func NewFromFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read budget file: %w", err)
	}
	snap, err := ParseBudgetFile(b)
	if err != nil {
		return nil, fmt.Errorf("parse budget file %s: %w", path, err)
	}
	return New(snap), nil
}

// Replace swaps in a new set of inputs and clears previous results.
func (s *Store) Replace(snap core.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = make(core.RateTable, len(snap.Rates))
	for k, v := range snap.Rates {
		s.rates[k] = v
	}
	s.dates = slices.Clone(snap.Dates)
	s.catalog = slices.Clone(snap.Catalog)
	s.ranks = slices.Clone(snap.Ranks)
	s.results = map[int]core.DailyResult{}
}

func (s *Store) CurrencyRates(_ context.Context) (core.RateTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(core.RateTable, len(s.rates))
	for k, v := range s.rates {
		out[k] = v
	}
	return out, nil
}

func (s *Store) TargetDates(_ context.Context) ([]core.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dates), nil
}

// TransactionCatalog returns the catalog with Row set to the stored position.
func (s *Store) TransactionCatalog(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.catalog)
	for i := range out {
		out[i].Row = i
	}
	return out, nil
}

func (s *Store) FrequencyRanks(_ context.Context) (core.FrequencyRank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ranks), nil
}

func (s *Store) WriteDailyResult(_ context.Context, rowIndex int, r core.DailyResult) error {
	if rowIndex < 0 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[rowIndex] = r
	return nil
}

func (s *Store) WriteSortedCatalog(_ context.Context, catalog []core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = slices.Clone(catalog)
	return nil
}

// Notify records p.
func (s *Store) Notify(_ context.Context, p core.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, p)
	return nil
}

func (s *Store) RecordRun(_ context.Context, r core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

// Results returns the written daily results ordered by row index.
func (s *Store) Results() []core.DailyResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]int, 0, len(s.results))
	for i := range s.results {
		rows = append(rows, i)
	}
	slices.Sort(rows)
	out := make([]core.DailyResult, 0, len(rows))
	for _, i := range rows {
		out = append(out, s.results[i])
	}
	return out
}

// Progress returns the notifications received so far.
func (s *Store) Progress() []core.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.progress)
}

// Runs returns the recorded runs.
func (s *Store) Runs() []core.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runs)
}

// RecentRuns returns up to limit recorded runs, newest first.
func (s *Store) RecentRuns(_ context.Context, limit int) ([]core.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.RunRecord, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
