package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

const sampleBudget = `
rates:
  CAD: 1
  USD: "1.35"
dates: [2024-01-01, 2024-01-15]
frequencies: [Once, Biweekly, Monthly]
transactions:
  - start: 2024-01-01
    description: Rent
    currency: CAD
    amount: "($1,500.00)"
    frequency: Monthly
    account: RBC
    expiry: 2024-12-31
  - start: 2024-01-05
    description: Pay
    currency: " CAD "
    amount: 2000.50
    frequency: Biweekly
  - start: 2024-02-01
    description: Mystery
    currency: CAD
    amount: -3
    frequency: Fortnightly
`

func TestParseBudgetFile(t *testing.T) {
	snap, err := ParseBudgetFile([]byte(sampleBudget))
	if err != nil {
		t.Fatalf("ParseBudgetFile() error = %v", err)
	}

	if len(snap.Rates) != 2 || !snap.Rates["USD"].Equal(decimal.RequireFromString("1.35")) {
		t.Errorf("rates = %v", snap.Rates)
	}
	if len(snap.Dates) != 2 || !snap.Dates[1].Equal(core.NewDate(2024, 1, 15)) {
		t.Errorf("dates = %v", snap.Dates)
	}
	wantRanks := core.RankOf(core.Once, core.Biweekly, core.Monthly)
	if len(snap.Ranks) != len(wantRanks) {
		t.Fatalf("ranks = %v", snap.Ranks)
	}
	for i := range wantRanks {
		if snap.Ranks[i] != wantRanks[i] {
			t.Errorf("rank %d = %v, want %v", i, snap.Ranks[i], wantRanks[i])
		}
	}

	if len(snap.Catalog) != 3 {
		t.Fatalf("catalog has %d rows, want 3", len(snap.Catalog))
	}
	rent := snap.Catalog[0]
	if !rent.Amount.Equal(decimal.NewFromInt(-1500)) || rent.Account != "RBC" || !rent.HasExpiry() {
		t.Errorf("rent = %+v", rent)
	}
	pay := snap.Catalog[1]
	if pay.Row != 1 || pay.CurrencyCode != "CAD" || pay.HasExpiry() || pay.Frequency != core.Biweekly {
		t.Errorf("pay = %+v", pay)
	}
	mystery := snap.Catalog[2]
	if mystery.Frequency != core.FrequencyUnknown || mystery.Keyword != "Fortnightly" {
		t.Errorf("mystery = %+v", mystery)
	}
}

func TestParseBudgetFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "missing start",
			yaml:    "transactions:\n  - description: X\n    currency: CAD\n    amount: 1\n    frequency: Once\n",
			wantErr: core.ErrMissingStartDate,
		},
		{
			name:    "missing amount",
			yaml:    "transactions:\n  - start: 2024-01-01\n    currency: CAD\n    frequency: Once\n",
			wantErr: core.ErrMissingAmount,
		},
		{
			name:    "missing currency",
			yaml:    "transactions:\n  - start: 2024-01-01\n    amount: 1\n    frequency: Once\n",
			wantErr: core.ErrMissingCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBudgetFile([]byte(tt.yaml))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseBudgetFile() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, core.ErrMalformedRow) {
				t.Errorf("error %v does not wrap ErrMalformedRow", err)
			}
		})
	}

	if _, err := ParseBudgetFile([]byte("dates: [not-a-date]\n")); err == nil {
		t.Error("expected error for invalid date")
	}
	if _, err := ParseBudgetFile([]byte("rates:\n  CAD: abc\n")); err == nil {
		t.Error("expected error for invalid rate")
	}

	snap, err := ParseBudgetFile([]byte("frequencies: [Monthly, Fortnightly]\n"))
	if err != nil {
		t.Fatalf("ParseBudgetFile() with an unrecognised rank keyword error = %v", err)
	}
	if len(snap.Ranks) != 2 || snap.Ranks[1] != "Fortnightly" {
		t.Errorf("ranks = %v", snap.Ranks)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.yaml")
	if err := os.WriteFile(path, []byte(sampleBudget), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFromFile(path)
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	catalog, err := s.TransactionCatalog(context.Background())
	if err != nil || len(catalog) != 3 {
		t.Fatalf("catalog = %v err=%v", catalog, err)
	}

	if _, err := NewFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStoreWritesAndCopies(t *testing.T) {
	ctx := context.Background()
	s := New(core.Snapshot{
		Rates: core.RateTable{"CAD": decimal.NewFromInt(1)},
		Dates: []core.Date{core.NewDate(2024, 1, 1)},
		Catalog: []core.Transaction{
			{Description: "A", CurrencyCode: "CAD", StartDate: core.NewDate(2024, 1, 1)},
			{Description: "B", CurrencyCode: "CAD", StartDate: core.NewDate(2024, 1, 1)},
		},
	})

	rates, _ := s.CurrencyRates(ctx)
	rates["EUR"] = decimal.NewFromInt(2)
	if again, _ := s.CurrencyRates(ctx); len(again) != 1 {
		t.Errorf("caller mutation leaked into store: %v", again)
	}

	if err := s.WriteDailyResult(ctx, 2, core.DailyResult{Comment: "second"}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteDailyResult(ctx, 0, core.DailyResult{Comment: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteDailyResult(ctx, -1, core.DailyResult{}); err == nil {
		t.Error("expected error for negative row index")
	}
	results := s.Results()
	if len(results) != 2 || results[0].Comment != "first" || results[1].Comment != "second" {
		t.Errorf("results = %+v", results)
	}

	catalog, _ := s.TransactionCatalog(ctx)
	catalog[0], catalog[1] = catalog[1], catalog[0]
	if err := s.WriteSortedCatalog(ctx, catalog); err != nil {
		t.Fatal(err)
	}
	reloaded, _ := s.TransactionCatalog(ctx)
	if reloaded[0].Description != "B" || reloaded[0].Row != 0 || reloaded[1].Row != 1 {
		t.Errorf("reloaded catalog = %+v", reloaded)
	}

	if err := s.Notify(ctx, core.Progress{Stage: core.StageStarting}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRun(ctx, core.RunRecord{Operation: core.OpSortCatalog}); err != nil {
		t.Fatal(err)
	}
	if len(s.Progress()) != 1 || len(s.Runs()) != 1 {
		t.Errorf("progress=%v runs=%v", s.Progress(), s.Runs())
	}
}

func TestStoreRecentRuns(t *testing.T) {
	ctx := context.Background()
	s := New(core.Snapshot{})
	for _, op := range []string{core.OpSortCatalog, core.OpUpdateBudget, core.OpSortCatalog} {
		if err := s.RecordRun(ctx, core.RunRecord{Operation: op}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{limit: 0, want: []string{core.OpSortCatalog, core.OpUpdateBudget, core.OpSortCatalog}},
		{limit: 2, want: []string{core.OpSortCatalog, core.OpUpdateBudget}},
		{limit: 10, want: []string{core.OpSortCatalog, core.OpUpdateBudget, core.OpSortCatalog}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit_%d", tt.limit), func(t *testing.T) {
			runs, err := s.RecentRuns(ctx, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(runs), len(tt.want))
			}
			for i, r := range runs {
				if r.Operation != tt.want[i] {
					t.Errorf("runs[%d] = %q, want %q", i, r.Operation, tt.want[i])
				}
			}
		})
	}
}
