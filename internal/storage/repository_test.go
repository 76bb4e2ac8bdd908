package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "db", "budget.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testSnapshot() core.Snapshot {
	return core.Snapshot{
		Rates: core.RateTable{"CAD": decimal.NewFromInt(1), "USD": decimal.RequireFromString("1.3512")},
		Dates: []core.Date{core.NewDate(2024, 1, 1), {}, core.NewDate(2024, 1, 15)},
		Catalog: []core.Transaction{
			{
				StartDate: core.NewDate(2024, 1, 1), Description: "Rent", CurrencyCode: "CAD",
				Amount: decimal.RequireFromString("-1500.00"), Frequency: core.Monthly, Keyword: "Monthly",
				Account: "RBC", ExpiryDate: core.NewDate(2024, 12, 31),
			},
			{
				StartDate: core.NewDate(2024, 1, 5), Description: "Pay", CurrencyCode: "CAD",
				Amount: decimal.RequireFromString("2000.50"), Frequency: core.Biweekly,
			},
			{
				StartDate: core.NewDate(2024, 1, 3), Description: "Odd", CurrencyCode: "USD",
				Amount: decimal.NewFromInt(-3), Keyword: "Fortnightly",
			},
		},
		Ranks: core.RankOf(core.Once, core.Biweekly, core.Monthly),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.ReplaceSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("ReplaceSnapshot() error = %v", err)
	}

	rates, err := repo.CurrencyRates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rates) != 2 || !rates["USD"].Equal(decimal.RequireFromString("1.3512")) {
		t.Errorf("rates = %v", rates)
	}

	dates, err := repo.TargetDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 3 || !dates[1].IsZero() || !dates[2].Equal(core.NewDate(2024, 1, 15)) {
		t.Errorf("dates = %v", dates)
	}

	ranks, err := repo.FrequencyRanks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranks) != 3 || ranks[2] != core.Monthly.String() {
		t.Errorf("ranks = %v", ranks)
	}

	catalog, err := repo.TransactionCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 3 {
		t.Fatalf("catalog has %d rows", len(catalog))
	}
	rent := catalog[0]
	if rent.Row != 0 || rent.Frequency != core.Monthly || !rent.ExpiryDate.Equal(core.NewDate(2024, 12, 31)) || rent.Account != "RBC" {
		t.Errorf("rent = %+v", rent)
	}
	if !rent.Amount.Equal(decimal.NewFromInt(-1500)) {
		t.Errorf("rent amount = %s", rent.Amount)
	}
	pay := catalog[1]
	if pay.Row != 1 || pay.Keyword != "Biweekly" || pay.HasExpiry() {
		t.Errorf("pay = %+v", pay)
	}
	odd := catalog[2]
	if odd.Frequency != core.FrequencyUnknown || odd.Keyword != "Fortnightly" {
		t.Errorf("odd = %+v", odd)
	}
}

func TestReplaceSnapshotClearsPrevious(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.ReplaceSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := repo.WriteDailyResult(ctx, 0, core.DailyResult{Total: decimal.NewFromInt(1)}); err != nil {
		t.Fatal(err)
	}

	small := core.Snapshot{Rates: core.RateTable{"EUR": decimal.NewFromInt(2)}}
	if err := repo.ReplaceSnapshot(ctx, small); err != nil {
		t.Fatal(err)
	}
	rates, _ := repo.CurrencyRates(ctx)
	catalog, _ := repo.TransactionCatalog(ctx)
	results, _ := repo.DailyResults(ctx)
	if len(rates) != 1 || len(catalog) != 0 || len(results) != 0 {
		t.Errorf("rates=%v catalog=%v results=%v", rates, catalog, results)
	}
}

func TestDuplicateRankRejected(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	snap := testSnapshot()
	snap.Ranks = core.RankOf(core.Monthly, core.Monthly)
	if err := repo.ReplaceSnapshot(ctx, snap); err == nil {
		t.Fatal("expected unique constraint error")
	}
	// The failed replace must not leave a partial snapshot behind.
	if rates, _ := repo.CurrencyRates(ctx); len(rates) != 0 {
		t.Errorf("rates after rollback = %v", rates)
	}
}

func TestTransactionCatalogRejectsMalformedRows(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		curr    string
		wantErr error
	}{
		{name: "blank start date", start: "", curr: "CAD", wantErr: core.ErrMissingStartDate},
		{name: "blank currency", start: "2024-01-01", curr: " ", wantErr: core.ErrMissingCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newTestRepo(t)
			if err := repo.ReplaceSnapshot(ctx, testSnapshot()); err != nil {
				t.Fatal(err)
			}
			if _, err := repo.db.ExecContext(ctx,
				`UPDATE recurring_transactions SET start_date = ?, currency = ? WHERE position = 1`,
				tt.start, tt.curr); err != nil {
				t.Fatal(err)
			}

			_, err := repo.TransactionCatalog(ctx)
			var mre *core.MalformedRowError
			if !errors.As(err, &mre) {
				t.Fatalf("TransactionCatalog() error = %v, want *core.MalformedRowError", err)
			}
			if mre.Row != 1 || !errors.Is(err, tt.wantErr) {
				t.Errorf("MalformedRowError = %+v, want row 1 wrapping %v", mre, tt.wantErr)
			}
		})
	}
}

func TestReplaceSnapshotRejectsMalformedRows(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	snap := testSnapshot()
	snap.Catalog[2].StartDate = core.Date{}

	err := repo.ReplaceSnapshot(ctx, snap)
	if !errors.Is(err, core.ErrMalformedRow) || !errors.Is(err, core.ErrMissingStartDate) {
		t.Fatalf("ReplaceSnapshot() error = %v, want malformed row", err)
	}
	if catalog, _ := repo.TransactionCatalog(ctx); len(catalog) != 0 {
		t.Errorf("catalog after rollback = %+v", catalog)
	}
}

func TestDailyResults(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	results := []core.DailyResult{
		{Date: core.NewDate(2024, 1, 1), Total: decimal.RequireFromString("460.50"), Comment: "Rent**, ($1,500.00) CAD\nPay, $2,000.50 CAD", Matches: 2},
		{Date: core.NewDate(2024, 1, 2), Total: decimal.Zero},
	}
	if err := repo.WriteDailyResults(ctx, results); err != nil {
		t.Fatalf("WriteDailyResults() error = %v", err)
	}
	if err := repo.WriteDailyResult(ctx, 1, core.DailyResult{Date: core.NewDate(2024, 1, 2), Total: decimal.NewFromInt(-5), Comment: "Coffee, ($5.00) CAD", Matches: 1}); err != nil {
		t.Fatalf("WriteDailyResult() error = %v", err)
	}
	if err := repo.WriteDailyResult(ctx, -1, core.DailyResult{}); err == nil {
		t.Error("expected error for negative row index")
	}

	got, err := repo.DailyResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Comment != results[0].Comment || !got[0].Total.Equal(decimal.RequireFromString("460.5")) || got[0].Matches != 2 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Comment != "Coffee, ($5.00) CAD" || !got[1].Total.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("second = %+v", got[1])
	}

	if err := repo.WriteDailyResults(ctx, results[:1]); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.DailyResults(ctx); len(got) != 1 {
		t.Errorf("batch write kept stale rows: %d", len(got))
	}
}

func TestWriteSortedCatalog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.ReplaceSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	catalog, _ := repo.TransactionCatalog(ctx)
	reversed := []core.Transaction{catalog[2], catalog[1], catalog[0]}
	if err := repo.WriteSortedCatalog(ctx, reversed); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.TransactionCatalog(ctx)
	if got[0].Description != "Odd" || got[2].Description != "Rent" || got[2].Row != 2 {
		t.Errorf("catalog = %+v", got)
	}
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	runs := []core.RunRecord{
		{Operation: core.OpUpdateBudget, Dates: 3, Transactions: 4, Matches: 5, Started: t0, Finished: t0.Add(time.Second)},
		{Operation: core.OpSortCatalog, Started: t0.Add(time.Minute), Finished: t0.Add(time.Minute + time.Second), Err: errors.New("boom")},
	}
	for _, run := range runs {
		if err := repo.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}

	got, err := repo.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs", len(got))
	}
	if got[0].Operation != core.OpSortCatalog || got[0].Err == nil || got[0].Err.Error() != "boom" {
		t.Errorf("newest = %+v", got[0])
	}
	if !got[1].Succeeded() || got[1].Matches != 5 || got[1].Duration() != time.Second {
		t.Errorf("oldest = %+v", got[1])
	}
	if !got[1].Started.Equal(t0) {
		t.Errorf("started = %v, want %v", got[1].Started, t0)
	}

	if all, _ := repo.RecentRuns(ctx, 0); len(all) != 2 {
		t.Errorf("RecentRuns(0) = %d runs, want all", len(all))
	}
	if one, _ := repo.RecentRuns(ctx, 1); len(one) != 1 || one[0].Operation != core.OpSortCatalog {
		t.Errorf("RecentRuns(1) = %+v", one)
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.db")
	v1, err := RunMigrations(path)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := RunMigrations(path)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != 1 || v2 != 1 {
		t.Errorf("versions = %d, %d, want 1", v1, v2)
	}
}
