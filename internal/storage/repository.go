package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	ports "budget/internal/sheets"

	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ ports.BudgetSource           = (*SQLiteRepository)(nil)
	_ ports.BudgetSink             = (*SQLiteRepository)(nil)
	_ ports.DailyResultBatchWriter = (*SQLiteRepository)(nil)
	_ ports.RunRecorder            = (*SQLiteRepository)(nil)
)

// timeLayout is fixed width so that UTC timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("SQLite budget store ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ReplaceSnapshot swaps every input table for the contents of snap and
// clears stored results.
func (r *SQLiteRepository) ReplaceSnapshot(ctx context.Context, snap core.Snapshot) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"currency_rates", "budget_dates", "frequency_ranks", "daily_results"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for code, rate := range snap.Rates {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO currency_rates (code, rate) VALUES (?, ?)`, code, rate); err != nil {
				return fmt.Errorf("insert rate %s: %w", code, err)
			}
		}
		for i, d := range snap.Dates {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO budget_dates (position, date) VALUES (?, ?)`, i, nullDate(d)); err != nil {
				return fmt.Errorf("insert budget date %d: %w", i, err)
			}
		}
		for i, k := range snap.Ranks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO frequency_ranks (position, frequency) VALUES (?, ?)`, i, k); err != nil {
				return fmt.Errorf("insert frequency rank %q: %w", k, err)
			}
		}
		return replaceCatalog(ctx, tx, snap.Catalog)
	})
}

func (r *SQLiteRepository) CurrencyRates(ctx context.Context) (core.RateTable, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, rate FROM currency_rates`)
	if err != nil {
		return nil, fmt.Errorf("query currency rates: %w", err)
	}
	defer rows.Close()

	rates := core.RateTable{}
	for rows.Next() {
		var (
			code string
			rate decimal.Decimal
		)
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, fmt.Errorf("scan currency rate: %w", err)
		}
		rates[code] = rate
	}
	return rates, rows.Err()
}

func (r *SQLiteRepository) TargetDates(ctx context.Context) ([]core.Date, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date FROM budget_dates ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query budget dates: %w", err)
	}
	defer rows.Close()

	var dates []core.Date
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan budget date: %w", err)
		}
		d, err := scanDate(s)
		if err != nil {
			return nil, fmt.Errorf("budget date %d: %w", len(dates), err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (r *SQLiteRepository) TransactionCatalog(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT start_date, description, currency, amount, frequency, account, expiry_date
		FROM recurring_transactions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query recurring transactions: %w", err)
	}
	defer rows.Close()

	var catalog []core.Transaction
	for rows.Next() {
		var (
			start, expiry sql.NullString
			t             core.Transaction
		)
		if err := rows.Scan(&start, &t.Description, &t.CurrencyCode, &t.Amount, &t.Keyword, &t.Account, &expiry); err != nil {
			return nil, fmt.Errorf("scan recurring transaction: %w", err)
		}
		t.Row = len(catalog)
		if t.StartDate, err = scanDate(start); err != nil {
			return nil, &core.MalformedRowError{Row: t.Row, Field: "start date", Err: err}
		}
		if t.ExpiryDate, err = scanDate(expiry); err != nil {
			return nil, &core.MalformedRowError{Row: t.Row, Field: "expiry", Err: err}
		}
		t.Frequency = core.ParseFrequency(t.Keyword)
		if err := t.Validate(); err != nil {
			return nil, &core.MalformedRowError{Row: t.Row, Field: "transaction", Err: err}
		}
		catalog = append(catalog, t)
	}
	return catalog, rows.Err()
}

func (r *SQLiteRepository) FrequencyRanks(ctx context.Context) (core.FrequencyRank, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT frequency FROM frequency_ranks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query frequency ranks: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan frequency rank: %w", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return core.ParseFrequencyRank(keywords), nil
}

// WriteDailyResult implements sheets.BudgetSink
func (r *SQLiteRepository) WriteDailyResult(ctx context.Context, rowIndex int, res core.DailyResult) error {
	if rowIndex < 0 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}
	if err := upsertResult(ctx, r.db, rowIndex, res); err != nil {
		return fmt.Errorf("write daily result %d: %w", rowIndex, err)
	}
	return nil
}

// WriteDailyResults replaces every stored result.
func (r *SQLiteRepository) WriteDailyResults(ctx context.Context, results []core.DailyResult) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_results`); err != nil {
			return fmt.Errorf("clear daily results: %w", err)
		}
		for i, res := range results {
			if err := upsertResult(ctx, tx, i, res); err != nil {
				return fmt.Errorf("write daily result %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Daily results saved to SQLite", "count", len(results))
	return nil
}

// DailyResults returns the stored results in date-range order.
func (r *SQLiteRepository) DailyResults(ctx context.Context) ([]core.DailyResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date, total, comment, matches FROM daily_results ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query daily results: %w", err)
	}
	defer rows.Close()

	var out []core.DailyResult
	for rows.Next() {
		var (
			date sql.NullString
			res  core.DailyResult
		)
		if err := rows.Scan(&date, &res.Total, &res.Comment, &res.Matches); err != nil {
			return nil, fmt.Errorf("scan daily result: %w", err)
		}
		if res.Date, err = scanDate(date); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// WriteSortedCatalog implements sheets.BudgetSink
func (r *SQLiteRepository) WriteSortedCatalog(ctx context.Context, catalog []core.Transaction) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		return replaceCatalog(ctx, tx, catalog)
	})
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Sorted catalog saved to SQLite", "transactions", len(catalog))
	return nil
}

// RecordRun implements sheets.RunRecorder
func (r *SQLiteRepository) RecordRun(ctx context.Context, run core.RunRecord) error {
	var errText sql.NullString
	if run.Err != nil {
		errText = sql.NullString{String: run.Err.Error(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_runs (operation, dates, transactions, matches, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Operation, run.Dates, run.Transactions, run.Matches,
		run.Started.UTC().Format(timeLayout), run.Finished.UTC().Format(timeLayout), errText)
	if err != nil {
		return fmt.Errorf("record budget run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. A limit of zero or
// less returns every run.
func (r *SQLiteRepository) RecentRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT operation, dates, transactions, matches, started_at, finished_at, error
		FROM budget_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query budget runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunRecord
	for rows.Next() {
		var (
			run               core.RunRecord
			started, finished string
			errText           sql.NullString
		)
		if err := rows.Scan(&run.Operation, &run.Dates, &run.Transactions, &run.Matches, &started, &finished, &errText); err != nil {
			return nil, fmt.Errorf("scan budget run: %w", err)
		}
		if run.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse run start: %w", err)
		}
		if run.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse run finish: %w", err)
		}
		if errText.Valid {
			run.Err = errors.New(errText.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertResult(ctx context.Context, db execer, pos int, res core.DailyResult) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO daily_results (position, date, total, comment, matches, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(position) DO UPDATE SET
			date = excluded.date,
			total = excluded.total,
			comment = excluded.comment,
			matches = excluded.matches,
			updated_at = excluded.updated_at`,
		pos, nullDate(res.Date), res.Total, res.Comment, res.Matches)
	return err
}

func replaceCatalog(ctx context.Context, tx *sql.Tx, catalog []core.Transaction) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_transactions`); err != nil {
		return fmt.Errorf("clear recurring transactions: %w", err)
	}
	for i, t := range catalog {
		if err := t.Validate(); err != nil {
			return &core.MalformedRowError{Row: i, Field: "transaction", Err: err}
		}
		keyword := t.Keyword
		if keyword == "" && t.Frequency.Known() {
			keyword = t.Frequency.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_transactions
				(position, start_date, description, currency, amount, frequency, account, expiry_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, t.StartDate.String(), t.Description, t.CurrencyCode, t.Amount, keyword, t.Account, nullDate(t.ExpiryDate))
		if err != nil {
			return fmt.Errorf("insert recurring transaction %d: %w", i, err)
		}
	}
	return nil
}

func nullDate(d core.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func scanDate(s sql.NullString) (core.Date, error) {
	if !s.Valid || s.String == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s.String)
}
