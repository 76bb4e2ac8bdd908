package google

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// Catalog column offsets within the transactions range.
const (
	colStartDate = iota
	colDescription
	colCurrency
	colAmount
	colFrequency
	colAccount
	colExpiry
	catalogColumns
)

// serialEpoch is day zero of spreadsheet serial dates.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var errNotADate = errors.New("not a date")

func toString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func cellAt(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func isBlankRow(row []any) bool {
	return toString(cellAt(row, 0)) == ""
}

// parseSerialDate converts a cell holding a serial number or a YYYY-MM-DD
// string. Blank cells return the zero Date.
func parseSerialDate(v any) (core.Date, error) {
	switch x := v.(type) {
	case nil:
		return core.Date{}, nil
	case float64:
		days := math.Floor(x)
		return core.DateOf(serialEpoch.AddDate(0, 0, int(days))), nil
	case int:
		return core.DateOf(serialEpoch.AddDate(0, 0, x)), nil
	case int64:
		return core.DateOf(serialEpoch.AddDate(0, 0, int(x))), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return core.Date{}, nil
		}
		return core.ParseDate(x)
	default:
		return core.Date{}, fmt.Errorf("%w: %T %v", errNotADate, v, v)
	}
}

// parseCellAmount converts a numeric or currency-formatted cell.
func parseCellAmount(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, core.ErrMissingAmount
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	default:
		return core.ParseAmount(toString(v))
	}
}

// parseRates reads two-column rows of currency code and rate.
func parseRates(values [][]any) (core.RateTable, error) {
	rates := make(core.RateTable, len(values))
	for i, row := range values {
		if isBlankRow(row) {
			continue
		}
		code := toString(row[0])
		rate, err := parseCellAmount(cellAt(row, 1))
		if err != nil {
			return nil, fmt.Errorf("currency %s (row %d): %w", code, i, err)
		}
		rates[code] = rate
	}
	return rates, nil
}

// parseDates reads the first column of every row. Blank cells stay in place as
// zero Dates so that result positions line up with the date range.
func parseDates(values [][]any) ([]core.Date, error) {
	dates := make([]core.Date, 0, len(values))
	for i, row := range values {
		d, err := parseSerialDate(cellAt(row, 0))
		if err != nil {
			return nil, fmt.Errorf("budget date row %d: %w", i, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func parseRanks(values [][]any) core.FrequencyRank {
	keywords := make([]string, 0, len(values))
	for _, row := range values {
		keywords = append(keywords, toString(cellAt(row, 0)))
	}
	return core.ParseFrequencyRank(keywords)
}

// parseCatalog converts transaction rows. Rows with a blank first cell are
// skipped; the Row of each transaction is its position among kept rows.
func parseCatalog(values [][]any) ([]core.Transaction, error) {
	catalog := make([]core.Transaction, 0, len(values))
	for _, row := range values {
		if isBlankRow(row) {
			continue
		}
		tx, err := parseTransaction(len(catalog), row)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, tx)
	}
	return catalog, nil
}

func parseTransaction(idx int, row []any) (core.Transaction, error) {
	start, err := parseSerialDate(cellAt(row, colStartDate))
	if err != nil {
		return core.Transaction{}, &core.MalformedRowError{Row: idx, Field: "start date", Err: err}
	}
	amount, err := parseCellAmount(cellAt(row, colAmount))
	if err != nil {
		return core.Transaction{}, &core.MalformedRowError{Row: idx, Field: "amount", Err: err}
	}
	expiry, err := parseSerialDate(cellAt(row, colExpiry))
	if err != nil {
		return core.Transaction{}, &core.MalformedRowError{Row: idx, Field: "expiry", Err: err}
	}

	keyword := toString(cellAt(row, colFrequency))
	tx := core.Transaction{
		Row:          idx,
		StartDate:    start,
		Description:  toString(cellAt(row, colDescription)),
		CurrencyCode: toString(cellAt(row, colCurrency)),
		Amount:       amount,
		Frequency:    core.ParseFrequency(keyword),
		Keyword:      keyword,
		Account:      toString(cellAt(row, colAccount)),
		ExpiryDate:   expiry,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, &core.MalformedRowError{Row: idx, Field: "transaction", Err: err}
	}
	return tx, nil
}

// keptRows returns the rows of b whose counterpart in a is not blank.
func keptRows(a, b [][]any) [][]any {
	out := make([][]any, 0, len(a))
	for i, row := range a {
		if isBlankRow(row) {
			continue
		}
		if i < len(b) {
			out = append(out, b[i])
		} else {
			out = append(out, nil)
		}
	}
	return out
}

// toSerial converts a Date back to a spreadsheet serial number.
func toSerial(d core.Date) any {
	if d.IsZero() {
		return ""
	}
	return math.Round(d.Sub(serialEpoch).Hours() / 24)
}

// transactionRow renders tx as catalog cells when no formula snapshot of its
// row is available.
func transactionRow(tx core.Transaction) []any {
	row := make([]any, catalogColumns)
	row[colStartDate] = toSerial(tx.StartDate)
	row[colDescription] = tx.Description
	row[colCurrency] = tx.CurrencyCode
	row[colAmount] = tx.Amount.String()
	row[colFrequency] = tx.Keyword
	if row[colFrequency] == "" && tx.Frequency.Known() {
		row[colFrequency] = tx.Frequency.String()
	}
	row[colAccount] = tx.Account
	row[colExpiry] = toSerial(tx.ExpiryDate)
	return row
}

// padRow extends row to width with blank cells.
func padRow(row []any, width int) []any {
	out := make([]any, width)
	for i := range out {
		if i < len(row) && row[i] != nil {
			out[i] = row[i]
		} else {
			out[i] = ""
		}
	}
	return out
}
