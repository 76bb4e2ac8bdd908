package services

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// DefaultMarkerAccounts are the accounts whose comment lines get a "**" marker.
var DefaultMarkerAccounts = []string{"RBC", "CIBC"}

const accountMarker = "**"

// Aggregator sums matching transactions per target date.
type Aggregator struct {
	markers map[string]struct{}
	logger  *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithMarkerAccounts replaces the default marker accounts.
func WithMarkerAccounts(accounts ...string) AggregatorOption {
	return func(a *Aggregator) {
		a.markers = make(map[string]struct{}, len(accounts))
		for _, acct := range accounts {
			if acct = strings.TrimSpace(acct); acct != "" {
				a.markers[acct] = struct{}{}
			}
		}
	}
}

// WithAggregatorLogger sets the logger used for non-fatal diagnostics.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAggregator creates an aggregator marking DefaultMarkerAccounts.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{logger: slog.Default()}
	WithMarkerAccounts(DefaultMarkerAccounts...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate computes one DailyResult per date, in input order. A transaction
// contributes to a date when it has not expired and its recurrence matches.
// Amounts are converted with rates; a currency absent from rates fails the
// whole computation with a *core.MissingRateError.
func (a *Aggregator) Aggregate(dates []core.Date, catalog []core.Transaction, rates core.RateTable) ([]core.DailyResult, error) {
	for _, tx := range catalog {
		if !tx.Frequency.Known() {
			a.logger.Warn("Transaction has an unknown frequency and will never match",
				"row", tx.Row,
				"description", tx.Description,
				"frequency", tx.Keyword)
		}
	}

	results := make([]core.DailyResult, 0, len(dates))
	for _, date := range dates {
		result, err := a.aggregateDate(date, catalog, rates)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", date, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (a *Aggregator) aggregateDate(date core.Date, catalog []core.Transaction, rates core.RateTable) (core.DailyResult, error) {
	total := decimal.Zero
	lines := make([]string, 0)
	for _, tx := range catalog {
		if !tx.ActiveOn(date) || !Matches(tx.Frequency, date, tx.StartDate) {
			continue
		}
		rate, err := rates.Rate(tx.CurrencyCode)
		if err != nil {
			return core.DailyResult{}, &core.MissingRateError{
				Currency:    tx.CurrencyCode,
				Description: tx.Description,
				Row:         tx.Row,
			}
		}
		total = total.Add(tx.Amount.Mul(rate))
		lines = append(lines, a.commentLine(tx))
	}
	return core.DailyResult{
		Date:    date,
		Total:   total,
		Comment: strings.Join(lines, "\n"),
		Matches: len(lines),
	}, nil
}

func (a *Aggregator) commentLine(tx core.Transaction) string {
	marker := ""
	if _, ok := a.markers[tx.Account]; ok {
		marker = accountMarker
	}
	return fmt.Sprintf("%s%s, %s %s", tx.Description, marker, core.FormatCurrency(tx.Amount), tx.CurrencyCode)
}
