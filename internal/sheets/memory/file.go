package memory

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"budget/internal/core"
)

// budgetFile is the YAML layout of a budget:
//
//	rates:
//	  CAD: 1
//	  USD: 1.35
//	dates: [2024-01-01, 2024-01-15]
//	frequencies: [Monthly, Biweekly, Once]
//	transactions:
//	  - start: 2024-01-01
//	    description: Rent
//	    currency: CAD
//	    amount: -1500
//	    frequency: Monthly
//	    account: RBC
//	    expiry: 2024-12-31
type budgetFile struct {
	Rates        map[string]yamlDecimal `yaml:"rates"`
	Dates        []yamlDate             `yaml:"dates"`
	Frequencies  []string               `yaml:"frequencies"`
	Transactions []budgetFileTx         `yaml:"transactions"`
}

type budgetFileTx struct {
	Start       yamlDate     `yaml:"start"`
	Description string       `yaml:"description"`
	Currency    string       `yaml:"currency"`
	Amount      *yamlDecimal `yaml:"amount"`
	Frequency   string       `yaml:"frequency"`
	Account     string       `yaml:"account"`
	Expiry      yamlDate     `yaml:"expiry"`
}

type yamlDecimal struct{ decimal.Decimal }

func (d *yamlDecimal) UnmarshalYAML(n *yaml.Node) error {
	v, err := core.ParseAmount(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	d.Decimal = v
	return nil
}

type yamlDate struct{ core.Date }

func (d *yamlDate) UnmarshalYAML(n *yaml.Node) error {
	if strings.TrimSpace(n.Value) == "" {
		return nil
	}
	v, err := core.ParseDate(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	d.Date = v
	return nil
}

// ParseBudgetFile decodes a YAML budget into a snapshot. Transactions with a
// missing start date or amount are rejected with a *core.MalformedRowError.
func ParseBudgetFile(b []byte) (core.Snapshot, error) {
	var f budgetFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode yaml: %w", err)
	}

	snap := core.Snapshot{Rates: make(core.RateTable, len(f.Rates))}
	for code, rate := range f.Rates {
		snap.Rates[strings.TrimSpace(code)] = rate.Decimal
	}
	for _, d := range f.Dates {
		snap.Dates = append(snap.Dates, d.Date)
	}
	snap.Ranks = core.ParseFrequencyRank(f.Frequencies)
	for i, t := range f.Transactions {
		if t.Start.IsZero() {
			return core.Snapshot{}, &core.MalformedRowError{Row: i, Field: "start", Err: core.ErrMissingStartDate}
		}
		if t.Amount == nil {
			return core.Snapshot{}, &core.MalformedRowError{Row: i, Field: "amount", Err: core.ErrMissingAmount}
		}
		tx := core.Transaction{
			Row:          i,
			StartDate:    t.Start.Date,
			Description:  t.Description,
			CurrencyCode: strings.TrimSpace(t.Currency),
			Amount:       t.Amount.Decimal,
			Frequency:    core.ParseFrequency(t.Frequency),
			Keyword:      t.Frequency,
			Account:      strings.TrimSpace(t.Account),
			ExpiryDate:   t.Expiry.Date,
		}
		if err := tx.Validate(); err != nil {
			return core.Snapshot{}, &core.MalformedRowError{Row: i, Field: "transaction", Err: err}
		}
		snap.Catalog = append(snap.Catalog, tx)
	}
	return snap, nil
}
