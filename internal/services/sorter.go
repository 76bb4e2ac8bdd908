package services

import (
	"cmp"
	"fmt"
	"slices"

	"budget/internal/core"
)

// TieBreak selects the secondary key of the catalog sort.
type TieBreak string

const (
	// TieBreakRow keeps the original catalog order within a frequency group.
	TieBreakRow TieBreak = "row"
	// TieBreakStartDate orders a frequency group by start date, then by row.
	TieBreakStartDate TieBreak = "start_date"
)

// IsValid returns true if the tiebreak is known
func (t TieBreak) IsValid() bool {
	switch t {
	case TieBreakRow, TieBreakStartDate:
		return true
	default:
		return false
	}
}

type sortConfig struct {
	tieBreak TieBreak
}

// SortOption configures SortCatalog.
type SortOption func(*sortConfig)

// WithTieBreak sets the secondary sort key. Unknown values fall back to
// TieBreakRow.
func WithTieBreak(t TieBreak) SortOption {
	return func(c *sortConfig) {
		if t.IsValid() {
			c.tieBreak = t
		}
	}
}

// SortCatalog returns the catalog ordered by the position of each
// transaction's RankKey in rank. Every catalog keyword must be ranked, known
// or not; otherwise a *core.UnrankedFrequencyError is returned. The input
// slice is not modified.
func SortCatalog(catalog []core.Transaction, rank core.FrequencyRank, opts ...SortOption) ([]core.Transaction, error) {
	cfg := sortConfig{tieBreak: TieBreakRow}
	for _, opt := range opts {
		opt(&cfg)
	}

	idx, err := rank.Index()
	if err != nil {
		return nil, fmt.Errorf("index frequency rank: %w", err)
	}
	for _, tx := range catalog {
		if _, ok := idx[tx.RankKey()]; !ok {
			return nil, &core.UnrankedFrequencyError{Frequency: tx.Frequency, Keyword: tx.Keyword, Row: tx.Row}
		}
	}

	sorted := slices.Clone(catalog)
	slices.SortStableFunc(sorted, func(a, b core.Transaction) int {
		if c := cmp.Compare(idx[a.RankKey()], idx[b.RankKey()]); c != 0 {
			return c
		}
		if cfg.tieBreak == TieBreakStartDate {
			if c := a.StartDate.Compare(b.StartDate.Time); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Row, b.Row)
	})
	return sorted, nil
}
