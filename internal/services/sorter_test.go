package services

import (
	"errors"
	"testing"

	"budget/internal/core"
)

func descriptions(catalog []core.Transaction) []string {
	out := make([]string, len(catalog))
	for i, t := range catalog {
		out[i] = t.Description
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortCatalog(t *testing.T) {
	jan := func(day int) core.Date { return core.NewDate(2024, 1, day) }
	catalog := []core.Transaction{
		tx(0, "A", "CAD", "1", core.Monthly, jan(20)),
		tx(1, "B", "CAD", "1", core.Weekly, jan(5)),
		tx(2, "C", "CAD", "1", core.Monthly, jan(3)),
		tx(3, "D", "CAD", "1", core.Once, jan(1)),
		tx(4, "E", "CAD", "1", core.Weekly, jan(2)),
	}
	rank := core.RankOf(core.Once, core.Weekly, core.Monthly)

	tests := []struct {
		name string
		opts []SortOption
		want []string
	}{
		{
			name: "grouped by rank, stable within group",
			want: []string{"D", "B", "E", "A", "C"},
		},
		{
			name: "start date tiebreak",
			opts: []SortOption{WithTieBreak(TieBreakStartDate)},
			want: []string{"D", "E", "B", "C", "A"},
		},
		{
			name: "invalid tiebreak falls back to row",
			opts: []SortOption{WithTieBreak("colour")},
			want: []string{"D", "B", "E", "A", "C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortCatalog(catalog, rank, tt.opts...)
			if err != nil {
				t.Fatalf("SortCatalog() error = %v", err)
			}
			if d := descriptions(got); !equalStrings(d, tt.want) {
				t.Errorf("SortCatalog() = %v, want %v", d, tt.want)
			}
		})
	}
}

func TestSortCatalog_DoesNotMutateInput(t *testing.T) {
	catalog := []core.Transaction{
		tx(0, "A", "CAD", "1", core.Monthly, core.NewDate(2024, 1, 1)),
		tx(1, "B", "CAD", "1", core.Once, core.NewDate(2024, 1, 1)),
	}
	if _, err := SortCatalog(catalog, core.RankOf(core.Once, core.Monthly)); err != nil {
		t.Fatalf("SortCatalog() error = %v", err)
	}
	if d := descriptions(catalog); !equalStrings(d, []string{"A", "B"}) {
		t.Errorf("input reordered to %v", d)
	}
}

func TestSortCatalog_Idempotent(t *testing.T) {
	catalog := []core.Transaction{
		tx(0, "A", "CAD", "1", core.Annual, core.NewDate(2024, 1, 1)),
		tx(1, "B", "CAD", "1", core.Once, core.NewDate(2024, 1, 1)),
		tx(2, "C", "CAD", "1", core.Annual, core.NewDate(2024, 1, 1)),
	}
	rank := core.RankOf(core.Once, core.Annual)

	first, err := SortCatalog(catalog, rank)
	if err != nil {
		t.Fatalf("SortCatalog() error = %v", err)
	}
	// Renumber rows as a reload of the written catalog would.
	for i := range first {
		first[i].Row = i
	}
	second, err := SortCatalog(first, rank)
	if err != nil {
		t.Fatalf("SortCatalog() error = %v", err)
	}
	if !equalStrings(descriptions(first), descriptions(second)) {
		t.Errorf("second sort = %v, want %v", descriptions(second), descriptions(first))
	}
}

func TestSortCatalog_Errors(t *testing.T) {
	unknown := tx(2, "Odd", "CAD", "1", core.FrequencyUnknown, core.NewDate(2024, 1, 1))
	unknown.Keyword = "Fortnightly"

	tests := []struct {
		name    string
		catalog []core.Transaction
		rank    core.FrequencyRank
		wantErr error
	}{
		{
			name:    "unranked frequency",
			catalog: []core.Transaction{tx(0, "A", "CAD", "1", core.Quarterly, core.NewDate(2024, 1, 1))},
			rank:    core.RankOf(core.Monthly),
			wantErr: core.ErrUnrankedFrequency,
		},
		{
			name:    "unknown keyword",
			catalog: []core.Transaction{unknown},
			rank:    core.RankOf(core.Monthly),
			wantErr: core.ErrUnrankedFrequency,
		},
		{
			name:    "duplicate rank",
			catalog: []core.Transaction{tx(0, "A", "CAD", "1", core.Monthly, core.NewDate(2024, 1, 1))},
			rank:    core.RankOf(core.Monthly, core.Monthly),
			wantErr: core.ErrDuplicateRank,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortCatalog(tt.catalog, tt.rank)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SortCatalog() error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("SortCatalog() = %v, want nil", got)
			}
		})
	}
}

func TestSortCatalog_RankedUnknownKeyword(t *testing.T) {
	odd := tx(0, "Odd", "CAD", "1", core.FrequencyUnknown, core.NewDate(2024, 1, 1))
	odd.Keyword = " Fortnightly "
	catalog := []core.Transaction{
		odd,
		tx(1, "Rent", "CAD", "1", core.Monthly, core.NewDate(2024, 1, 1)),
		tx(2, "Gym", "CAD", "1", core.Once, core.NewDate(2024, 1, 1)),
	}
	rank := core.FrequencyRank{"Once", "Monthly", "Fortnightly"}

	got, err := SortCatalog(catalog, rank)
	if err != nil {
		t.Fatalf("SortCatalog() error = %v", err)
	}
	if d := descriptions(got); !equalStrings(d, []string{"Gym", "Rent", "Odd"}) {
		t.Errorf("SortCatalog() = %v", d)
	}
}

func TestSortCatalog_UnrankedErrorDetails(t *testing.T) {
	unknown := tx(7, "Odd", "CAD", "1", core.FrequencyUnknown, core.NewDate(2024, 1, 1))
	unknown.Keyword = "Fortnightly"

	_, err := SortCatalog([]core.Transaction{unknown}, core.RankOf(core.Monthly))
	var ufe *core.UnrankedFrequencyError
	if !errors.As(err, &ufe) {
		t.Fatalf("SortCatalog() error = %T, want *core.UnrankedFrequencyError", err)
	}
	if ufe.Row != 7 || ufe.Keyword != "Fortnightly" {
		t.Errorf("UnrankedFrequencyError = %+v", ufe)
	}
}

func TestSortCatalog_Empty(t *testing.T) {
	got, err := SortCatalog(nil, core.RankOf(core.Monthly))
	if err != nil {
		t.Fatalf("SortCatalog() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("SortCatalog() = %v, want empty", got)
	}
}
