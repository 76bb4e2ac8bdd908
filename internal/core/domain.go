package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical text form of a Date.
const DateLayout = "2006-01-02"

const (
	FrequencyUnknown Frequency = iota
	Once
	Weekly
	Biweekly
	Monthly
	BiweeklyAfter15
	Bimonthly
	Quarterly
	Triannual
	Semiannual
	Annual
)

type (
	// Frequency is the recurrence rule of a transaction. The zero value is
	// FrequencyUnknown, which never matches any date.
	Frequency uint8

	Date struct {
		time.Time
	}

	Transaction struct {
		// Row is the 0-based position of the transaction in the catalog as it
		// was loaded. It is the documented tiebreak of the catalog sort.
		Row          int
		StartDate    Date
		Description  string
		CurrencyCode string
		Amount       decimal.Decimal
		Frequency    Frequency
		// Keyword is the frequency text as found in the source, kept for
		// diagnostics when Frequency is FrequencyUnknown.
		Keyword    string
		Account    string
		ExpiryDate Date // zero when the transaction recurs indefinitely
	}

	// RateTable maps a currency code to the multiplier converting it into the
	// reporting currency.
	RateTable map[string]decimal.Decimal

	// FrequencyRank is the caller-supplied sort priority of frequency
	// keywords. Entries are free text, so a keyword no rule recognises can
	// still be ranked.
	FrequencyRank []string

	DailyResult struct {
		Date    Date
		Total   decimal.Decimal
		Comment string
		Matches int
	}

	// Snapshot holds the read-only inputs of one run.
	Snapshot struct {
		Rates   RateTable
		Dates   []Date
		Catalog []Transaction
		Ranks   FrequencyRank
	}
)

var frequencyKeywords = [...]string{
	FrequencyUnknown: "",
	Once:             "Once",
	Weekly:           "Weekly",
	Biweekly:         "Biweekly",
	Monthly:          "Monthly",
	BiweeklyAfter15:  "Biweekly after 15",
	Bimonthly:        "Bimonthly",
	Quarterly:        "Quarterly",
	Triannual:        "Triannual",
	Semiannual:       "Semiannual",
	Annual:           "Annual",
}

// Frequencies lists every known frequency in declaration order.
func Frequencies() []Frequency {
	return []Frequency{Once, Weekly, Biweekly, Monthly, BiweeklyAfter15, Bimonthly, Quarterly, Triannual, Semiannual, Annual}
}

// ParseFrequency maps a frequency keyword to its Frequency. Matching is exact
// apart from surrounding whitespace; unrecognised keywords yield
// FrequencyUnknown.
func ParseFrequency(keyword string) Frequency {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return FrequencyUnknown
	}
	for f, k := range frequencyKeywords {
		if k == keyword {
			return Frequency(f)
		}
	}
	return FrequencyUnknown
}

// ParseFrequencyRank builds a rank list from keywords, trimming whitespace
// and skipping blanks.
func ParseFrequencyRank(keywords []string) FrequencyRank {
	rank := make(FrequencyRank, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			rank = append(rank, k)
		}
	}
	return rank
}

// RankOf builds a rank list from known frequencies.
func RankOf(freqs ...Frequency) FrequencyRank {
	rank := make(FrequencyRank, 0, len(freqs))
	for _, f := range freqs {
		rank = append(rank, f.String())
	}
	return rank
}

// String returns the keyword of the frequency.
func (f Frequency) String() string {
	if int(f) < len(frequencyKeywords) && f != FrequencyUnknown {
		return frequencyKeywords[f]
	}
	return "Unknown"
}

// Known reports whether f is one of the defined recurrence rules.
func (f Frequency) Known() bool {
	return f > FrequencyUnknown && int(f) < len(frequencyKeywords)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// HasExpiry reports whether the transaction stops recurring at ExpiryDate.
func (t Transaction) HasExpiry() bool {
	return !t.ExpiryDate.IsZero()
}

// ActiveOn reports whether d is on or before the expiry date, if any.
func (t Transaction) ActiveOn(d Date) bool {
	return !t.HasExpiry() || !d.After(t.ExpiryDate)
}

func (t Transaction) Validate() error {
	if t.StartDate.IsZero() {
		return ErrMissingStartDate
	}
	if strings.TrimSpace(t.CurrencyCode) == "" {
		return ErrMissingCurrency
	}
	return nil
}

// RankKey is the keyword under which the transaction is looked up in a
// FrequencyRank: the canonical keyword of a known frequency, the source text
// otherwise.
func (t Transaction) RankKey() string {
	if t.Frequency.Known() {
		return t.Frequency.String()
	}
	return strings.TrimSpace(t.Keyword)
}

// Rate returns the multiplier for code, or a *MissingRateError.
func (r RateTable) Rate(code string) (decimal.Decimal, error) {
	rate, ok := r[code]
	if !ok {
		return decimal.Decimal{}, &MissingRateError{Currency: code}
	}
	return rate, nil
}

// Index returns the position of every ranked keyword.
func (r FrequencyRank) Index() (map[string]int, error) {
	idx := make(map[string]int, len(r))
	for i, k := range r {
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRank, k)
		}
		idx[k] = i
	}
	return idx, nil
}
