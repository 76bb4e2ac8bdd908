package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRate       = errors.New("missing currency rate")
	ErrUnrankedFrequency = errors.New("frequency missing from rank list")
	ErrDuplicateRank     = errors.New("frequency ranked more than once")
	ErrMalformedRow      = errors.New("malformed catalog row")
	ErrMissingStartDate  = errors.New("missing start date")
	ErrMissingAmount     = errors.New("missing amount")
	ErrMissingCurrency   = errors.New("missing currency code")
)

// MissingRateError reports a transaction whose currency has no entry in the
// rate table.
type MissingRateError struct {
	Currency    string
	Description string
	Row         int
}

func (e *MissingRateError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %q", ErrMissingRate, e.Currency)
	}
	return fmt.Sprintf("%s: %q (transaction %q, row %d)", ErrMissingRate, e.Currency, e.Description, e.Row)
}

func (e *MissingRateError) Unwrap() error { return ErrMissingRate }

// UnrankedFrequencyError reports a catalog frequency absent from the rank list.
type UnrankedFrequencyError struct {
	Frequency Frequency
	Keyword   string
	Row       int
}

func (e *UnrankedFrequencyError) Error() string {
	name := e.Keyword
	if name == "" {
		name = e.Frequency.String()
	}
	return fmt.Sprintf("%s: %q (row %d)", ErrUnrankedFrequency, name, e.Row)
}

func (e *UnrankedFrequencyError) Unwrap() error { return ErrUnrankedFrequency }

// MalformedRowError reports a catalog row that cannot become a Transaction.
type MalformedRowError struct {
	Row   int
	Field string
	Err   error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("%s %d: %s: %v", ErrMalformedRow, e.Row, e.Field, e.Err)
}

// Unwrap exposes both ErrMalformedRow and the field-level cause.
func (e *MalformedRowError) Unwrap() []error { return []error{ErrMalformedRow, e.Err} }
