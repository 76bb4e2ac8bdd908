// Package core provides money parsing and formatting utilities.
//
// Amounts are signed decimals; the textual form used in sheet notes is
// "$1,234.50" for non-negative amounts and "($1,234.50)" for negative ones.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency renders amount with two decimals and comma thousands
// grouping. Negative amounts are shown as their absolute value wrapped in
// parentheses.
//
// Examples:
//
//	FormatCurrency(1234.5) -> "$1,234.50"
//	FormatCurrency(-5)     -> "($5.00)"
//	FormatCurrency(0)      -> "$0.00"
func FormatCurrency(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return "(" + formatDollars(amount.Abs()) + ")"
	}
	return formatDollars(amount)
}

func formatDollars(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	return "$" + groupThousands(intPart) + "." + fracPart
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// ParseAmount converts a signed amount string to a decimal.
//
// It accepts plain numbers ("1234.5", "-5") as well as the FormatCurrency
// form ("$1,234.50", "($5.00)"). An empty string yields ErrMissingAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, ErrMissingAmount
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		if negative {
			return decimal.Decimal{}, fmt.Errorf("parse amount %q: double negative", s)
		}
		negative = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return decimal.Decimal{}, fmt.Errorf("parse amount: invalid value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
