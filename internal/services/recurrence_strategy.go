// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurrence matching.
// Each frequency (weekly, monthly, quarterly...) has its own matcher
// that decides whether a transaction occurs on a given date.

package services

import (
	"budget/internal/core"
)

// RecurrenceMatcher is the strategy interface for recurrence rules.
type RecurrenceMatcher interface {
	// Matches reports whether a transaction first occurring on start also
	// occurs on target. Callers guarantee target is not before start.
	Matches(target, start core.Date) bool
}

// OnceMatcher matches the start date only.
type OnceMatcher struct{}

func (OnceMatcher) Matches(target, start core.Date) bool {
	return target.Equal(start)
}

// WeeklyMatcher matches dates on the same weekday as the start date.
type WeeklyMatcher struct{}

func (WeeklyMatcher) Matches(target, start core.Date) bool {
	return target.Weekday() == start.Weekday()
}

// BiweeklyMatcher matches every 14th day from the start date.
type BiweeklyMatcher struct{}

func (BiweeklyMatcher) Matches(target, start core.Date) bool {
	return core.DaysBetween(target, start)%14 == 0
}

// BiweeklyAfter15Matcher is a biweekly rule restricted to the 14th-27th of
// the month, so a payment due on the 15th still lands when the 15th falls on
// a weekend.
type BiweeklyAfter15Matcher struct{}

func (BiweeklyAfter15Matcher) Matches(target, start core.Date) bool {
	d := target.Day()
	return d > 13 && d < 28 && core.DaysBetween(target, start)%14 == 0
}

// MonthlyMatcher matches the start day of every month. A start day that does
// not exist in the target month rolls over to that month's last day.
type MonthlyMatcher struct{}

func (MonthlyMatcher) Matches(target, start core.Date) bool {
	if target.Day() == start.Day() {
		return true
	}
	return core.IsLastDayOfMonth(target) &&
		start.Day() > core.DaysInMonth(target.Year(), target.Month())
}

// MonthCycleMatcher matches the start day of every Months-th month, counted
// by calendar month parity. Months must divide 12.
type MonthCycleMatcher struct {
	Months int
}

func (m MonthCycleMatcher) Matches(target, start core.Date) bool {
	return target.Day() == start.Day() && (target.Month()-start.Month())%m.Months == 0
}

// AnnualMatcher matches the start day and month of every year.
type AnnualMatcher struct{}

func (AnnualMatcher) Matches(target, start core.Date) bool {
	return target.Day() == start.Day() && target.Month() == start.Month()
}

// UnknownMatcher never matches. It backs unrecognised frequency keywords.
type UnknownMatcher struct{}

func (UnknownMatcher) Matches(core.Date, core.Date) bool { return false }

// recurrenceStrategies maps frequencies to their matchers. It is never
// modified after initialisation.
var recurrenceStrategies = map[core.Frequency]RecurrenceMatcher{
	core.Once:            OnceMatcher{},
	core.Weekly:          WeeklyMatcher{},
	core.Biweekly:        BiweeklyMatcher{},
	core.Monthly:         MonthlyMatcher{},
	core.BiweeklyAfter15: BiweeklyAfter15Matcher{},
	core.Bimonthly:       MonthCycleMatcher{Months: 2},
	core.Quarterly:       MonthCycleMatcher{Months: 3},
	core.Triannual:       MonthCycleMatcher{Months: 4},
	core.Semiannual:      MonthCycleMatcher{Months: 6},
	core.Annual:          AnnualMatcher{},
}

// MatcherFor returns the matcher of frequency, or UnknownMatcher when the
// frequency has no rule.
func MatcherFor(frequency core.Frequency) RecurrenceMatcher {
	if m, ok := recurrenceStrategies[frequency]; ok {
		return m
	}
	return UnknownMatcher{}
}

// Matches reports whether a transaction with the given frequency and start
// date occurs on target. Nothing matches before the recurrence has started.
func Matches(frequency core.Frequency, target, start core.Date) bool {
	if target.Before(start) {
		return false
	}
	return MatcherFor(frequency).Matches(target, start)
}
