package core

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// DaysBetween returns the whole number of days from s to d, rounded to the
// nearest day so that offsets across a daylight-saving change still count as
// whole days. The result is negative when d is before s.
func DaysBetween(d, s Date) int {
	return int(math.Round(float64(d.Sub(s.Time)) / float64(day)))
}

// IsLeapYear reports whether year has a February 29th.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the length of month (1-12) in year, computed as day 0
// of the following month.
func DaysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLastDayOfMonth reports whether d is the final day of its month.
func IsLastDayOfMonth(d Date) bool {
	return d.Day() == DaysInMonth(d.Year(), d.Month())
}
