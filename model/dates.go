package model

import "time"

// Day builds a UTC timestamp for a calendar date. With endOfDay false the
// result is midnight (00:00:00.000), otherwise 23:59:59.999. Access-window
// boundaries are always derived through this function so they never shift
// across timezones.
func Day(year int, month time.Month, day int, endOfDay bool) time.Time {
	if endOfDay {
		return time.Date(year, month, day, 23, 59, 59, 999_000_000, time.UTC)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay normalizes an arbitrary timestamp to UTC midnight of its
// calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Day(y, m, d, false)
}

// EndOfDay normalizes an arbitrary timestamp to 23:59:59.999 UTC of its
// calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Day(y, m, d, true)
}

// AddDays offsets a timestamp by a number of calendar days. Days may be
// negative.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}
