package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() DurationPolicy {
	p := DefaultDurationPolicy()
	p.MinDays = 14
	p.MaxDays = 730
	p.UpfrontMaxDays = 180
	return p
}

func TestDayBoundaries(t *testing.T) {
	start := Day(2025, time.January, 1, false)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), start)

	end := Day(2025, time.January, 1, true)
	assert.Equal(t, time.Date(2025, 1, 1, 23, 59, 59, 999_000_000, time.UTC), end)

	// Normalization must land on the same UTC calendar day regardless of the
	// wall-clock time of the input.
	noon := time.Date(2025, 1, 1, 12, 34, 56, 789, time.UTC)
	assert.Equal(t, start, StartOfDay(noon))
	assert.Equal(t, end, EndOfDay(noon))
}

func TestAddDays(t *testing.T) {
	base := Day(2025, time.January, 1, false)
	assert.Equal(t, Day(2025, time.January, 15, false), AddDays(base, 14))
	assert.Equal(t, Day(2024, time.December, 31, false), AddDays(base, -1))
	// 2025 and 2026 are non-leap years.
	assert.Equal(t, Day(2027, time.January, 1, false), AddDays(base, 730))
}

func TestUntilRangeForFromScenario(t *testing.T) {
	// accessGrantMinDays=14, accessGrantMaxDays=730, today 2025-01-01,
	// fromDate 2025-01-01.
	p := testPolicy()
	from := Day(2025, time.January, 1, false)

	r := UntilRangeForFrom(p, from)
	require.False(t, r.Invalid)
	assert.Equal(t, Day(2025, time.January, 15, true), r.Min)
	assert.Equal(t, Day(2027, time.January, 1, true), r.Max)
}

func TestFromRange(t *testing.T) {
	p := testPolicy()
	today := Day(2025, time.January, 1, false)

	r := FromRange(p, today)
	require.False(t, r.Invalid)
	assert.Equal(t, today, r.Min)
	assert.Equal(t, Day(2025, time.June, 30, false), r.Max) // 180 days ahead

	assert.True(t, r.Contains(Day(2025, time.March, 1, false)))
	assert.False(t, r.Contains(Day(2024, time.December, 31, false)))
	assert.False(t, r.Contains(Day(2025, time.July, 1, false)))
}

func TestFromRangeForUntil(t *testing.T) {
	p := testPolicy()
	today := Day(2025, time.January, 1, false)
	until := Day(2025, time.March, 1, true)

	r := FromRangeForUntil(p, today, until)
	require.False(t, r.Invalid)
	// Duration cap of 730 days would allow a start long before today; the
	// floor is today.
	assert.Equal(t, today, r.Min)
	// Start must leave at least 14 days of duration.
	assert.Equal(t, Day(2025, time.February, 15, false), r.Max)
}

func TestFromRangeForUntilContradictionIsInvalid(t *testing.T) {
	p := testPolicy()
	today := Day(2025, time.January, 1, false)
	// An end date closer than the minimum duration leaves no valid start.
	until := Day(2025, time.January, 5, true)

	r := FromRangeForUntil(p, today, until)
	assert.True(t, r.Invalid)
	assert.False(t, r.Contains(today))
}

func TestWindowRoundTrip(t *testing.T) {
	p := testPolicy()
	today := Day(2025, time.January, 1, false)
	from := Day(2025, time.February, 1, false)

	untilRange := UntilRangeForFrom(p, from)
	require.False(t, untilRange.Invalid)

	// Pick the midpoint of the until range and derive the from range back.
	mid := untilRange.Min.Add(untilRange.Max.Sub(untilRange.Min) / 2)
	fromRange := FromRangeForUntil(p, today, mid)
	require.False(t, fromRange.Invalid)
	assert.True(t, fromRange.Contains(from), "round trip lost the original from date")
}

func TestExtensionUntilRange(t *testing.T) {
	p := testPolicy()
	p.MaxExtendFactor = 2
	grant := &AccessGrant{
		ValidFrom:  Day(2025, time.January, 1, false),
		ValidUntil: Day(2025, time.July, 1, true),
	}

	// Extending while the grant is still running: floor is the current end.
	today := Day(2025, time.June, 1, false)
	r := ExtensionUntilRange(p, today, grant)
	require.False(t, r.Invalid)
	assert.Equal(t, EndOfDay(grant.ValidUntil), r.Min)
	assert.Equal(t, EndOfDay(AddDays(grant.ValidFrom, 1460)), r.Max)

	// Extending an already expired grant: floor is today, not the old end.
	today = Day(2026, time.March, 1, false)
	r = ExtensionUntilRange(p, today, grant)
	require.False(t, r.Invalid)
	assert.Equal(t, EndOfDay(today), r.Min)
}

func TestExtensionUntilRangeContradiction(t *testing.T) {
	p := testPolicy()
	p.MaxExtendFactor = 1
	grant := &AccessGrant{
		ValidFrom:  Day(2020, time.January, 1, false),
		ValidUntil: Day(2021, time.December, 31, true),
	}
	// The extension ceiling lies in the past relative to today.
	today := Day(2025, time.January, 1, false)
	assert.True(t, ExtensionUntilRange(p, today, grant).Invalid)
}

func TestDurationPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultDurationPolicy().Validate())

	bad := DefaultDurationPolicy()
	bad.MinDays = 0
	assert.Error(t, bad.Validate())

	bad = DefaultDurationPolicy()
	bad.MaxDays = bad.MinDays - 1
	assert.Error(t, bad.Validate())

	bad = DefaultDurationPolicy()
	bad.DefaultDurationDays = bad.MaxDays + 1
	assert.Error(t, bad.Validate())
}
