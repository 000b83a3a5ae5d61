package model

import (
	"errors"
	"time"
)

// DurationPolicy holds the configured day-count knobs constraining access
// windows. A single policy record lives on the ledger; admins can replace
// it.
type DurationPolicy struct {
	ObjectType          string `json:"objectType"` // "DurationPolicy"
	MinDays             int    `json:"accessGrantMinDays"`        // shortest allowed grant duration
	MaxDays             int    `json:"accessGrantMaxDays"`        // longest allowed grant duration
	MaxExtendFactor     int    `json:"accessGrantMaxExtend"`      // multiplier on MaxDays when extending
	UpfrontMaxDays      int    `json:"accessUpfrontMaxDays"`      // how far ahead of today access may start
	DefaultDurationDays int    `json:"defaultAccessDurationDays"` // pre-filled duration for new requests
	TokenValidDays      int    `json:"workPackageTokenValidDays"` // validity of download tokens
}

// DefaultDurationPolicy returns the compiled-in policy used until an admin
// stores an explicit one.
func DefaultDurationPolicy() DurationPolicy {
	return DurationPolicy{
		ObjectType:          "DurationPolicy",
		MinDays:             14,
		MaxDays:             730,
		MaxExtendFactor:     2,
		UpfrontMaxDays:      180,
		DefaultDurationDays: 365,
		TokenValidDays:      30,
	}
}

// Validate checks the policy for internal consistency.
func (p DurationPolicy) Validate() error {
	switch {
	case p.MinDays <= 0:
		return errors.New("accessGrantMinDays must be positive")
	case p.MaxDays < p.MinDays:
		return errors.New("accessGrantMaxDays must not be below accessGrantMinDays")
	case p.MaxExtendFactor < 1:
		return errors.New("accessGrantMaxExtend must be at least 1")
	case p.UpfrontMaxDays < 0:
		return errors.New("accessUpfrontMaxDays must not be negative")
	case p.DefaultDurationDays < p.MinDays || p.DefaultDurationDays > p.MaxDays:
		return errors.New("defaultAccessDurationDays must lie between min and max days")
	case p.TokenValidDays <= 0:
		return errors.New("workPackageTokenValidDays must be positive")
	}
	return nil
}

// DateRange is the valid [Min, Max] window for a date form field. Invalid is
// set when the constraints contradict each other; callers must treat the
// field as unfillable rather than clamp.
type DateRange struct {
	Min     time.Time `json:"min"`
	Max     time.Time `json:"max"`
	Invalid bool      `json:"invalid,omitempty"`
}

// Contains reports whether t lies inside the range. An invalid range
// contains nothing.
func (r DateRange) Contains(t time.Time) bool {
	if r.Invalid {
		return false
	}
	return !t.Before(r.Min) && !t.After(r.Max)
}

func checked(min, max time.Time) DateRange {
	if min.After(max) {
		return DateRange{Invalid: true}
	}
	return DateRange{Min: min, Max: max}
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// FromRange computes the valid window for the access-start date of a new
// request: not before today, not more than UpfrontMaxDays ahead. Both
// bounds are start-of-day UTC.
func FromRange(p DurationPolicy, today time.Time) DateRange {
	floor := StartOfDay(today)
	return checked(floor, StartOfDay(AddDays(floor, p.UpfrontMaxDays)))
}

// UntilRangeForFrom computes the valid window for the access-end date given
// a chosen start date, so that the duration lies within [MinDays, MaxDays].
// Both bounds are end-of-day UTC.
func UntilRangeForFrom(p DurationPolicy, from time.Time) DateRange {
	start := StartOfDay(from)
	return checked(EndOfDay(AddDays(start, p.MinDays)), EndOfDay(AddDays(start, p.MaxDays)))
}

// FromRangeForUntil is the symmetric computation: given a chosen end date,
// the start must keep the duration within policy, not precede today, and
// not exceed the upfront lead time.
func FromRangeForUntil(p DurationPolicy, today, until time.Time) DateRange {
	end := StartOfDay(until)
	todayFloor := StartOfDay(today)
	min := laterOf(todayFloor, AddDays(end, -p.MaxDays))
	max := earlierOf(AddDays(end, -p.MinDays), AddDays(todayFloor, p.UpfrontMaxDays))
	return checked(min, max)
}

// ExtensionUntilRange computes the valid window for the new end date when
// extending an existing grant: no earlier than today or the current end,
// whichever is later, and no later than MaxDays times the extension factor
// past the grant's start. The floor is today rather than the upfront lead
// time.
func ExtensionUntilRange(p DurationPolicy, today time.Time, g *AccessGrant) DateRange {
	min := EndOfDay(laterOf(today, g.ValidUntil))
	max := EndOfDay(AddDays(StartOfDay(g.ValidFrom), p.MaxDays*p.MaxExtendFactor))
	return checked(min, max)
}
