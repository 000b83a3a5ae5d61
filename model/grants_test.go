package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeGrantStatus(t *testing.T) {
	validFrom := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	validUntil := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want GrantStatus
	}{
		{"before window", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), GrantStatusWaiting},
		{"just before start", validFrom.Add(-time.Millisecond), GrantStatusWaiting},
		{"at start", validFrom, GrantStatusActive},
		{"inside window", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), GrantStatusActive},
		{"just before end", validUntil.Add(-time.Millisecond), GrantStatusActive},
		{"at end", validUntil, GrantStatusExpired},
		{"after window", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), GrantStatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeGrantStatus(tt.now, validFrom, validUntil))
		})
	}
}

func TestComputeGrantStatusZeroLengthWindowIsExpired(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// Expiry dominates when validFrom == validUntil.
	assert.Equal(t, GrantStatusExpired, ComputeGrantStatus(at, at, at))
}

func TestComputeGrantStatusInvertedWindowIsExpired(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, GrantStatusExpired, ComputeGrantStatus(now, from, until))
}

func TestGrantStatusNeverPersisted(t *testing.T) {
	g := &AccessGrant{
		ID:         "GRANT001",
		ValidFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, g.IsActive(now))
	view := NewGrantView(g, now)
	assert.Equal(t, GrantStatusActive, view.Status)

	// Re-deriving at a later time must reflect the new now, not a cache.
	later := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, GrantStatusExpired, NewGrantView(g, later).Status)
	assert.False(t, g.IsActive(later))
}
