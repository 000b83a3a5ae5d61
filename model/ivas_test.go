package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iva(id string, state IvaState, changed time.Time) *Iva {
	return &Iva{ID: id, State: state, ChangedAt: changed}
}

func TestBestIvaPrefersHigherVerificationProgress(t *testing.T) {
	early := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	verified := iva("IVA1", IvaStateVerified, early)
	created := iva("IVA2", IvaStateCodeCreated, late)

	// List order must not influence the result.
	assert.Equal(t, "IVA1", BestIva([]*Iva{verified, created}).ID)
	assert.Equal(t, "IVA1", BestIva([]*Iva{created, verified}).ID)
}

func TestBestIvaTieBreaksOnRecency(t *testing.T) {
	older := iva("IVA1", IvaStateVerified, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := iva("IVA2", IvaStateVerified, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "IVA2", BestIva([]*Iva{older, newer}).ID)
	assert.Equal(t, "IVA2", BestIva([]*Iva{newer, older}).ID)
}

func TestBestIvaEmptyList(t *testing.T) {
	assert.Nil(t, BestIva(nil))
	assert.Nil(t, BestIva([]*Iva{}))
}

func TestIvaStateRanks(t *testing.T) {
	ranked := []IvaState{
		IvaStateVerified,
		IvaStateCodeTransmitted,
		IvaStateCodeCreated,
		IvaStateCodeRequested,
		IvaStateUnverified,
	}
	for i, state := range ranked {
		assert.Equal(t, i+1, state.Rank(), "rank of %s", state)
	}
	// Malformed states must never be preferred over a known one.
	assert.Greater(t, IvaState("BOGUS").Rank(), IvaStateUnverified.Rank())
}

func TestIvaTransitionChain(t *testing.T) {
	allowed := []struct{ from, to IvaState }{
		{IvaStateUnverified, IvaStateCodeRequested},
		{IvaStateUnverified, IvaStateCodeTransmitted}, // phone: SMS is immediate
		{IvaStateCodeRequested, IvaStateCodeCreated},
		{IvaStateCodeCreated, IvaStateCodeTransmitted},
		{IvaStateCodeTransmitted, IvaStateVerified},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	forbidden := []struct{ from, to IvaState }{
		{IvaStateUnverified, IvaStateVerified},
		{IvaStateUnverified, IvaStateCodeCreated},
		{IvaStateCodeRequested, IvaStateCodeTransmitted},
		{IvaStateCodeRequested, IvaStateVerified},
		{IvaStateCodeCreated, IvaStateVerified},
		{IvaStateVerified, IvaStateCodeRequested},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func TestIvaResetEdgeFromAnyState(t *testing.T) {
	states := []IvaState{
		IvaStateUnverified, IvaStateCodeRequested, IvaStateCodeCreated,
		IvaStateCodeTransmitted, IvaStateVerified,
	}
	for _, from := range states {
		require.True(t, CanTransition(from, IvaStateUnverified), "reset from %s", from)
	}
	// Unknown states fail loudly instead of being silently tolerated.
	assert.False(t, CanTransition(IvaState("BOGUS"), IvaStateUnverified))
}
