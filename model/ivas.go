package model

import "time"

// IvaType defines the contact channels usable as an independent verification
// address.
type IvaType string

const (
	IvaTypePhone         IvaType = "PHONE"
	IvaTypeFax           IvaType = "FAX"
	IvaTypePostalAddress IvaType = "POSTAL_ADDRESS"
	IvaTypeInPerson      IvaType = "IN_PERSON"
)

// IvaState defines the verification states of an IVA. The states form a
// strict forward chain with a reset edge back to UNVERIFIED from any state.
type IvaState string

const (
	IvaStateUnverified      IvaState = "UNVERIFIED"
	IvaStateCodeRequested   IvaState = "CODE_REQUESTED"   // user asked for a verification code
	IvaStateCodeCreated     IvaState = "CODE_CREATED"     // steward generated the code
	IvaStateCodeTransmitted IvaState = "CODE_TRANSMITTED" // code sent over the contact channel
	IvaStateVerified        IvaState = "VERIFIED"
)

// Iva is an independent verification address: a contact channel a user can
// use to prove their identity before downloading data.
type Iva struct {
	ObjectType        string    `json:"objectType"` // "Iva"
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Type              IvaType   `json:"type"`
	Value             string    `json:"value"` // phone number, postal address, ...
	State             IvaState  `json:"state"`
	ChangedAt         time.Time `json:"changedAt"`
	CodeHash          string    `json:"codeHash,omitempty"` // sha256 of the verification code, while one is pending
	AttemptsRemaining int       `json:"attemptsRemaining,omitempty"`
}

// ivaStateRanks orders states by verification progress; closer to verified
// wins. Unknown states rank after UNVERIFIED so malformed input is never
// preferred over a known state.
var ivaStateRanks = map[IvaState]int{
	IvaStateVerified:        1,
	IvaStateCodeTransmitted: 2,
	IvaStateCodeCreated:     3,
	IvaStateCodeRequested:   4,
	IvaStateUnverified:      5,
}

// Rank returns the verification-progress rank of a state, lower is better.
func (s IvaState) Rank() int {
	if r, ok := ivaStateRanks[s]; ok {
		return r
	}
	return len(ivaStateRanks) + 1
}

// BestIva selects the IVA to propose for a new grant: lowest state rank,
// most recently changed on a rank tie. Returns nil for an empty list. The
// selection is a heuristic; a data steward can override it.
func BestIva(ivas []*Iva) *Iva {
	var best *Iva
	for _, iva := range ivas {
		if iva == nil {
			continue
		}
		if best == nil {
			best = iva
			continue
		}
		r, b := iva.State.Rank(), best.State.Rank()
		if r < b || (r == b && iva.ChangedAt.After(best.ChangedAt)) {
			best = iva
		}
	}
	return best
}

// ivaTransitions lists the permitted forward edges of the verification
// state machine. The reset edge to UNVERIFIED is valid from every state and
// handled separately.
var ivaTransitions = map[IvaState][]IvaState{
	IvaStateUnverified:      {IvaStateCodeRequested, IvaStateCodeTransmitted},
	IvaStateCodeRequested:   {IvaStateCodeCreated},
	IvaStateCodeCreated:     {IvaStateCodeTransmitted},
	IvaStateCodeTransmitted: {IvaStateVerified},
}

// CanTransition reports whether moving from one IVA state to another is
// permitted. Transitions from unknown states are rejected.
func CanTransition(from, to IvaState) bool {
	if _, known := ivaStateRanks[from]; !known {
		return false
	}
	if to == IvaStateUnverified {
		return true
	}
	for _, next := range ivaTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidIvaType reports whether the given type is one of the supported
// contact channels.
func ValidIvaType(t IvaType) bool {
	switch t {
	case IvaTypePhone, IvaTypeFax, IvaTypePostalAddress, IvaTypeInPerson:
		return true
	}
	return false
}
