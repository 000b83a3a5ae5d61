package model

import (
	"strings"
	"time"
)

// Filter objects are ephemeral, client-supplied value objects. Absent
// (zero-valued) fields impose no constraint; all present fields are combined
// with logical AND. Filtering is stable: input order is preserved and an
// all-empty filter is the identity.

// AccessRequestFilter narrows a list of access requests.
type AccessRequestFilter struct {
	TicketID      string              `json:"ticketId,omitempty"`      // exact, case-insensitive
	Dataset       string              `json:"dataset,omitempty"`       // substring on dataset id or title
	Requester     string              `json:"requester,omitempty"`     // substring on requester name or email
	Dac           string              `json:"dac,omitempty"`           // substring on DAC alias or email
	CreatedAfter  time.Time           `json:"createdAfter,omitempty"`  // inclusive lower bound on creation
	CreatedBefore time.Time           `json:"createdBefore,omitempty"` // inclusive upper bound on creation
	Status        AccessRequestStatus `json:"status,omitempty"`        // exact, case-insensitive
	Text          string              `json:"text,omitempty"`          // substring on request text and notes
}

// AccessGrantFilter narrows a list of access grants. Status is matched
// against the status computed at now.
type AccessGrantFilter struct {
	User    string      `json:"user,omitempty"`    // substring on user name or email
	Dataset string      `json:"dataset,omitempty"` // substring on dataset id or title
	IvaID   string      `json:"ivaId,omitempty"`   // exact
	Status  GrantStatus `json:"status,omitempty"`  // exact, case-insensitive
}

// IvaFilter narrows a list of verification addresses.
type IvaFilter struct {
	UserID string   `json:"userId,omitempty"` // exact
	Type   IvaType  `json:"type,omitempty"`   // exact, case-insensitive
	State  IvaState `json:"state,omitempty"`  // exact, case-insensitive
	Value  string   `json:"value,omitempty"`  // substring on the address value
}

// RegisteredUserFilter narrows a list of registered users.
type RegisteredUserFilter struct {
	Text    string `json:"text,omitempty"`    // substring on name or email
	Role    string `json:"role,omitempty"`    // exact role membership
	IsAdmin *bool  `json:"isAdmin,omitempty"` // admin flag equality when set
}

// containsFold is a case-insensitive substring check.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// equalFold is a case-insensitive, whitespace-trimmed equality check.
func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// anyContainsFold checks the needle against several candidate fields.
func anyContainsFold(needle string, fields ...string) bool {
	for _, f := range fields {
		if containsFold(f, needle) {
			return true
		}
	}
	return false
}

// Matches reports whether a request satisfies every present filter field.
func (f AccessRequestFilter) Matches(r *AccessRequest) bool {
	if f.TicketID != "" && !equalFold(r.TicketID, f.TicketID) {
		return false
	}
	if f.Dataset != "" && !anyContainsFold(f.Dataset, r.DatasetID, r.DatasetTitle) {
		return false
	}
	if f.Requester != "" && !anyContainsFold(f.Requester, r.UserName, r.UserEmail) {
		return false
	}
	if f.Dac != "" && !anyContainsFold(f.Dac, r.DacAlias, r.DacEmail) {
		return false
	}
	if !f.CreatedAfter.IsZero() && r.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && r.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	if f.Status != "" && !equalFold(string(r.Status), string(f.Status)) {
		return false
	}
	if f.Text != "" && !anyContainsFold(f.Text, r.RequestText, r.InternalNote, r.NoteToRequester) {
		return false
	}
	return true
}

// FilterAccessRequests applies the filter, preserving input order.
func FilterAccessRequests(requests []*AccessRequest, f AccessRequestFilter) []*AccessRequest {
	filtered := []*AccessRequest{}
	for _, r := range requests {
		if f.Matches(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Matches reports whether a grant satisfies every present filter field,
// with its status computed at now.
func (f AccessGrantFilter) Matches(g *AccessGrant, now time.Time) bool {
	if f.User != "" && !anyContainsFold(f.User, g.UserName, g.UserEmail) {
		return false
	}
	if f.Dataset != "" && !anyContainsFold(f.Dataset, g.DatasetID, g.DatasetTitle) {
		return false
	}
	if f.IvaID != "" && g.IvaID != f.IvaID {
		return false
	}
	if f.Status != "" && !equalFold(string(g.Status(now)), string(f.Status)) {
		return false
	}
	return true
}

// FilterAccessGrants applies the filter, preserving input order.
func FilterAccessGrants(grants []*AccessGrant, f AccessGrantFilter, now time.Time) []*AccessGrant {
	filtered := []*AccessGrant{}
	for _, g := range grants {
		if f.Matches(g, now) {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

// Matches reports whether an IVA satisfies every present filter field.
func (f IvaFilter) Matches(iva *Iva) bool {
	if f.UserID != "" && iva.UserID != f.UserID {
		return false
	}
	if f.Type != "" && !equalFold(string(iva.Type), string(f.Type)) {
		return false
	}
	if f.State != "" && !equalFold(string(iva.State), string(f.State)) {
		return false
	}
	if f.Value != "" && !containsFold(iva.Value, f.Value) {
		return false
	}
	return true
}

// FilterIvas applies the filter, preserving input order.
func FilterIvas(ivas []*Iva, f IvaFilter) []*Iva {
	filtered := []*Iva{}
	for _, iva := range ivas {
		if f.Matches(iva) {
			filtered = append(filtered, iva)
		}
	}
	return filtered
}

// Matches reports whether a user satisfies every present filter field.
func (f RegisteredUserFilter) Matches(u *RegisteredUser) bool {
	if f.Text != "" && !anyContainsFold(f.Text, u.Name, u.Email) {
		return false
	}
	if f.Role != "" && !u.HasRole(strings.ToLower(strings.TrimSpace(f.Role))) {
		return false
	}
	if f.IsAdmin != nil && u.IsAdmin != *f.IsAdmin {
		return false
	}
	return true
}

// FilterRegisteredUsers applies the filter, preserving input order.
func FilterRegisteredUsers(users []*RegisteredUser, f RegisteredUserFilter) []*RegisteredUser {
	filtered := []*RegisteredUser{}
	for _, u := range users {
		if f.Matches(u) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}
