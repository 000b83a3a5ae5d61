package model

import "time"

// GrantStatus defines the computed states of an access grant. It is derived
// from the validity window on every read and is never written to the ledger.
type GrantStatus string

const (
	GrantStatusWaiting GrantStatus = "WAITING" // now is before the validity window
	GrantStatusActive  GrantStatus = "ACTIVE"  // now is inside the validity window
	GrantStatusExpired GrantStatus = "EXPIRED" // now is at or past the end of the window
)

// AccessGrant records granted access of one user to one dataset. It is
// created when a data steward allows an access request and deleted when the
// grant is revoked.
type AccessGrant struct {
	ObjectType   string    `json:"objectType"` // "AccessGrant"
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	UserEmail    string    `json:"userEmail"`
	DatasetID    string    `json:"datasetId"`
	DatasetTitle string    `json:"datasetTitle"`
	DacAlias     string    `json:"dacAlias"`
	DacEmail     string    `json:"dacEmail"`
	IvaID        string    `json:"ivaId"`
	RequestID    string    `json:"requestId"` // access request this grant was derived from
	ValidFrom    time.Time `json:"validFrom"`
	ValidUntil   time.Time `json:"validUntil"`
	CreatedAt    time.Time `json:"createdAt"`
	CreatedBy    string    `json:"createdBy"`
}

// ComputeGrantStatus maps a validity window against now. Expiry is checked
// before activity so a zero-length or inverted window reports EXPIRED.
func ComputeGrantStatus(now, validFrom, validUntil time.Time) GrantStatus {
	if now.Before(validFrom) {
		return GrantStatusWaiting
	}
	if !now.Before(validUntil) {
		return GrantStatusExpired
	}
	return GrantStatusActive
}

// Status derives the grant's current status from now.
func (g *AccessGrant) Status(now time.Time) GrantStatus {
	return ComputeGrantStatus(now, g.ValidFrom, g.ValidUntil)
}

// IsActive reports whether the grant currently permits access.
func (g *AccessGrant) IsActive(now time.Time) bool {
	return g.Status(now) == GrantStatusActive
}

// GrantView is an AccessGrant enriched with its computed status for query
// responses. The status field is derived per read, never persisted.
type GrantView struct {
	AccessGrant
	Status GrantStatus `json:"status"`
}

// NewGrantView attaches the computed status to a grant.
func NewGrantView(g *AccessGrant, now time.Time) *GrantView {
	return &GrantView{AccessGrant: *g, Status: g.Status(now)}
}

// PaginatedGrantResponse is the structure returned by paginated grant
// queries.
type PaginatedGrantResponse struct {
	Grants       []*GrantView `json:"grants"`
	NextBookmark string       `json:"nextBookmark"`
	FetchedCount int32        `json:"fetchedCount"`
}
