package model

import "time"

// AccessRequestStatus defines the decision states of an access request.
type AccessRequestStatus string

const (
	RequestStatusPending AccessRequestStatus = "PENDING" // awaiting a data steward decision
	RequestStatusAllowed AccessRequestStatus = "ALLOWED" // approved, grant created
	RequestStatusDenied  AccessRequestStatus = "DENIED"  // rejected by a data steward
)

// AccessRequest is a user's request for access to one dataset. Requests are
// never deleted; once decided they are immutable apart from the data-steward
// annotation fields (ticket id and notes).
type AccessRequest struct {
	ObjectType      string              `json:"objectType"` // "AccessRequest"
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	UserName        string              `json:"userName"`
	UserEmail       string              `json:"userEmail"`
	DatasetID       string              `json:"datasetId"`
	DatasetTitle    string              `json:"datasetTitle"`
	DacAlias        string              `json:"dacAlias"`
	DacEmail        string              `json:"dacEmail"`
	RequestText     string              `json:"requestText"`
	AccessStarts    time.Time           `json:"accessStarts"`
	AccessEnds      time.Time           `json:"accessEnds"`
	CreatedAt       time.Time           `json:"createdAt"`
	Status          AccessRequestStatus `json:"status"`
	StatusChangedAt time.Time           `json:"statusChangedAt"`
	ChangedBy       string              `json:"changedBy"` // steward who decided; empty while pending
	IvaID           string              `json:"ivaId"`     // optional; bound on approval at the latest
	TicketID        string              `json:"ticketId"`
	InternalNote    string              `json:"internalNote"`    // steward-only
	NoteToRequester string              `json:"noteToRequester"` // shown to the requesting user
	GrantID         string              `json:"grantId"`         // set once allowed
}

// IsPending reports whether the request still awaits a decision.
func (r *AccessRequest) IsPending() bool {
	return r.Status == RequestStatusPending
}

// PaginatedRequestResponse is the structure returned by paginated request
// queries.
type PaginatedRequestResponse struct {
	Requests     []*AccessRequest `json:"requests"`
	NextBookmark string           `json:"nextBookmark"`
	FetchedCount int32            `json:"fetchedCount"`
}
