package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequests() []*AccessRequest {
	created := func(day int) time.Time {
		return time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
	}
	return []*AccessRequest{
		{ID: "REQ1", DatasetID: "GHGAD123", DatasetTitle: "Rare Disease WGS", UserName: "Ada Lovelace",
			UserEmail: "ada@example.org", Status: RequestStatusPending, CreatedAt: created(1),
			RequestText: "PhD project on variant calling", TicketID: "GHGA-100"},
		{ID: "REQ2", DatasetID: "ghgad123", DatasetTitle: "Rare Disease WGS", UserName: "Grace Hopper",
			UserEmail: "grace@example.org", Status: RequestStatusAllowed, CreatedAt: created(2),
			DacAlias: "RD-DAC", DacEmail: "dac@rd.example.org"},
		{ID: "REQ3", DatasetID: "GHGAD456", DatasetTitle: "Cancer Cohort", UserName: "Ada Lovelace",
			UserEmail: "ada@example.org", Status: RequestStatusPending, CreatedAt: created(3)},
		{ID: "REQ4", DatasetID: "GHGAD456", DatasetTitle: "Cancer Cohort", UserName: "Alan Turing",
			UserEmail: "alan@example.org", Status: RequestStatusDenied, CreatedAt: created(4),
			NoteToRequester: "insufficient justification"},
		{ID: "REQ5", DatasetID: "GHGAD123", DatasetTitle: "Rare Disease WGS", UserName: "Ada Lovelace",
			UserEmail: "ada@example.org", Status: RequestStatusDenied, CreatedAt: created(5)},
	}
}

func requestIDs(requests []*AccessRequest) []string {
	ids := []string{}
	for _, r := range requests {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestEmptyFilterIsIdentity(t *testing.T) {
	requests := sampleRequests()
	filtered := FilterAccessRequests(requests, AccessRequestFilter{})
	require.Len(t, filtered, len(requests))
	// Same elements, same order.
	for i := range requests {
		assert.Same(t, requests[i], filtered[i])
	}
}

func TestFilterNarrowingIsMonotonic(t *testing.T) {
	requests := sampleRequests()

	f := AccessRequestFilter{Status: RequestStatusPending}
	narrowed := FilterAccessRequests(requests, f)
	assert.LessOrEqual(t, len(narrowed), len(requests))

	f.Dataset = "GHGAD123"
	narrower := FilterAccessRequests(requests, f)
	assert.LessOrEqual(t, len(narrower), len(narrowed))

	f.Requester = "nobody"
	assert.Empty(t, FilterAccessRequests(requests, f))
}

func TestFilterStatusAndDatasetCaseInsensitive(t *testing.T) {
	// status=pending AND dataset=GHGAD123 must match both predicates
	// case-insensitively.
	filtered := FilterAccessRequests(sampleRequests(), AccessRequestFilter{
		Status:  AccessRequestStatus("pending"),
		Dataset: "ghgad123",
	})
	assert.Equal(t, []string{"REQ1"}, requestIDs(filtered))
}

func TestFilterFieldPredicates(t *testing.T) {
	requests := sampleRequests()

	tests := []struct {
		name   string
		filter AccessRequestFilter
		want   []string
	}{
		{"ticket exact", AccessRequestFilter{TicketID: "ghga-100"}, []string{"REQ1"}},
		{"dataset by title substring", AccessRequestFilter{Dataset: "cancer"}, []string{"REQ3", "REQ4"}},
		{"requester by email", AccessRequestFilter{Requester: "ada@"}, []string{"REQ1", "REQ3", "REQ5"}},
		{"dac alias", AccessRequestFilter{Dac: "rd-dac"}, []string{"REQ2"}},
		{"free text over notes", AccessRequestFilter{Text: "justification"}, []string{"REQ4"}},
		{"created lower bound", AccessRequestFilter{
			CreatedAfter: time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)}, []string{"REQ4", "REQ5"}},
		{"created upper bound", AccessRequestFilter{
			CreatedBefore: time.Date(2025, 1, 2, 23, 59, 59, 0, time.UTC)}, []string{"REQ1", "REQ2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, requestIDs(FilterAccessRequests(requests, tt.filter)))
		})
	}
}

func TestFilterAccessGrantsByComputedStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	grants := []*AccessGrant{
		{ID: "G1", UserName: "Ada Lovelace", DatasetID: "GHGAD123",
			ValidFrom:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "G2", UserName: "Grace Hopper", DatasetID: "GHGAD123",
			ValidFrom:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "G3", UserName: "Ada Lovelace", DatasetID: "GHGAD456",
			ValidFrom:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	active := FilterAccessGrants(grants, AccessGrantFilter{Status: GrantStatusActive}, now)
	require.Len(t, active, 1)
	assert.Equal(t, "G1", active[0].ID)

	waiting := FilterAccessGrants(grants, AccessGrantFilter{Status: GrantStatusWaiting}, now)
	require.Len(t, waiting, 1)
	assert.Equal(t, "G2", waiting[0].ID)

	adaExpired := FilterAccessGrants(grants, AccessGrantFilter{User: "ada", Status: GrantStatusExpired}, now)
	require.Len(t, adaExpired, 1)
	assert.Equal(t, "G3", adaExpired[0].ID)
}

func TestFilterIvas(t *testing.T) {
	ivas := []*Iva{
		{ID: "I1", UserID: "u1", Type: IvaTypePhone, State: IvaStateVerified, Value: "+49 123 456"},
		{ID: "I2", UserID: "u1", Type: IvaTypePostalAddress, State: IvaStateUnverified, Value: "Main St 1"},
		{ID: "I3", UserID: "u2", Type: IvaTypePhone, State: IvaStateCodeRequested, Value: "+49 987 654"},
	}

	byUser := FilterIvas(ivas, IvaFilter{UserID: "u1"})
	assert.Equal(t, 2, len(byUser))

	phonesOfU1 := FilterIvas(ivas, IvaFilter{UserID: "u1", Type: IvaTypePhone})
	require.Len(t, phonesOfU1, 1)
	assert.Equal(t, "I1", phonesOfU1[0].ID)

	byValue := FilterIvas(ivas, IvaFilter{Value: "987"})
	require.Len(t, byValue, 1)
	assert.Equal(t, "I3", byValue[0].ID)
}

func TestFilterRegisteredUsers(t *testing.T) {
	admin := true
	users := []*RegisteredUser{
		{FullID: "x509::u1", Name: "Ada Lovelace", Email: "ada@example.org", Roles: []string{"data_steward"}},
		{FullID: "x509::u2", Name: "Grace Hopper", Email: "grace@example.org", IsAdmin: true},
		{FullID: "x509::u3", Name: "Alan Turing", Email: "alan@example.org"},
	}

	stewards := FilterRegisteredUsers(users, RegisteredUserFilter{Role: "Data_Steward"})
	require.Len(t, stewards, 1)
	assert.Equal(t, "x509::u1", stewards[0].FullID)

	admins := FilterRegisteredUsers(users, RegisteredUserFilter{IsAdmin: &admin})
	require.Len(t, admins, 1)
	assert.Equal(t, "x509::u2", admins[0].FullID)

	assert.Len(t, FilterRegisteredUsers(users, RegisteredUserFilter{Text: "example.org"}), 3)
}
