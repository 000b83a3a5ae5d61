package model

import "time"

// RegisteredUser stores information about a portal user known to the
// system.
type RegisteredUser struct {
	ObjectType      string    `json:"objectType"`      // Set to the composite key object type (RegisteredUser)
	FullID          string    `json:"fullId"`          // Full X.509 identity string
	Name            string    `json:"name"`            // Display name of the user
	Email           string    `json:"email"`           // Contact email address
	Title           string    `json:"title"`           // Academic title, optional
	Roles           []string  `json:"roles"`           // List of roles assigned to this user
	IsAdmin         bool      `json:"isAdmin"`         // Whether this user has admin privileges
	RegisteredBy    string    `json:"registeredBy"`    // Full ID of identity that registered this one
	RegisteredAt    time.Time `json:"registeredAt"`    // Timestamp when the user was registered
	LastUpdatedAt   time.Time `json:"lastUpdatedAt"`   // Timestamp of last update to this record
}

// HasRole reports whether the user carries the given role.
func (u *RegisteredUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
