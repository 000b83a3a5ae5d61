package model

import "time"

// WorkPackageType defines what a work package authorizes.
type WorkPackageType string

const (
	WorkPackageDownload WorkPackageType = "DOWNLOAD"
	WorkPackageUpload   WorkPackageType = "UPLOAD"
)

// WorkPackage scopes a time-limited download token to a dataset and an
// optional file-id subset, bound to a user-supplied public encryption key.
type WorkPackage struct {
	ObjectType    string          `json:"objectType"` // "WorkPackage"
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	GrantID       string          `json:"grantId"`
	DatasetID     string          `json:"datasetId"`
	FileIDs       []string        `json:"fileIds"` // empty means all files of the dataset
	Type          WorkPackageType `json:"type"`
	UserPublicKey string          `json:"userPublicKey"` // Crypt4GH public key, base64
	TokenHash     string          `json:"tokenHash"`     // sha256 of the issued token
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

// HasExpired reports whether the token window has passed.
func (w *WorkPackage) HasExpired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// WorkPackageResponse is returned once on creation; the plaintext token is
// never stored and cannot be re-fetched.
type WorkPackageResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
