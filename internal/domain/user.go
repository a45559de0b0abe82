// Package domain contains core domain types for the sift application.
package domain

import (
	"time"
)

// User represents an anonymous per-device user.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Identity is the authentication state for a request. The zero value means
// logged out; a non-empty UserID means logged in. Using one value type instead
// of a nullable user pointer keeps null-checks out of the request flow.
type Identity struct {
	UserID string
}

// LoggedIn reports whether the identity carries a user.
func (i Identity) LoggedIn() bool {
	return i.UserID != ""
}

// LoggedOut is the absent identity.
var LoggedOut = Identity{}
