// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/sift-sh/sift/internal/domain"
)

// Repository defines the interface for persisting user records and the
// key-value payloads the history layer writes. The KV half is deliberately
// narrow (get/set/delete by string key) so it can be backed by SQLite here
// or by a remote store without the callers noticing.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns (nil, nil) when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// Get retrieves the value stored under key. The bool reports presence.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the value stored under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the underlying storage.
	Ping(ctx context.Context) error

	// Close releases the underlying storage handle.
	Close() error
}
