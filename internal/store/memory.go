package store

import (
	"context"
	"sync"
	"time"

	"github.com/sift-sh/sift/internal/domain"
)

// MemoryStore implements Repository with in-process maps. Used in tests and
// as a fallback when no database path is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User
	kv    map[string]string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		kv:    make(map[string]string),
	}
}

// GetUser retrieves a user by their user ID.
func (s *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

// UpsertUser creates or updates a user record.
func (s *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = *user
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.LastSeenAt = lastSeen
		u.UpdatedAt = time.Now()
		s.users[userID] = u
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

// Delete removes the value stored under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
