// Package history maintains the bounded per-user log of past queries.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sift-sh/sift/internal/domain"
	"github.com/sift-sh/sift/internal/store"
)

// DefaultLimit is the maximum number of entries kept per user.
const DefaultLimit = 20

// keyPrefix namespaces history payloads in the key-value store.
const keyPrefix = "search_history_"

// Store keeps a most-recent-first log of submitted queries per user, capped at
// a fixed limit, persisted as one JSON payload per user in the repository's
// key-value namespace. An in-memory copy is kept warm so a failed persist
// never corrupts what the user sees: the write is optimistic and a KV
// failure is logged and otherwise swallowed.
type Store struct {
	repo  store.Repository
	limit int

	mu    sync.Mutex
	cache map[string][]domain.HistoryEntry
}

// New creates a history store over the given repository. A non-positive limit
// falls back to DefaultLimit.
func New(repo store.Repository, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		repo:  repo,
		limit: limit,
		cache: make(map[string][]domain.HistoryEntry),
	}
}

// Key returns the key-value store key for a user's history payload.
func Key(userID string) string {
	return keyPrefix + userID
}

// Append records a query for userID: fresh id, current timestamp, prepended,
// truncated to the limit, persisted. The entry is returned even when the
// persist fails; the in-memory list stays authoritative for the process
// lifetime and the failure is non-fatal.
func (s *Store) Append(ctx context.Context, userID, query string) (*domain.HistoryEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("history append: empty user id")
	}

	entry := domain.HistoryEntry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Query:     query,
		UserID:    userID,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	entries := s.loadLocked(ctx, userID)
	entries = append([]domain.HistoryEntry{entry}, entries...)
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	s.cache[userID] = entries
	payload, err := json.Marshal(entries)
	s.mu.Unlock()

	if err != nil {
		// Marshal of plain structs should not fail; treat like a persist error.
		slog.Warn("Failed to encode history payload", "user_id", userID, "error", err)
		return &entry, nil
	}

	if err := s.repo.Set(ctx, Key(userID), string(payload)); err != nil {
		slog.Warn("Failed to persist search history", "user_id", userID, "error", err)
	}

	return &entry, nil
}

// Load returns the user's history, most-recent-first. Absent or unparsable
// persisted payloads yield an empty list.
func (s *Store) Load(ctx context.Context, userID string) []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loadLocked(ctx, userID))
}

// loadLocked returns the cached list for userID, reading through to the
// repository on a cold cache. Callers must hold s.mu.
func (s *Store) loadLocked(ctx context.Context, userID string) []domain.HistoryEntry {
	if entries, ok := s.cache[userID]; ok {
		return entries
	}

	payload, found, err := s.repo.Get(ctx, Key(userID))
	if err != nil {
		slog.Warn("Failed to read search history", "user_id", userID, "error", err)
		return nil
	}
	if !found {
		s.cache[userID] = nil
		return nil
	}

	var entries []domain.HistoryEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		// Corrupted payload is treated identically to no history.
		slog.Debug("Discarding unparsable history payload", "user_id", userID, "error", err)
		s.cache[userID] = nil
		return nil
	}
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}
	s.cache[userID] = entries
	return entries
}

// Clear removes the user's history from memory and storage. Called on logout.
func (s *Store) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, Key(userID)); err != nil {
		return fmt.Errorf("clear history for %s: %w", userID, err)
	}
	return nil
}
