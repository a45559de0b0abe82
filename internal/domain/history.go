package domain

import "time"

// HistoryEntry is an immutable record of a past submitted query, scoped to a
// user. Entries are written at submission time; a session's eventual outcome
// does not change them.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}
