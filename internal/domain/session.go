package domain

import (
	"slices"
	"time"
)

// StreamingState tracks where a query session is in its lifecycle.
type StreamingState string

const (
	// StateStreaming indicates fragments are still arriving.
	StateStreaming StreamingState = "streaming"
	// StateFinalized indicates the response is complete with sources attached.
	StateFinalized StreamingState = "finalized"
	// StateErrored indicates the stream failed; the response holds a fixed
	// user-facing message.
	StateErrored StreamingState = "errored"
)

// Terminal returns true once the session can no longer change.
func (s StreamingState) Terminal() bool {
	return s == StateFinalized || s == StateErrored
}

// Source is one supporting reference attached to a finalized response.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Domain  string `json:"domain"`
}

// QuerySession is the unit of work for one question: the submitted query, the
// incrementally accumulated response, and the artifacts attached at
// finalization. The search engine is the single writer; everything handed to
// other goroutines is a Clone.
type QuerySession struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Query             string         `json:"query"`
	Response          string         `json:"response"`
	Sources           []Source       `json:"sources"`
	FollowUpQuestions []string       `json:"follow_up_questions"`
	Timestamp         time.Time      `json:"timestamp"`
	StreamingState    StreamingState `json:"streaming_state"`
}

// Clone returns a defensive copy safe to hand across goroutine boundaries.
func (s *QuerySession) Clone() QuerySession {
	out := *s
	out.Sources = slices.Clone(s.Sources)
	out.FollowUpQuestions = slices.Clone(s.FollowUpQuestions)
	return out
}
