// Package search implements the query-session orchestration engine: the
// lifecycle of a search request from submission through incremental streaming
// to finalization, coordinated with the per-user history log.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sift-sh/sift/internal/backend"
	"github.com/sift-sh/sift/internal/domain"
	"github.com/sift-sh/sift/internal/finalize"
	"github.com/sift-sh/sift/internal/history"
)

// ErrorMessage is the fixed user-facing response for a failed stream. It
// replaces any partially accumulated content.
const ErrorMessage = "Sorry, I encountered an error while searching. Please try again."

var (
	// ErrEmptyQuery is returned by Submit for blank query text.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNoUser is returned by Submit when no user identity is present.
	ErrNoUser = errors.New("no user identity")
)

// historyTimeout bounds the fire-and-forget history write so a slow store
// cannot pile up goroutines.
const historyTimeout = 5 * time.Second

// inflight tracks one user's streaming session and its cancellation handle.
type inflight struct {
	session *domain.QuerySession
	cancel  context.CancelFunc
}

// Engine owns the current query session per user. It is the single writer of
// session state: the aggregator goroutine feeds it fragments through the
// OnFragment/OnStreamComplete/OnStreamError callbacks, all serialized under
// one mutex. Supersession is a session-id comparison; callbacks carrying a
// stale id are silently dropped.
type Engine struct {
	streamer  backend.Streamer
	finalizer finalize.Finalizer
	hist      *history.Store
	maxTokens int

	mu      sync.Mutex
	current map[string]*inflight // userID -> current session

	subMu       sync.RWMutex
	subscribers map[int]chan domain.QuerySession
	nextSubID   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxTokens overrides the default generation length governor.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// New creates an Engine over the given backend, finalizer, and history store.
func New(streamer backend.Streamer, finalizer finalize.Finalizer, hist *history.Store, opts ...Option) *Engine {
	e := &Engine{
		streamer:    streamer,
		finalizer:   finalizer,
		hist:        hist,
		maxTokens:   defaultMaxTokens,
		current:     make(map[string]*inflight),
		subscribers: make(map[int]chan domain.QuerySession),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit starts a new query session for the user. Any in-flight session for
// the same user is superseded: its stream is cancelled and its remaining
// callbacks become no-ops. The query is recorded in history at submission
// time, regardless of the session's eventual outcome.
func (e *Engine) Submit(ctx context.Context, userID, query string) (domain.QuerySession, error) {
	if userID == "" {
		return domain.QuerySession{}, ErrNoUser
	}
	if query == "" {
		return domain.QuerySession{}, ErrEmptyQuery
	}

	session := &domain.QuerySession{
		ID:             uuid.Must(uuid.NewV7()).String(),
		UserID:         userID,
		Query:          query,
		Timestamp:      time.Now(),
		StreamingState: domain.StateStreaming,
	}

	// The stream outlives the submitting request; only supersession or
	// shutdown cancels it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	if prev, ok := e.current[userID]; ok {
		if prev.session.StreamingState == domain.StateStreaming {
			slog.Info("Superseding in-flight session",
				"user_id", userID,
				"old_session_id", prev.session.ID,
				"new_session_id", session.ID,
			)
		}
		prev.cancel()
	}
	e.current[userID] = &inflight{session: session, cancel: cancel}
	snapshot := session.Clone()
	e.mu.Unlock()

	// Recording happens at submission time and must not block the stream
	// start; persistence errors are non-fatal and logged by the store.
	go func() {
		hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		defer hcancel()
		if _, err := e.hist.Append(hctx, userID, query); err != nil {
			slog.Warn("Failed to record history entry", "user_id", userID, "error", err)
		}
	}()

	// Publish before the stream starts so subscribers never see a fragment
	// snapshot ahead of the submission snapshot.
	e.publish(snapshot)
	go e.run(streamCtx, session.ID, userID, query)

	return snapshot, nil
}

// OnFragment appends text to the session's response. Stale session ids and
// terminal sessions are ignored.
func (e *Engine) OnFragment(sessionID, text string) {
	e.mu.Lock()
	session := e.acceptLocked(sessionID)
	if session == nil || session.StreamingState.Terminal() {
		e.mu.Unlock()
		return
	}
	session.Response += text
	snapshot := session.Clone()
	e.mu.Unlock()

	e.publish(snapshot)
}

// OnStreamComplete finalizes the session: sources and follow-up questions are
// attached and the response freezes. Stale session ids are ignored.
func (e *Engine) OnStreamComplete(ctx context.Context, sessionID string) {
	e.mu.Lock()
	session := e.acceptLocked(sessionID)
	if session == nil || session.StreamingState.Terminal() {
		e.mu.Unlock()
		return
	}
	query, response := session.Query, session.Response
	e.mu.Unlock()

	// The finalizer is pure, so it runs outside the lock.
	result, err := e.finalizer.Finalize(ctx, query, response)
	if err != nil {
		slog.Error("Finalization failed", "session_id", sessionID, "error", err)
		e.OnStreamError(sessionID, err)
		return
	}

	e.mu.Lock()
	session = e.acceptLocked(sessionID)
	if session == nil || session.StreamingState.Terminal() {
		e.mu.Unlock()
		return
	}
	session.Sources = result.Sources
	session.FollowUpQuestions = result.FollowUpQuestions
	session.StreamingState = domain.StateFinalized
	snapshot := session.Clone()
	e.mu.Unlock()

	slog.Info("Session finalized",
		"session_id", sessionID,
		"response_length", len(snapshot.Response),
		"sources", len(snapshot.Sources),
	)
	e.publish(snapshot)
}

// OnStreamError moves the session to the terminal errored state. The fixed
// user-facing message replaces any accumulated content, never a mix of the
// two. Stale session ids are ignored.
func (e *Engine) OnStreamError(sessionID string, streamErr error) {
	e.mu.Lock()
	session := e.acceptLocked(sessionID)
	if session == nil || session.StreamingState.Terminal() {
		e.mu.Unlock()
		return
	}
	session.Response = ErrorMessage
	session.Sources = nil
	session.FollowUpQuestions = nil
	session.StreamingState = domain.StateErrored
	snapshot := session.Clone()
	e.mu.Unlock()

	slog.Error("Session errored", "session_id", sessionID, "error", streamErr)
	e.publish(snapshot)
}

// Current returns a snapshot of the user's current session, if any.
func (e *Engine) Current(userID string) (domain.QuerySession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.current[userID]
	if !ok {
		return domain.QuerySession{}, false
	}
	return cur.session.Clone(), true
}

// Drop evicts the user's current session and cancels its stream. Called on
// logout alongside history.Clear.
func (e *Engine) Drop(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.current[userID]; ok {
		cur.cancel()
		delete(e.current, userID)
	}
}

// acceptLocked resolves sessionID to the live session it identifies, or nil
// when the id has been superseded. Callers must hold e.mu.
func (e *Engine) acceptLocked(sessionID string) *domain.QuerySession {
	for _, cur := range e.current {
		if cur.session.ID == sessionID {
			return cur.session
		}
	}
	slog.Debug("Dropping stale session event", "session_id", sessionID)
	return nil
}

// Subscribe registers a snapshot listener. Every accepted mutation publishes a
// defensive copy of the session to all subscribers. Slow subscribers drop
// snapshots rather than blocking the engine. The returned function
// unsubscribes.
func (e *Engine) Subscribe() (<-chan domain.QuerySession, func()) {
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	ch := make(chan domain.QuerySession, 16)
	e.subscribers[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		if existing, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(existing)
		}
		e.subMu.Unlock()
	}
}

func (e *Engine) publish(snapshot domain.QuerySession) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Subscriber is not keeping up; it will catch up on the next
			// snapshot since each one carries the full session.
		}
	}
}
