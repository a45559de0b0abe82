package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sift-sh/sift/internal/domain"
	"github.com/sift-sh/sift/internal/identity"
)

// searchRequest is the POST /api/search body.
type searchRequest struct {
	Query string `json:"query"`
}

// terminalPollInterval bounds how long a finished session can go unnoticed if
// its terminal snapshot was dropped by a full subscriber buffer.
const terminalPollInterval = 500 * time.Millisecond

// HandleSearch handles POST /api/search requests. The submitted session is
// streamed back over SSE: one "session" event per accepted fragment carrying
// the full snapshot, a final "session" event once the session reaches a
// terminal state, and a "superseded" event if a newer submission evicts it.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if !ident.LoggedIn() {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if !h.rateLimiter.Allow(ident.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	slog.Info("Search request",
		"user_id", ident.UserID,
		"query_length", len(req.Query),
	)

	// Subscribe before submitting so no early fragment snapshot is missed.
	snapshots, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	session, err := h.engine.Submit(r.Context(), ident.UserID, req.Query)
	if err != nil {
		slog.Error("Submit failed", "error", err, "user_id", ident.UserID)
		Error(w, http.StatusBadRequest, "failed to start search")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if err := h.writeSessionEvent(w, &session); err != nil {
		slog.Warn("failed to write initial session event", "error", err)
		return
	}
	flusher.Flush()

	// Snapshots can be dropped under load; the poll ticker guarantees the
	// terminal state is still delivered.
	poll := time.NewTicker(terminalPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Search client disconnected", "user_id", ident.UserID, "session_id", session.ID)
			return

		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if snapshot.UserID != ident.UserID {
				continue
			}
			if snapshot.ID != session.ID {
				// A newer submission from this user evicted ours.
				if err := writeSSE(w, "superseded", fmt.Sprintf(`{"session_id":%q}`, session.ID)); err != nil {
					slog.Warn("failed to write superseded event", "error", err)
				}
				flusher.Flush()
				return
			}
			if err := h.writeSessionEvent(w, &snapshot); err != nil {
				slog.Warn("failed to write session event", "error", err)
				return
			}
			flusher.Flush()
			if snapshot.StreamingState.Terminal() {
				return
			}

		case <-poll.C:
			current, ok := h.engine.Current(ident.UserID)
			if !ok || current.ID != session.ID {
				if err := writeSSE(w, "superseded", fmt.Sprintf(`{"session_id":%q}`, session.ID)); err != nil {
					slog.Warn("failed to write superseded event", "error", err)
				}
				flusher.Flush()
				return
			}
			if current.StreamingState.Terminal() {
				if err := h.writeSessionEvent(w, &current); err != nil {
					slog.Warn("failed to write terminal session event", "error", err)
					return
				}
				flusher.Flush()
				return
			}
		}
	}
}

// HandleCurrent handles GET /api/search/current requests.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if !ident.LoggedIn() {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	session, ok := h.engine.Current(ident.UserID)
	if !ok {
		Error(w, http.StatusNotFound, "no current session")
		return
	}
	JSON(w, http.StatusOK, session)
}

func (h *Handler) writeSessionEvent(w io.Writer, session *domain.QuerySession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	return writeSSE(w, "session", string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
