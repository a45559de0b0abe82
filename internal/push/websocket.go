package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sift-sh/sift/internal/identity"
	"github.com/sift-sh/sift/internal/search"
	"github.com/sift-sh/sift/internal/store"
)

// Handler upgrades /ws/search connections and pushes session snapshots for
// the caller's user as they stream.
type Handler struct {
	engine        *search.Engine
	cm            *ConnManager
	repo          store.Repository
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket push handler.
func NewHandler(engine *search.Engine, cm *ConnManager, repo store.Repository, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		engine:        engine,
		cm:            cm,
		repo:          repo,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if !ident.LoggedIn() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", ident.UserID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", ident.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", ident.UserID)
		}
	}()

	if existing := h.cm.GetActive(ident.UserID, sessionID); existing != nil {
		slog.Info("Replacing existing push connection", "user_id", ident.UserID, "session_id", sessionID)
	}
	h.cm.Register(ident.UserID, sessionID, ws)
	defer h.cm.Unregister(ident.UserID, sessionID, ws)

	// Update last seen asynchronously with timeout.
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, ident.UserID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	// Reader loop exists only to observe the close handshake; clients do not
	// send payloads on this socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	// Replay the current session so a reconnecting tab is immediately
	// consistent.
	if current, ok := h.engine.Current(ident.UserID); ok {
		if err := h.writeSnapshot(ctx, ws, current); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Push stream closed", "user_id", ident.UserID, "session_id", sessionID)
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if snapshot.UserID != ident.UserID {
				continue
			}
			if err := h.writeSnapshot(ctx, ws, snapshot); err != nil {
				slog.Debug("Push write failed", "error", err, "user_id", ident.UserID)
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
