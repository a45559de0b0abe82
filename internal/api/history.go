package api

import (
	"log/slog"
	"net/http"

	"github.com/sift-sh/sift/internal/domain"
	"github.com/sift-sh/sift/internal/identity"
)

// HandleHistory handles GET /api/history requests. Entries come back
// most-recent-first, capped at the configured limit.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if !ident.LoggedIn() {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entries := h.hist.Load(r.Context(), ident.UserID)
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// HandleClearHistory handles DELETE /api/history requests.
func (h *Handler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if !ident.LoggedIn() {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.hist.Clear(r.Context(), ident.UserID); err != nil {
		slog.Error("Failed to clear history", "error", err, "user_id", ident.UserID)
		Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleLogout handles DELETE /api/identity requests: the user's history and
// current session are destroyed and the identity cookie expires. The next
// request mints a fresh anonymous identity.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ident := identity.FromContext(r.Context())
	if !ident.LoggedIn() {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.engine.Drop(ident.UserID)
	if err := h.hist.Clear(r.Context(), ident.UserID); err != nil {
		slog.Error("Failed to clear history on logout", "error", err, "user_id", ident.UserID)
		Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	if h.conns != nil {
		h.conns.CloseAll(ident.UserID)
	}

	identity.ExpireCookie(w, h.cfg.IsDevelopment())
	slog.Info("User logged out", "user_id", ident.UserID)
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
