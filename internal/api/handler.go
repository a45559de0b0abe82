// Package api provides HTTP handlers for the sift API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sift-sh/sift/internal/config"
	"github.com/sift-sh/sift/internal/history"
	"github.com/sift-sh/sift/internal/search"
	"github.com/sift-sh/sift/internal/store"
)

// ConnCloser terminates all of a user's push connections. Implemented by
// push.ConnManager.
type ConnCloser interface {
	CloseAll(userID string)
}

// Handler serves the search and history endpoints.
type Handler struct {
	engine      *search.Engine
	hist        *history.Store
	repo        store.Repository
	conns       ConnCloser
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates a Handler over the engine, history store, and repository.
// conns may be nil when no push transport is wired.
func NewHandler(engine *search.Engine, hist *history.Store, repo store.Repository, conns ConnCloser, cfg *config.Config) *Handler {
	return &Handler{
		engine:      engine,
		hist:        hist,
		repo:        repo,
		conns:       conns,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/search", h.HandleSearch)
		r.Get("/search/current", h.HandleCurrent)
		r.Get("/history", h.HandleHistory)
		r.Delete("/history", h.HandleClearHistory)
		r.Delete("/identity", h.HandleLogout)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
