package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sift-sh/sift/internal/store"
)

// Pinger reports reachability of an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports store and backend health.
type HealthHandler struct {
	repo    store.Repository
	backend Pinger
}

// NewHealthHandler creates a health handler. backend may be nil when no
// reachability probe is available.
func NewHealthHandler(repo store.Repository, backend Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, backend: backend}
}

// RegisterHealth registers the detailed health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.HandleHealth)
}

// HandleHealth handles GET /api/health requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{"store": "ok", "backend": "ok"}

	if err := h.repo.Ping(ctx); err != nil {
		result["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if h.backend == nil {
		result["backend"] = "not configured"
	} else if err := h.backend.Ping(ctx); err != nil {
		// A down backend degrades search but history still works; report it
		// without flipping the overall status.
		result["backend"] = err.Error()
	}

	JSON(w, status, result)
}
