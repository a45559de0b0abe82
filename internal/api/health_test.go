package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sift-sh/sift/internal/store"
)

type failingPingRepo struct {
	*store.MemoryStore
}

func (f *failingPingRepo) Ping(_ context.Context) error {
	return errors.New("database gone")
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func TestHandleHealth_AllHealthy(t *testing.T) {
	h := NewHealthHandler(store.NewMemory(), &fakePinger{})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"store":"ok"`) {
		t.Errorf("Unexpected body: %s", rec.Body.String())
	}
}

func TestHandleHealth_StoreDown(t *testing.T) {
	h := NewHealthHandler(&failingPingRepo{MemoryStore: store.NewMemory()}, &fakePinger{})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when store is down, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "database gone") {
		t.Errorf("Store error missing from body: %s", rec.Body.String())
	}
}

func TestHandleHealth_BackendDownIsDegraded(t *testing.T) {
	h := NewHealthHandler(store.NewMemory(), &fakePinger{err: errors.New("backend unreachable")})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	// History still works without the backend, so the status stays 200.
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with degraded backend, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "backend unreachable") {
		t.Errorf("Backend error missing from body: %s", rec.Body.String())
	}
}

func TestHandleHealth_NoBackendConfigured(t *testing.T) {
	h := NewHealthHandler(store.NewMemory(), nil)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("Expected not-configured marker, got %s", rec.Body.String())
	}
}
