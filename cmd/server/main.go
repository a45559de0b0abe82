// sift - conversational search server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sift-sh/sift/internal/api"
	"github.com/sift-sh/sift/internal/backend"
	"github.com/sift-sh/sift/internal/config"
	"github.com/sift-sh/sift/internal/finalize"
	"github.com/sift-sh/sift/internal/history"
	"github.com/sift-sh/sift/internal/identity"
	"github.com/sift-sh/sift/internal/middleware"
	"github.com/sift-sh/sift/internal/push"
	"github.com/sift-sh/sift/internal/search"
	"github.com/sift-sh/sift/internal/store"
	"github.com/sift-sh/sift/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	streamer := backend.NewHTTPStreamer(backend.HTTPConfig{
		BaseURL: cfg.Backend.URL,
		Model:   cfg.Backend.Model,
		Timeout: cfg.Backend.Timeout,
	})
	slog.Info("Answer backend configured", "url", cfg.Backend.URL, "model", cfg.Backend.Model)

	// Initialize services.
	hist := history.New(repo, cfg.HistoryLimit)
	engine := search.New(streamer, finalize.NewPlaceholder(), hist,
		search.WithMaxTokens(cfg.MaxTokens),
	)

	// Initialize handlers.
	cm := push.NewConnManager()
	apiHandler := api.NewHandler(engine, hist, repo, cm, cfg)
	healthHandler := api.NewHealthHandler(repo, streamer)
	wsHandler := push.NewHandler(engine, cm, repo, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/search", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
