// RAIE - Recursive AI Executor Server
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
	"github.com/raie-dev/raie-server/internal/api"
	"github.com/raie-dev/raie-server/internal/config"
	"github.com/raie-dev/raie-server/internal/executor"
	"github.com/raie-dev/raie-server/internal/generator"
	"github.com/raie-dev/raie-server/internal/identity"
	"github.com/raie-dev/raie-server/internal/middleware"
	"github.com/raie-dev/raie-server/internal/progress"
	"github.com/raie-dev/raie-server/internal/runlog"
	"github.com/raie-dev/raie-server/internal/session"
	"github.com/raie-dev/raie-server/internal/store"
	"github.com/raie-dev/raie-server/web"
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

	slog.Info("Starting server", "port", cfg.Port, "runner", cfg.Runner, "dev", cfg.IsDevelopment())

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

	// Select the execution substrate.
	var runner executor.Runner
	switch cfg.Runner {
	case config.RunnerDocker:
		dockerRunner, err := executor.NewDockerRunner(cfg.SandboxImage)
		if err != nil {
			slog.Error("Failed to initialize Docker runner", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := dockerRunner.Close(); closeErr != nil {
				slog.Error("Failed to close Docker runner", "error", closeErr)
			}
		}()
		runner = dockerRunner
		slog.Info("Docker runner initialized")
	default:
		runner = executor.NewLocalRunner(cfg.PythonBin)
		slog.Info("Local runner initialized", "python", cfg.PythonBin)
	}
	exec := executor.New(runner, cfg.ExecTimeout)

	transport, err := generator.NewMistralClient(generator.MistralConfig{
		APIKey:  cfg.MistralAPIKey,
		BaseURL: cfg.MistralBaseURL,
		Model:   cfg.MistralModel,
	})
	if err != nil {
		slog.Error("Failed to initialize language model client", "error", err)
		os.Exit(1)
	}
	gen := generator.New(transport)
	slog.Info("Language model client initialized", "model", transport.Model())

	runLogger, err := runlog.NewLogger(runlog.Config{
		Enabled:   cfg.RunLog.Enabled,
		Dir:       cfg.RunLog.Dir,
		QueueSize: cfg.RunLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize run logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := runLogger.Close(); closeErr != nil {
			slog.Error("Failed to close run logger", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := progress.NewHub()
	sessionRunner := session.NewRunner(gen, exec, repo, hub, runLogger, cfg.MaxAttempts)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo)
	healthHandler := api.NewHealthHandler(repo)
	limiter := api.NewRateLimiter(10, time.Minute)
	runsHandler := api.NewRunsHandler(baseHandler, sessionRunner, limiter, cfg.ExecTimeout, cfg.Runner, transport.Model())
	wsHandler := progress.NewWebSocketHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	runsHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/runs", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. Runs are synchronous and a full attempt loop can take
	// minutes, so no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start retention worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartRetentionWorker(ctx, repo, cfg.Retention)

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

	// Hijacked websocket connections are not covered by srv.Shutdown.
	hub.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
