// Synthetic-student tutoring demo server.
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

	"github.com/ashureev/synthtutor/internal/agent"
	"github.com/ashureev/synthtutor/internal/api"
	"github.com/ashureev/synthtutor/internal/collector"
	"github.com/ashureev/synthtutor/internal/config"
	"github.com/ashureev/synthtutor/internal/identity"
	"github.com/ashureev/synthtutor/internal/lesson"
	"github.com/ashureev/synthtutor/internal/live"
	"github.com/ashureev/synthtutor/internal/machine"
	"github.com/ashureev/synthtutor/internal/middleware"
	"github.com/ashureev/synthtutor/internal/persona"
	"github.com/ashureev/synthtutor/internal/session"
	"github.com/ashureev/synthtutor/internal/store"
	"github.com/ashureev/synthtutor/internal/telemetry"
	"github.com/ashureev/synthtutor/internal/traits"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Options{
		Enabled:     cfg.OTelStdout,
		ServiceName: "synthtutor",
	})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

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

	var lessons lesson.Source = lesson.Embedded()
	if cfg.LessonDir != "" {
		lessons = lesson.NewFS(os.DirFS(cfg.LessonDir))
		slog.Info("Serving lesson from directory", "dir", cfg.LessonDir)
	}
	lessons = lesson.NewCached(lessons, lesson.DefaultCacheTTL)

	personaClient := persona.NewClient(cfg.Endpoints.PersonaURL,
		persona.WithHTTPClient(&http.Client{Timeout: cfg.Persona.RequestTimeout}),
		persona.WithRetry(persona.RetryConfig{
			MaxAttempts: cfg.Persona.MaxAttempts,
			BackoffBase: persona.DefaultRetryConfig().BackoffBase,
			MaxBackoff:  persona.DefaultRetryConfig().MaxBackoff,
		}),
		persona.WithLogger(logger),
	)
	fanOut := persona.NewFanOut(personaClient, traits.NewGenerator(),
		persona.WithBatchSize(cfg.Persona.BatchSize),
		persona.WithWindowSize(cfg.Persona.WindowSize),
		persona.WithFanOutLogger(logger),
	)

	var responseCollector *collector.Collector
	if cfg.Endpoints.CollectorURL != "" {
		responseCollector = collector.New(cfg.Endpoints.CollectorURL, &http.Client{Timeout: cfg.Machine.PersistTimeout}, logger)
		slog.Info("Response collector enabled", "url", cfg.Endpoints.CollectorURL)
	}

	registry := session.NewRegistry(func(sessionID, userID string) *machine.Machine {
		persisters := []machine.Persister{store.NewResumePersister(repo, userID)}
		if responseCollector != nil {
			persisters = append(persisters, responseCollector)
		}
		return machine.New(machine.Options{
			SessionID:      sessionID,
			ResumeDelay:    cfg.Machine.ResumeDelay,
			AckDelay:       cfg.Machine.AckDelay,
			Candidates:     fanOut,
			Persisters:     persisters,
			Logger:         logger,
			PersistTimeout: cfg.Machine.PersistTimeout,
		})
	}, logger)
	defer registry.CloseAll()

	chat := agent.NewClient(cfg.Endpoints.ChatURL, &http.Client{}, logger)
	tutor := agent.NewTutor(chat, lessons, agent.Config{TurnTimeout: cfg.Machine.TurnTimeout}, logger)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, registry)
	sessionHandler := api.NewSessionHandler(registry, repo, api.SessionConfig{
		ResumeMaxAge:       cfg.Session.ResumeMaxAge,
		MaxRequestBodySize: cfg.SSE.MaxRequestBodySize,
		KeepaliveInterval:  cfg.SSE.KeepaliveInterval,
		RetryDelay:         cfg.SSE.RetryDelay,
	})
	turnHandler := agent.NewHandler(tutor, func(sessionID, userID string) (agent.Machine, bool) {
		if owner, ok := registry.Owner(sessionID); !ok || owner != userID {
			return nil, false
		}
		m, ok := registry.Lookup(sessionID)
		if !ok {
			return nil, false
		}
		return m, true
	}, agent.HandlerConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		Window:            cfg.RateLimit.WindowDuration,
	})
	defer turnHandler.Close()

	liveHandler := live.NewHandler(registry, live.NewConnManager(), tutor, cfg.FrontendURL, cfg.IsDevelopment())
	defer liveHandler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	turnHandler.RegisterRoutes(r)
	liveHandler.RegisterRoutes(r)

	// SSE and WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, registry, repo, session.TTLConfig{
		Interval:     cfg.Session.SweepEvery,
		IdleTTL:      cfg.Session.IdleTTL,
		ResumeMaxAge: cfg.Session.ResumeMaxAge,
	})

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
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("Failed to flush traces", "error", err)
	}

	slog.Info("Server stopped successfully")
}
