// SHSH Guard - personal security assistant server
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/shsh-guard/internal/analyzer"
	"github.com/ashureev/shsh-guard/internal/api"
	"github.com/ashureev/shsh-guard/internal/assistant"
	"github.com/ashureev/shsh-guard/internal/config"
	"github.com/ashureev/shsh-guard/internal/identity"
	"github.com/ashureev/shsh-guard/internal/metrics"
	"github.com/ashureev/shsh-guard/internal/middleware"
	"github.com/ashureev/shsh-guard/internal/recommend"
	"github.com/ashureev/shsh-guard/internal/session"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
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

	reg, err := loadRegistry(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load tool catalogue", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	slog.Info("Tool catalogue loaded", "tools", reg.Len())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.MustNewMetrics(prometheus.DefaultRegisterer)
	}

	sessions, err := session.NewManager(repo, session.Config{
		CacheSize:     cfg.Session.CacheSize,
		TTL:           cfg.Session.TTL,
		UsageCapacity: cfg.Session.UsageCapacity,
	}, logger.With("component", "session"), m)
	if err != nil {
		slog.Error("Failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	// The language model is optional; without it replies are built locally.
	var model assistant.ModelClient
	if cfg.Model.Enabled() {
		genai, err := assistant.NewGenAIClient(context.Background(), cfg.Model.APIKey, cfg.Model.Name)
		if err != nil {
			slog.Warn("Failed to initialize language model, AI replies will be disabled", "error", err)
		} else {
			model = genai
			slog.Info("Language model enabled", "model", cfg.Model.Name)
		}
	}
	if model == nil {
		slog.Info("AI replies disabled (GEMINI_API_KEY not set or client failed)")
	}

	conversationLogger, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	svc := assistant.NewService(
		sessions,
		analyzer.New(analyzer.DefaultClassifiers()...),
		recommend.NewEngine(reg),
		model,
		m,
		logger.With("component", "assistant"),
		assistant.Config{
			HistoryWindow: cfg.Session.HistoryWindow,
			ModelTimeout:  cfg.Model.Timeout,
		},
	)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, reg, model != nil, cfg.Session.TTL)
	healthHandler := api.NewHealthHandler(repo, cfg.HTTP.HealthCheckTimeout)
	assistantHandler := assistant.NewHandler(svc, repo, conversationLogger, assistant.HandlerConfig{
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		AllowedOrigins:     cfg.AllowedOrigins(),
		IsDev:              cfg.IsDevelopment(),
	}, logger.With("component", "assistant_http"))
	defer assistantHandler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	if m != nil {
		r.Handle(cfg.Metrics.Path, m.Handler())
	}

	// Identity-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		baseHandler.RegisterRoutes(r)
		assistantHandler.RegisterRoutes(r)
	})

	// Note: SSE responses stream, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start TTL worker.
	sessions.StartTTLWorker(ctx, 0, func(key session.Key) {
		slog.Info("Conversation expired", "user_id", key.UserID, "session_id", key.SessionID)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadRegistry(path string) (*toolregistry.Registry, error) {
	if path == "" {
		return toolregistry.Default()
	}
	return toolregistry.LoadFile(path)
}
