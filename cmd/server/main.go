// NEUROBOT - chat assistant API server
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

	"github.com/ashureev/neurobot/internal/api"
	"github.com/ashureev/neurobot/internal/chatlog"
	"github.com/ashureev/neurobot/internal/completion"
	"github.com/ashureev/neurobot/internal/config"
	"github.com/ashureev/neurobot/internal/health"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/middleware"
	"github.com/ashureev/neurobot/internal/openrouter"
	"github.com/ashureev/neurobot/internal/statesync"
	"github.com/ashureev/neurobot/internal/store"
	"github.com/ashureev/neurobot/internal/telegram"
	"github.com/ashureev/neurobot/internal/vision"
	"github.com/ashureev/neurobot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"key_pool_size", len(cfg.OpenRouter.APIKeys),
		"model", cfg.OpenRouter.Model,
	)

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

	conversationLogger, err := chatlog.New(chatlog.Config{
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
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	upstream := openrouter.NewClient(openrouter.ClientConfig{
		BaseURL: cfg.OpenRouter.BaseURL,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
		Timeout: cfg.OpenRouter.Timeout,
		Logger:  logger,
	})
	pool := openrouter.NewKeyPool(cfg.OpenRouter.APIKeys)
	if pool.Len() == 0 {
		slog.Warn("No OpenRouter API keys configured, chat requests will fail with 501")
	}
	chatService := completion.NewService(upstream, pool, completion.Config{
		Model:       cfg.OpenRouter.Model,
		Temperature: cfg.OpenRouter.Temperature,
		MaxTokens:   cfg.OpenRouter.MaxTokens,
	}, logger)
	analyzer := vision.NewAnalyzer(upstream, cfg.OpenRouter.VisionAPIKey, cfg.OpenRouter.VisionModel, logger)
	bot := telegram.NewClient(cfg.TelegramAPIURL, nil, logger)
	hub := statesync.NewHub(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	limiter.StartEviction(ctx)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, logger)
	chatHandler := api.NewChatHandler(baseHandler, chatService, conversationLogger, limiter, cfg.MaxRequestBodySize)
	imageHandler := api.NewImageHandler(baseHandler, analyzer, limiter, cfg.MaxImageBodySize)
	telegramHandler := api.NewTelegramHandler(baseHandler, bot, cfg.TelegramVerify)
	stateHandler := api.NewStateHandler(baseHandler, hub, cfg.MaxStateBodySize)
	accountHandler := api.NewAccountHandler(baseHandler, api.Features{
		KeyPoolSize:     pool.Len(),
		VisionEnabled:   analyzer.Configured(),
		TelegramEnabled: true,
		MaxImageBytes:   cfg.MaxImageBodySize,
	})
	wsHandler := statesync.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// All routes use identity middleware (no auth needed).
	accountHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)
	imageHandler.RegisterRoutes(r)
	telegramHandler.RegisterRoutes(r)
	stateHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/state", wsHandler.ServeHTTP)

	if cfg.WebDir != "" {
		r.Handle("/*", web.SPAHandler(cfg.WebDir))
		slog.Info("Serving web client", "dir", cfg.WebDir)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, /ws/state connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	store.StartRetentionWorker(ctx, repo, cfg.StateRetention, cfg.RetentionInterval)
	slog.Info("Retention worker started", "state_retention", cfg.StateRetention, "interval", cfg.RetentionInterval)

	var healthServer *health.Server
	if cfg.GRPCHealthPort != "" {
		healthServer = health.NewServer(repo, chatService, logger)
		healthServer.Refresh(ctx)
		go func() {
			if err := healthServer.ListenAndServe(":" + cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
		go refreshHealth(ctx, healthServer, 30*time.Second)
	}

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

	if healthServer != nil {
		healthServer.Shutdown()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func refreshHealth(ctx context.Context, s *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}
