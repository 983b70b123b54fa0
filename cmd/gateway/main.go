package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dgpt/llm-gateway/internal/gateway/cache"
	"github.com/dgpt/llm-gateway/internal/gateway/handlers"
	"github.com/dgpt/llm-gateway/internal/gateway/tokencount"
	"github.com/dgpt/llm-gateway/internal/gateway/usage"
	"github.com/dgpt/llm-gateway/internal/shared/config"
	"github.com/dgpt/llm-gateway/internal/shared/database"
	"github.com/dgpt/llm-gateway/internal/shared/redis"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting llm gateway", "port", cfg.Port, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	var responseCache *cache.Cache
	if cfg.CacheEnabled {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		responseCache = cache.New(redisClient, time.Duration(cfg.CacheTTLSeconds)*time.Second)
		slog.Info("connected to redis, response cache enabled")
	}

	gate := usage.NewGate(db)
	recorder := usage.NewRecorder(db)
	counter := tokencount.NewCounter()

	chatHandler := handlers.NewChatHandler(db, gate, recorder, counter, responseCache)
	embeddingHandler := handlers.NewEmbeddingHandler(db, gate, recorder)
	imageHandler := handlers.NewImageHandler(db, gate, recorder)
	catalogHandler := handlers.NewCatalogHandler(db, gate)
	middleware := handlers.NewMiddleware(db)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"OK"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth)

		r.Post("/chat/completions", chatHandler.HandleChatCompletion)
		r.Post("/embeddings", embeddingHandler.HandleEmbedding)
		r.Post("/images/generations", imageHandler.HandleImageGeneration)
		r.Get("/models", catalogHandler.HandleListModels)
		r.Get("/usage", catalogHandler.HandleUsage)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// No write timeout: streaming responses stay open for the lifetime
		// of the upstream stream.
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
