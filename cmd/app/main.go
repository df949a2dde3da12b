package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lessonforge/internal/api/v1/router"
	"lessonforge/internal/app"
	"lessonforge/internal/config"
	"lessonforge/internal/logger"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// @title LessonForge API
// @version 1.0
// @description Lesson generation, detached jobs and community ratings
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	logger := logger.New()

	// 1. Load configuration
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Wire stores and services
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize app: %v", err)
	}
	defer a.Close()

	// 3. Create HTTP server. No write timeout: event streams stay open until
	// shutdown cancels the request contexts.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(a),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.RunHub(gctx)
	})
	g.Go(func() error {
		logger.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 4. Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown signal received, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Server stopped with error")
		return
	}
	logger.Info().Msg("Server shut down gracefully")
}
