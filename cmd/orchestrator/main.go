package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"lessonforge/internal/app"
	"lessonforge/internal/config"
	"lessonforge/internal/logger"
	"lessonforge/internal/orchestrator/generation"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: generation|generation-pubsub")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize app: %v", err)
	}
	defer a.Close()

	// Dispatch to the selected orchestrator
	var runErr error
	switch *mode {
	case "generation":
		if a.Queue == nil {
			logger.Fatal().Msg("generation mode requires JOB_DISPATCHER=pgmq")
		}
		runErr = generation.Run(ctx, logger, a.Queue, a.Runner, generation.Settings{
			Queue:           cfg.GenerationQueueName,
			DeadLetterQueue: cfg.GenerationDeadLetterQueueName,
			PollTimeoutSec:  cfg.GenerationPollTimeoutSec,
			MaxMessages:     cfg.GenerationPollMaxMsg,
			JobTimeout:      cfg.JobTimeout(),
			MaxReads:        generation.DefaultMaxReads,
		})
	case "generation-pubsub":
		if a.PubSub == nil {
			logger.Fatal().Msg("generation-pubsub mode requires JOB_DISPATCHER=pubsub")
		}
		runErr = generation.RunPubSub(ctx, logger, a.PubSub, cfg.PubSubGenerationSubscription, a.Runner, cfg.JobTimeout())
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
