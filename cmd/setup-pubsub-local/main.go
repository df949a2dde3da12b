package main

import (
	"context"
	"time"

	"lessonforge/internal/config"
	"lessonforge/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// maxDeliveryAttempts matches the pgmq worker's dead-letter threshold.
const maxDeliveryAttempts = 5

func main() {
	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	logger.Info().Msg("Starting Pub/Sub setup for the local environment")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is not set")
	}
	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set; this tool only runs against the emulator")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Pub/Sub client")
		}
	}()

	resetEmulator(ctx, client, logger)
	if err := createGenerationResources(ctx, client, cfg.PubSubGenerationTopic, cfg.PubSubGenerationSubscription, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create generation resources")
	}
	logger.Info().Msg("Pub/Sub setup for local environment complete")
}

// resetEmulator deletes every subscription and topic. Only ever point it at the emulator.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list subscriptions: %v", err)
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Fatal().Msgf("Failed to list topics: %v", err)
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	logger.Info().Msg("Emulator reset")
}

// createGenerationResources creates the job topic, its dead-letter topic and the
// pull subscription the generation-pubsub worker reads from.
func createGenerationResources(ctx context.Context, client *pubsub.Client, topicID, subID string, logger zerolog.Logger) error {
	retention := 7 * 24 * time.Hour
	dlqTopic, err := ensureTopic(ctx, client, topicID+"-dlq", retention, logger)
	if err != nil {
		return err
	}
	topic, err := ensureTopic(ctx, client, topicID, retention, logger)
	if err != nil {
		return err
	}

	if err := ensureSubscription(ctx, client, subID, pubsub.SubscriptionConfig{
		Topic: topic,
		// Long enough for one path; the client library extends it while a job runs.
		AckDeadline:      600 * time.Second,
		ExpirationPolicy: 31 * 24 * time.Hour,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: 10 * time.Second,
			MaximumBackoff: 600 * time.Second,
		},
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopic.String(),
			MaxDeliveryAttempts: maxDeliveryAttempts,
		},
	}, logger); err != nil {
		return err
	}
	return ensureSubscription(ctx, client, subID+"-dlq", pubsub.SubscriptionConfig{
		Topic:            dlqTopic,
		AckDeadline:      60 * time.Second,
		ExpirationPolicy: 31 * 24 * time.Hour,
	}, logger)
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string, retention time.Duration, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info().Str("topic", topicID).Msg("Topic already exists")
		return topic, nil
	}
	logger.Info().Str("topic", topicID).Dur("retention", retention).Msg("Creating topic")
	return client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, subID string, config pubsub.SubscriptionConfig, logger zerolog.Logger) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info().Str("subscription", subID).Msg("Creating subscription")
		_, err := client.CreateSubscription(ctx, subID, config)
		return err
	}

	existing, err := sub.Config(ctx)
	if err != nil {
		return err
	}
	if existing.AckDeadline == config.AckDeadline && sameRetry(existing.RetryPolicy, config.RetryPolicy) {
		logger.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}
	logger.Info().Str("subscription", subID).Msg("Updating subscription")
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		AckDeadline: config.AckDeadline,
		RetryPolicy: config.RetryPolicy,
	})
	return err
}

func sameRetry(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
