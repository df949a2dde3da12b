package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"lessonforge/internal/config"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Client publishes to and receives from Google Pub/Sub.
type Client struct {
	client *pubsub.Client
}

// NewClient creates a Pub/Sub client for the GCP project from config.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &Client{client: client}, nil
}

// Publish marshals msg as JSON, sends it to the topic and returns the message ID.
func (c *Client) Publish(ctx context.Context, topicID string, msg interface{}) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message for topic %s: %w", topicID, err)
	}
	result := c.client.Topic(topicID).Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topicID, err)
	}
	return id, nil
}

// Receive blocks delivering messages from the subscription to fn until ctx is done.
// Messages are acked when fn returns nil and nacked otherwise.
func (c *Client) Receive(ctx context.Context, subscriptionID string, logger zerolog.Logger, fn func(ctx context.Context, data []byte) error) error {
	sub := c.client.Subscription(subscriptionID)
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if err := fn(ctx, m.Data); err != nil {
			logger.Error().Err(err).Str("message_id", m.ID).Int("delivery_attempt", deliveryAttempt(m)).Msg("Message handling failed, nacking")
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil {
		return fmt.Errorf("receiving from subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt == nil {
		return 0
	}
	return *m.DeliveryAttempt
}

func (c *Client) Close() error {
	return c.client.Close()
}
