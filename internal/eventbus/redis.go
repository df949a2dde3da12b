package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannel = "lessonforge:jobs"

// RedisBus fans job events out across processes over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedisBus(client *redis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "RedisBus").Logger(),
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling job event %s: %w", ev.Job.ID, err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing job event %s: %w", ev.Job.ID, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) (func(), error) {
	sub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no event published after we return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var ev JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Msg("Dropping undecodable job event")
				continue
			}
			h(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = sub.Close()
			<-done
		})
	}, nil
}
