package generation

import (
	"context"
	"encoding/json"
	"time"

	"lessonforge/internal/service"

	"github.com/rs/zerolog"
)

// Receiver is the subset of the Pub/Sub client the worker uses.
type Receiver interface {
	Receive(ctx context.Context, subscriptionID string, logger zerolog.Logger, fn func(ctx context.Context, data []byte) error) error
}

// RunPubSub receives job messages from the subscription and runs them until ctx is done.
// Undecodable messages are acked and dropped; failed runs are nacked for redelivery.
func RunPubSub(ctx context.Context, logger zerolog.Logger, receiver Receiver, subscription string, runner service.Runner, jobTimeout time.Duration) error {
	logger.Info().Str("subscription", subscription).Msg("Starting generation Pub/Sub worker")
	err := receiver.Receive(ctx, subscription, logger, func(ctx context.Context, data []byte) error {
		var payload service.JobMessage
		if err := json.Unmarshal(data, &payload); err != nil || payload.JobID == "" {
			logger.Error().Err(err).Bytes("payload", data).Msg("Dropping undecodable generation message")
			return nil
		}
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		return runner.Run(runCtx, payload.JobID)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("Shutting down generation Pub/Sub worker")
	return nil
}
