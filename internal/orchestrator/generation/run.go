// Package generation runs detached generation jobs pulled from a queue.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lessonforge/internal/pgmq"
	"lessonforge/internal/service"

	"github.com/rs/zerolog"
)

// Queue is the subset of the pgmq client the worker uses.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Send(ctx context.Context, queue string, payload json.RawMessage) (int64, error)
	Delete(ctx context.Context, queue string, msgID int64) error
}

type Settings struct {
	Queue           string
	DeadLetterQueue string
	PollTimeoutSec  int
	MaxMessages     int
	// JobTimeout bounds one job run. Messages stay invisible to other workers for as long.
	JobTimeout time.Duration
	// MaxReads is how often a message may be delivered before it is dead-lettered.
	MaxReads int
}

// DefaultMaxReads dead-letters a job message after its fifth failed delivery.
const DefaultMaxReads = 5

var errUndecodable = errors.New("undecodable job message")

// Run polls the generation queue and runs each job until ctx is done.
func Run(ctx context.Context, logger zerolog.Logger, client Queue, runner service.Runner, s Settings) error {
	visibility := int(s.JobTimeout/time.Second) + 30
	logger.Info().Str("queue", s.Queue).Str("dlq", s.DeadLetterQueue).Msg("Starting generation orchestrator")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down generation orchestrator")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, s.Queue, visibility, s.MaxMessages, s.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Error reading generation queue")
			sleep(ctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			handle(ctx, logger, client, runner, s, msg)
		}
	}
}

func handle(ctx context.Context, logger zerolog.Logger, client Queue, runner service.Runner, s Settings, msg *pgmq.Message) {
	log := logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Logger()

	var payload service.JobMessage
	if err := msg.Decode(&payload); err != nil || payload.JobID == "" {
		log.Error().Err(err).Bytes("payload", msg.Data).Msg("Failed to decode generation payload; moving to DLQ")
		deadLetter(ctx, log, client, s, msg, errUndecodable)
		return
	}
	log = log.With().Str("job_id", payload.JobID).Logger()

	runCtx, cancel := context.WithTimeout(ctx, s.JobTimeout)
	err := runner.Run(runCtx, payload.JobID)
	cancel()
	if err != nil {
		if s.MaxReads > 0 && msg.ReadCount >= s.MaxReads {
			log.Error().Err(err).Msg("Exhausted generation attempts; moving job to DLQ")
			deadLetter(ctx, log, client, s, msg, err)
			return
		}
		// Left on the queue; it becomes visible again after the visibility timeout.
		log.Error().Err(err).Msg("Generation job run failed, will retry")
		return
	}

	if err := client.Delete(ctx, s.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error deleting generation message")
	}
}

func deadLetter(ctx context.Context, log zerolog.Logger, client Queue, s Settings, msg *pgmq.Message, cause error) {
	entry, err := json.Marshal(map[string]any{
		"msg_id":  msg.ID,
		"payload": string(msg.Data),
		"error":   cause.Error(),
	})
	if err == nil {
		_, err = client.Send(ctx, s.DeadLetterQueue, entry)
	}
	if err != nil {
		log.Error().Err(err).Str("dlq", s.DeadLetterQueue).Msg("Failed to send message to dead-letter queue")
		return
	}
	if err := client.Delete(ctx, s.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error deleting dead-lettered message")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
