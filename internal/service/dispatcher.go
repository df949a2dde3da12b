package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher hands a stored job to whatever will run it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Runner executes a stored job by id.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// JobMessage is the queued payload naming a job to run.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// InlineDispatcher runs jobs on goroutines of the current process.
type InlineDispatcher struct {
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewInlineDispatcher(runner Runner, timeout time.Duration, logger zerolog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		runner:  runner,
		timeout: timeout,
		logger:  logger.With().Str("dispatcher", "inline").Logger(),
	}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Detached from the submitting request on purpose; only the job timeout bounds it.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.runner.Run(ctx, jobID); err != nil {
			d.logger.Error().Err(err).Str("job_id", jobID).Msg("Job run failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// QueueSender is the subset of the pgmq client used for dispatch.
type QueueSender interface {
	Send(ctx context.Context, queueName string, message json.RawMessage) (int64, error)
}

// QueueDispatcher enqueues jobs on a pgmq queue for the orchestrator worker.
type QueueDispatcher struct {
	client QueueSender
	queue  string
	logger zerolog.Logger
}

func NewQueueDispatcher(client QueueSender, queue string, logger zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{client: client, queue: queue, logger: logger.With().Str("dispatcher", "pgmq").Logger()}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("marshaling job message: %w", err)
	}
	msgID, err := d.client.Send(ctx, d.queue, payload)
	if err != nil {
		return fmt.Errorf("enqueuing job %s: %w", jobID, err)
	}
	d.logger.Debug().Str("job_id", jobID).Int64("msg_id", msgID).Msg("Job enqueued")
	return nil
}

// TopicPublisher is the subset of the Pub/Sub publisher used for dispatch.
type TopicPublisher interface {
	Publish(ctx context.Context, topicID string, msg interface{}) (string, error)
}

// PubSubDispatcher publishes jobs to a Pub/Sub topic for the orchestrator worker.
type PubSubDispatcher struct {
	publisher TopicPublisher
	topic     string
	logger    zerolog.Logger
}

func NewPubSubDispatcher(publisher TopicPublisher, topic string, logger zerolog.Logger) *PubSubDispatcher {
	return &PubSubDispatcher{publisher: publisher, topic: topic, logger: logger.With().Str("dispatcher", "pubsub").Logger()}
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, jobID string) error {
	msgID, err := d.publisher.Publish(ctx, d.topic, JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("publishing job %s: %w", jobID, err)
	}
	d.logger.Debug().Str("job_id", jobID).Str("msg_id", msgID).Msg("Job published")
	return nil
}
