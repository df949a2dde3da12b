package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lessonforge/internal/pgmq"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue hands out its messages once, then cancels the worker.
type fakeQueue struct {
	mu      sync.Mutex
	pending []*pgmq.Message
	deleted []int64
	dlq     []json.RawMessage
	cancel  context.CancelFunc
}

func (q *fakeQueue) ReadWithPoll(ctx context.Context, _ string, _, _, _ int) ([]*pgmq.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.cancel()
		return nil, ctx.Err()
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return []*pgmq.Message{msg}, nil
}

func (q *fakeQueue) Send(_ context.Context, _ string, payload json.RawMessage) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dlq = append(q.dlq, payload)
	return int64(len(q.dlq)), nil
}

func (q *fakeQueue) Delete(_ context.Context, _ string, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, msgID)
	return nil
}

type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	errs map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("run without deadline")
	}
	r.ran = append(r.ran, jobID)
	return r.errs[jobID]
}

func msg(id int64, reads int, data string) *pgmq.Message {
	return &pgmq.Message{ID: id, ReadCount: reads, Data: json.RawMessage(data)}
}

func TestRunProcessesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue := &fakeQueue{
		cancel: cancel,
		pending: []*pgmq.Message{
			msg(1, 1, `{"job_id":"job-ok"}`),
			msg(2, 1, `not json`),
			msg(3, 1, `{"job_id":"job-flaky"}`),
			msg(4, 3, `{"job_id":"job-broken"}`),
		},
	}
	runner := &fakeRunner{errs: map[string]error{
		"job-flaky":  errors.New("db down"),
		"job-broken": errors.New("db down"),
	}}
	settings := Settings{Queue: "generation_queue", DeadLetterQueue: "generation_queue_dlq", JobTimeout: time.Minute, MaxReads: 3, MaxMessages: 1}

	require.NoError(t, Run(ctx, zerolog.Nop(), queue, runner, settings))

	assert.Equal(t, []string{"job-ok", "job-flaky", "job-broken"}, runner.ran)
	// The flaky message stays queued for redelivery.
	assert.ElementsMatch(t, []int64{1, 2, 4}, queue.deleted)
	require.Len(t, queue.dlq, 2)

	var entry struct {
		MsgID int64  `json:"msg_id"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(queue.dlq[0], &entry))
	assert.Equal(t, int64(2), entry.MsgID)
	assert.Equal(t, errUndecodable.Error(), entry.Error)
}

type fakeReceiver struct {
	messages [][]byte
	results  []error
}

func (r *fakeReceiver) Receive(ctx context.Context, _ string, _ zerolog.Logger, fn func(context.Context, []byte) error) error {
	for _, m := range r.messages {
		r.results = append(r.results, fn(ctx, m))
	}
	return nil
}

func TestRunPubSubAcksAndNacks(t *testing.T) {
	receiver := &fakeReceiver{messages: [][]byte{
		[]byte(`{"job_id":"job-ok"}`),
		[]byte(`{}`),
		[]byte(`{"job_id":"job-fail"}`),
	}}
	runner := &fakeRunner{errs: map[string]error{"job-fail": errors.New("boom")}}

	require.NoError(t, RunPubSub(context.Background(), zerolog.Nop(), receiver, "lesson-generation-worker", runner, time.Minute))

	require.Len(t, receiver.results, 3)
	assert.NoError(t, receiver.results[0])
	assert.NoError(t, receiver.results[1], "undecodable messages are acked")
	assert.Error(t, receiver.results[2])
	assert.Equal(t, []string{"job-ok", "job-fail"}, runner.ran)
}
