package eventbus

import (
	"context"
	"testing"
	"time"

	"lessonforge/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversUntilDetached(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []string
	stop, err := bus.Subscribe(ctx, func(ev JobEvent) { got = append(got, ev.Job.ID) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, JobEvent{Job: model.GenerationJob{ID: "a"}}))
	stop()
	stop()
	require.NoError(t, bus.Publish(ctx, JobEvent{Job: model.GenerationJob{ID: "b"}}))

	assert.Equal(t, []string{"a"}, got)
}

func TestRedisBusRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	bus := NewRedisBus(client, "", zerolog.Nop())
	ctx := context.Background()

	events := make(chan JobEvent, 4)
	stop, err := bus.Subscribe(ctx, func(ev JobEvent) { events <- ev })
	require.NoError(t, err)
	defer stop()

	job := model.GenerationJob{ID: "job-1", SubscriberID: "sub", Status: model.JobGenerating, Progress: 50, Version: 3}
	require.NoError(t, bus.Publish(ctx, JobEvent{Job: job}))

	select {
	case ev := <-events:
		assert.Equal(t, "job-1", ev.Job.ID)
		assert.Equal(t, model.JobGenerating, ev.Job.Status)
		assert.Equal(t, 50, ev.Job.Progress)
		assert.Equal(t, int64(3), ev.Job.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}

func TestRedisBusPublishFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	bus := NewRedisBus(client, "jobs", zerolog.Nop())
	err := bus.Publish(context.Background(), JobEvent{Job: model.GenerationJob{ID: "x"}})
	assert.Error(t, err)
}
