package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"lessonforge/internal/config"

	ps "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

func TestNewClientInvalidProject(t *testing.T) {
	cfg := &config.Config{GCPProjectID: ""}
	if _, err := NewClient(context.Background(), cfg); err == nil {
		t.Fatal("expected error when project ID is empty")
	}
}

func TestPublishAndReceiveWithEmulator(t *testing.T) {
	emulator := os.Getenv("PUBSUB_EMULATOR_HOST")
	if emulator == "" {
		t.Skip("PUBSUB_EMULATOR_HOST is not set, skip emulator integration test")
	}

	ctx := context.Background()
	cfg := &config.Config{GCPProjectID: "test-project"}
	c, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create Pub/Sub client: %v", err)
	}
	defer c.Close()

	topicName := "test-generation-" + time.Now().Format("150405.000000")
	topic, err := c.client.CreateTopic(ctx, topicName)
	if err != nil {
		t.Fatalf("failed to create topic: %v", err)
	}
	subName := topicName + "-sub"
	if _, err := c.client.CreateSubscription(ctx, subName, ps.SubscriptionConfig{Topic: topic}); err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	msgID, err := c.Publish(ctx, topicName, map[string]string{"job_id": "job-123"})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if msgID == "" {
		t.Fatal("expected non-empty message ID")
	}

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got := make(chan string, 1)
	go func() {
		_ = c.Receive(recvCtx, subName, zerolog.Nop(), func(_ context.Context, data []byte) error {
			got <- string(data)
			cancel()
			return nil
		})
	}()

	select {
	case data := <-got:
		if data != `{"job_id":"job-123"}` {
			t.Fatalf("unexpected payload %s", data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message from emulator subscription")
	}
}
