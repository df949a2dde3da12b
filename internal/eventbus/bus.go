// Package eventbus carries generation job status changes between the process
// that runs a job and the processes holding subscriber connections.
package eventbus

import (
	"context"
	"sync"

	"lessonforge/internal/model"
)

type JobEvent struct {
	Job model.GenerationJob `json:"job"`
}

type Handler func(JobEvent)

type Bus interface {
	Publish(ctx context.Context, ev JobEvent) error
	// Subscribe returns once the handler is receiving events. The returned
	// function detaches the handler.
	Subscribe(ctx context.Context, h Handler) (func(), error)
}

// MemoryBus delivers events synchronously to handlers in the same process.
type MemoryBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]Handler)}
}

func (b *MemoryBus) Publish(_ context.Context, ev JobEvent) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, h Handler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}
