package service

import (
	"sync"

	"lessonforge/internal/eventbus"
	"lessonforge/internal/model"
)

// JobHub fans job events from the bus out to in-process watchers, keyed by job
// and by subscriber.
type JobHub struct {
	mu           sync.Mutex
	byJob        map[string]map[*jobWatcher]struct{}
	bySubscriber map[string]map[*jobWatcher]struct{}
}

func NewJobHub() *JobHub {
	return &JobHub{
		byJob:        make(map[string]map[*jobWatcher]struct{}),
		bySubscriber: make(map[string]map[*jobWatcher]struct{}),
	}
}

// Handle is an eventbus.Handler. It never blocks.
func (h *JobHub) Handle(ev eventbus.JobEvent) {
	h.mu.Lock()
	var targets []*jobWatcher
	for w := range h.byJob[ev.Job.ID] {
		targets = append(targets, w)
	}
	for w := range h.bySubscriber[ev.Job.SubscriberID] {
		targets = append(targets, w)
	}
	h.mu.Unlock()
	for _, w := range targets {
		w.push(ev.Job)
	}
}

func (h *JobHub) watchJob(jobID string) *jobWatcher {
	return h.add(h.byJob, jobID)
}

func (h *JobHub) watchSubscriber(subscriberID string) *jobWatcher {
	return h.add(h.bySubscriber, subscriberID)
}

func (h *JobHub) add(index map[string]map[*jobWatcher]struct{}, key string) *jobWatcher {
	w := newJobWatcher()
	h.mu.Lock()
	set, ok := index[key]
	if !ok {
		set = make(map[*jobWatcher]struct{})
		index[key] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()

	w.detach = func() {
		h.mu.Lock()
		delete(index[key], w)
		if len(index[key]) == 0 {
			delete(index, key)
		}
		h.mu.Unlock()
	}
	return w
}

// watcherCount is used by tests to check that subscriptions are released.
func (h *JobHub) watcherCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.byJob {
		n += len(set)
	}
	for _, set := range h.bySubscriber {
		n += len(set)
	}
	return n
}

// jobWatcher is an unbounded mailbox drained by one goroutine, so a slow
// consumer never blocks the hub.
type jobWatcher struct {
	mu     sync.Mutex
	queue  []model.GenerationJob
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
	detach func()
}

func newJobWatcher() *jobWatcher {
	return &jobWatcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *jobWatcher) push(job model.GenerationJob) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *jobWatcher) drain() []model.GenerationJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.queue
	w.queue = nil
	return out
}

func (w *jobWatcher) close() {
	w.once.Do(func() {
		w.detach()
		close(w.done)
	})
}

func (w *jobWatcher) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
