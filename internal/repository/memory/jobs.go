package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lessonforge/internal/model"
	"lessonforge/internal/repository"
)

type JobRepo struct {
	mu   sync.Mutex
	jobs map[string]model.GenerationJob
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]model.GenerationJob)}
}

var _ repository.JobRepository = (*JobRepo)(nil)

func (r *JobRepo) CreateJob(_ context.Context, job *model.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (r *JobRepo) GetJob(_ context.Context, jobID string) (*model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

func (r *JobRepo) ListJobs(_ context.Context, subscriberID string, limit int) ([]model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.GenerationJob
	for _, job := range r.jobs {
		if job.SubscriberID == subscriberID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) UpdateJob(_ context.Context, job *model.GenerationJob, expected model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[job.ID]
	if !ok || cur.Status != expected {
		return repository.ErrStaleWrite
	}
	cur.Status = job.Status
	cur.Progress = job.Progress
	cur.StartedAt = job.StartedAt
	cur.CompletedAt = job.CompletedAt
	cur.ResultID = job.ResultID
	cur.ResultKind = job.ResultKind
	cur.Error = job.Error
	cur.Version++
	r.jobs[job.ID] = cloneJob(cur)
	job.Version = cur.Version
	return nil
}

func (r *JobRepo) MarkNotified(_ context.Context, jobIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range jobIDs {
		job, ok := r.jobs[id]
		if !ok || job.NotifiedAt != nil {
			continue
		}
		t := at
		job.NotifiedAt = &t
		r.jobs[id] = job
	}
	return nil
}

func cloneJob(job model.GenerationJob) model.GenerationJob {
	out := job
	out.StartedAt = cloneTime(job.StartedAt)
	out.CompletedAt = cloneTime(job.CompletedAt)
	out.NotifiedAt = cloneTime(job.NotifiedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
