package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/eventbus"
	"lessonforge/internal/metrics"
	"lessonforge/internal/model"
	"lessonforge/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
	notifySnapshotLimit = 50

	dispatchFailedMessage = "Could not schedule generation. Please try again."
)

// JobService accepts detached generation requests and streams their progress.
type JobService interface {
	// Submit stores a pending job and hands it to the dispatcher without waiting
	// for generation. Admission denial is returned synchronously.
	Submit(ctx context.Context, subscriberID string, req model.GenerationRequest) (*model.GenerationJob, error)
	Get(ctx context.Context, subscriberID, jobID string) (*model.GenerationJob, error)
	List(ctx context.Context, subscriberID string, limit int) ([]model.GenerationJob, error)
	// Subscribe delivers the job's current record, then every later change, until
	// the job is terminal or the returned cancel function is called.
	Subscribe(ctx context.Context, subscriberID, jobID string, onUpdate func(model.GenerationJob)) (func(), error)
	// SubscribeAllForSubscriber reports jobs as they complete, each at most once.
	SubscribeAllForSubscriber(ctx context.Context, subscriberID string, onBatch func([]model.GenerationJob)) (func(), error)
}

type JobServiceConfig struct {
	// RecencyWindow bounds how old a completion may be and still be reported
	// when a listener connects.
	RecencyWindow time.Duration
}

type jobService struct {
	jobs       repository.JobRepository
	ledger     UsageLedger
	dispatcher Dispatcher
	bus        eventbus.Bus
	hub        *JobHub
	clock      clock.Clock
	cfg        JobServiceConfig
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewJobService creates a new JobService. The hub must be subscribed to bus by the caller.
func NewJobService(jobs repository.JobRepository, ledger UsageLedger, dispatcher Dispatcher, bus eventbus.Bus, hub *JobHub, clk clock.Clock, cfg JobServiceConfig, m *metrics.Metrics, logger zerolog.Logger) JobService {
	return &jobService{
		jobs:       jobs,
		ledger:     ledger,
		dispatcher: dispatcher,
		bus:        bus,
		hub:        hub,
		clock:      clk,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With().Str("service", "JobService").Logger(),
	}
}

func (s *jobService) Submit(ctx context.Context, subscriberID string, req model.GenerationRequest) (*model.GenerationJob, error) {
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}

	kind := req.Kind()
	adm, err := s.ledger.CheckAdmission(ctx, subscriberID, kind)
	switch {
	case err != nil && kind == model.UnitPath:
		// The runner checks again; the path flow tolerates an unreachable ledger.
		s.logger.Warn().Err(err).Str("user_id", subscriberID).Msg("Admission pre-check failed, submitting anyway")
	case err != nil:
		return nil, fmt.Errorf("checking admission for subscriber %s: %w", subscriberID, err)
	case !adm.Allowed:
		return nil, &AdmissionDeniedError{Tier: adm.Tier, Kind: kind, UpgradeTier: adm.UpgradeTier}
	}

	job := &model.GenerationJob{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Status:       model.JobPending,
		Request:      req,
		CreatedAt:    s.clock.Now(),
		Version:      1,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job for subscriber %s: %w", subscriberID, err)
	}
	s.metrics.JobTransition(string(model.JobPending))
	s.publish(ctx, job)

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", subscriberID).Msg("Failed to dispatch job")
		s.failUndispatched(ctx, *job)
		return nil, fmt.Errorf("dispatching job %s: %w", job.ID, err)
	}
	s.logger.Info().Str("job_id", job.ID).Str("user_id", subscriberID).Str("variant", string(req.Variant)).Msg("Job submitted")
	return job, nil
}

func (s *jobService) failUndispatched(ctx context.Context, job model.GenerationJob) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	now := s.clock.Now()
	job.Status = model.JobFailed
	job.CompletedAt = &now
	job.Error = dispatchFailedMessage
	if err := s.jobs.UpdateJob(wctx, &job, model.JobPending); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark undispatched job as failed")
		return
	}
	s.metrics.JobTransition(string(model.JobFailed))
	s.publish(wctx, &job)
}

func (s *jobService) publish(ctx context.Context, job *model.GenerationJob) {
	if err := s.bus.Publish(ctx, eventbus.JobEvent{Job: *job}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}

func (s *jobService) Get(ctx context.Context, subscriberID, jobID string) (*model.GenerationJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	// Other subscribers' jobs are indistinguishable from missing ones.
	if job.SubscriberID != subscriberID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *jobService) List(ctx context.Context, subscriberID string, limit int) ([]model.GenerationJob, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	jobs, err := s.jobs.ListJobs(ctx, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for subscriber %s: %w", subscriberID, err)
	}
	return jobs, nil
}

func (s *jobService) Subscribe(ctx context.Context, subscriberID, jobID string, onUpdate func(model.GenerationJob)) (func(), error) {
	// Register before reading the snapshot so no change between the two is lost.
	w := s.hub.watchJob(jobID)
	snapshot, err := s.Get(ctx, subscriberID, jobID)
	if err != nil {
		w.close()
		return nil, err
	}

	onUpdate(*snapshot)
	if snapshot.Status.Terminal() {
		w.close()
		return w.close, nil
	}

	go func() {
		defer w.close()
		last := snapshot.Version
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.signal:
			}
			for _, job := range w.drain() {
				if job.Version <= last {
					continue
				}
				if w.closed() {
					return
				}
				last = job.Version
				onUpdate(job)
				if job.Status.Terminal() {
					return
				}
			}
		}
	}()
	return w.close, nil
}

func (s *jobService) SubscribeAllForSubscriber(ctx context.Context, subscriberID string, onBatch func([]model.GenerationJob)) (func(), error) {
	w := s.hub.watchSubscriber(subscriberID)
	recent, err := s.jobs.ListJobs(ctx, subscriberID, notifySnapshotLimit)
	if err != nil {
		w.close()
		return nil, fmt.Errorf("listing jobs for subscriber %s: %w", subscriberID, err)
	}

	seen := make(map[string]struct{})
	now := s.clock.Now()
	var batch []model.GenerationJob
	for _, job := range recent {
		if job.Status != model.JobCompleted {
			continue
		}
		seen[job.ID] = struct{}{}
		if job.NotifiedAt != nil || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) <= s.cfg.RecencyWindow {
			batch = append(batch, job)
		}
	}
	if len(batch) > 0 {
		s.deliver(ctx, batch, onBatch)
	}

	go func() {
		defer w.close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-w.signal:
			}
			var batch []model.GenerationJob
			for _, job := range w.drain() {
				if job.Status != model.JobCompleted {
					continue
				}
				if _, ok := seen[job.ID]; ok {
					continue
				}
				seen[job.ID] = struct{}{}
				batch = append(batch, job)
			}
			if len(batch) == 0 || w.closed() {
				continue
			}
			s.deliver(ctx, batch, onBatch)
		}
	}()
	return w.close, nil
}

// deliver hands the batch to the listener and then records the acknowledgement.
func (s *jobService) deliver(ctx context.Context, batch []model.GenerationJob, onBatch func([]model.GenerationJob)) {
	onBatch(batch)

	ids := make([]string, len(batch))
	for i, job := range batch {
		ids[i] = job.ID
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := s.jobs.MarkNotified(wctx, ids, s.clock.Now()); err != nil {
		s.logger.Warn().Err(err).Strs("job_ids", ids).Msg("Failed to record job notifications")
	}
}
