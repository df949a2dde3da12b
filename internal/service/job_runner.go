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

	"github.com/rs/zerolog"
)

const (
	progressStarted = 10
	progressSpan    = 80
	progressSaving  = 90
	progressDone    = 100

	finalWriteTimeout = 10 * time.Second
)

// JobRunner executes one generation job from pending to a terminal status.
type JobRunner struct {
	jobs         repository.JobRepository
	orchestrator GenerationOrchestrator
	writer       *ArtifactWriter
	bus          eventbus.Bus
	clock        clock.Clock
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewJobRunner(jobs repository.JobRepository, orchestrator GenerationOrchestrator, writer *ArtifactWriter, bus eventbus.Bus, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *JobRunner {
	return &JobRunner{
		jobs:         jobs,
		orchestrator: orchestrator,
		writer:       writer,
		bus:          bus,
		clock:        clk,
		metrics:      m,
		logger:       logger.With().Str("service", "JobRunner").Logger(),
	}
}

// Run drives the job. Jobs that another worker already claimed or finished are
// skipped without error, so redelivered queue messages are harmless. The
// returned error is only for failures to record the job's state.
func (r *JobRunner) Run(ctx context.Context, jobID string) error {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	log := r.logger.With().Str("job_id", job.ID).Str("subscriber_id", job.SubscriberID).Logger()
	if job.Status != model.JobPending {
		log.Info().Str("status", string(job.Status)).Msg("Job already claimed, skipping")
		return nil
	}

	started := r.clock.Now()
	job.Status = model.JobGenerating
	job.StartedAt = &started
	job.Progress = progressStarted
	if err := r.write(ctx, job, model.JobPending); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			log.Info().Msg("Job claimed by another worker")
			return nil
		}
		return err
	}
	log.Info().Str("variant", string(job.Request.Variant)).Msg("Job started")

	progress := func(p Progress) {
		pct := progressSaving
		if p.Status != ProgressComplete && p.Total > 0 {
			pct = progressStarted + progressSpan*(p.Current-1)/p.Total
		}
		if pct <= job.Progress {
			return
		}
		job.Progress = pct
		if err := r.write(ctx, job, model.JobGenerating); err != nil {
			log.Warn().Err(err).Int("progress", pct).Msg("Failed to record progress")
		}
	}

	result, err := r.orchestrator.Generate(ctx, job.SubscriberID, job.Request, progress)
	if err != nil {
		return r.fail(ctx, job, err)
	}

	id, kind, err := r.writer.Save(ctx, result)
	if err != nil {
		return r.fail(ctx, job, fmt.Errorf("saving result: %w", err))
	}

	// Generation is over; the final write must land even if ctx expired meanwhile.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	done := r.clock.Now()
	job.Status = model.JobCompleted
	job.Progress = progressDone
	job.CompletedAt = &done
	job.ResultID = id
	job.ResultKind = kind
	if err := r.write(wctx, job, model.JobGenerating); err != nil {
		return err
	}
	log.Info().Str("result_id", id).Dur("elapsed", done.Sub(started)).Msg("Job completed")
	return nil
}

func (r *JobRunner) fail(ctx context.Context, job *model.GenerationJob, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	expected := job.Status
	done := r.clock.Now()
	job.Status = model.JobFailed
	job.CompletedAt = &done
	job.ResultID = ""
	job.ResultKind = ""
	job.Error = PublicMessage(cause)

	log := r.logger.Error().Err(cause).Str("job_id", job.ID).Str("subscriber_id", job.SubscriberID)
	// Lessons finished before a path failed are discarded, not saved as a partial path.
	var partial *PathGenerationError
	if errors.As(cause, &partial) {
		log = log.Int("completed_lessons", len(partial.Completed)).Int("failed_index", partial.FailedIndex).Int("total", partial.Total)
	}
	log.Msg("Job failed")
	return r.write(wctx, job, expected)
}

// write stores the job if it is still in the expected status, then announces it.
func (r *JobRunner) write(ctx context.Context, job *model.GenerationJob, expected model.JobStatus) error {
	if !model.CanTransition(expected, job.Status) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", job.ID, expected, job.Status)
	}
	if err := r.jobs.UpdateJob(ctx, job, expected); err != nil {
		return err
	}
	if expected != job.Status {
		r.metrics.JobTransition(string(job.Status))
	}
	if err := r.bus.Publish(ctx, eventbus.JobEvent{Job: *job}); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
	return nil
}
