package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lessonforge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobRepository stores generation jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, job *model.GenerationJob) error
	// GetJob returns ErrNotFound when the job does not exist.
	GetJob(ctx context.Context, jobID string) (*model.GenerationJob, error)
	// ListJobs returns the subscriber's most recent jobs, newest first.
	ListJobs(ctx context.Context, subscriberID string, limit int) ([]model.GenerationJob, error)
	// UpdateJob writes the mutable fields of job if its stored status equals expected,
	// and sets job.Version to the new stored version. It returns ErrStaleWrite otherwise.
	UpdateJob(ctx context.Context, job *model.GenerationJob, expected model.JobStatus) error
	// MarkNotified records that a completion notice for the jobs was delivered.
	MarkNotified(ctx context.Context, jobIDs []string, at time.Time) error
}

type jobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo creates a new JobRepository.
func NewJobRepo(pool *pgxpool.Pool) JobRepository {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, subscriber_id, status, progress, request, created_at, started_at, completed_at,
	result_id, result_kind, error, notified_at, version`

func (r *jobRepo) CreateJob(ctx context.Context, job *model.GenerationJob) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshaling request for job %s: %w", job.ID, err)
	}
	const q = `
		INSERT INTO generation_jobs (id, subscriber_id, status, progress, request, created_at, version)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`
	if _, err := r.pool.Exec(ctx, q, job.ID, job.SubscriberID, job.Status, job.Progress, string(req), job.CreatedAt, job.Version); err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

func (r *jobRepo) GetJob(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`
	job, err := scanJob(r.pool.QueryRow(ctx, q, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", jobID, err)
	}
	return job, nil
}

func (r *jobRepo) ListJobs(ctx context.Context, subscriberID string, limit int) ([]model.GenerationJob, error) {
	q := `SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, q, subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for subscriber %s: %w", subscriberID, err)
	}
	defer rows.Close()

	var jobs []model.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job for subscriber %s: %w", subscriberID, err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs for subscriber %s: %w", subscriberID, err)
	}
	return jobs, nil
}

func (r *jobRepo) UpdateJob(ctx context.Context, job *model.GenerationJob, expected model.JobStatus) error {
	const q = `
		UPDATE generation_jobs
		SET status = $2,
			progress = $3,
			started_at = $4,
			completed_at = $5,
			result_id = $6,
			result_kind = $7,
			error = $8,
			version = version + 1
		WHERE id = $1
		  AND status = $9
		RETURNING version
	`
	var version int64
	err := r.pool.QueryRow(ctx, q,
		job.ID, job.Status, job.Progress, job.StartedAt, job.CompletedAt,
		nullIfEmpty(job.ResultID), nullIfEmpty(string(job.ResultKind)), nullIfEmpty(job.Error),
		expected,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStaleWrite
	}
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	job.Version = version
	return nil
}

func (r *jobRepo) MarkNotified(ctx context.Context, jobIDs []string, at time.Time) error {
	if len(jobIDs) == 0 {
		return nil
	}
	const q = `
		UPDATE generation_jobs
		SET notified_at = $2
		WHERE id = ANY($1)
		  AND notified_at IS NULL
	`
	if _, err := r.pool.Exec(ctx, q, jobIDs, at); err != nil {
		return fmt.Errorf("marking %d jobs notified: %w", len(jobIDs), err)
	}
	return nil
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var job model.GenerationJob
	var rawReq []byte
	var resultID, resultKind, errMsg *string
	if err := row.Scan(
		&job.ID,
		&job.SubscriberID,
		&job.Status,
		&job.Progress,
		&rawReq,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&resultID,
		&resultKind,
		&errMsg,
		&job.NotifiedAt,
		&job.Version,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawReq, &job.Request); err != nil {
		return nil, fmt.Errorf("unmarshaling request: %w", err)
	}
	job.ResultID = derefString(resultID)
	job.ResultKind = model.ArtifactKind(derefString(resultKind))
	job.Error = derefString(errMsg)
	return &job, nil
}
