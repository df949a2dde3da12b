package repository

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"lessonforge/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a disposable database named by TEST_DATABASE_URL.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestUsageRepoRolloverGuard(t *testing.T) {
	pool := testPool(t)
	repo := NewUsageRepo(pool)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &model.UsageRecord{
		SubscriberID: uuid.NewString(),
		Tier:         model.TierBasic,
		Status:       model.SubscriptionActive,
		PeriodStart:  start,
		PeriodEnd:    model.NextPeriodEnd(start),
	}
	require.NoError(t, repo.CreateUsage(ctx, rec))
	require.NoError(t, repo.IncrementUnits(ctx, rec.SubscriberID))

	next := *rec
	next.PeriodStart = rec.PeriodEnd
	next.PeriodEnd = model.NextPeriodEnd(rec.PeriodEnd)

	ok, err := repo.RolloverUsage(ctx, rec.SubscriberID, rec.PeriodEnd, &next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RolloverUsage(ctx, rec.SubscriberID, rec.PeriodEnd, &next)
	require.NoError(t, err)
	assert.False(t, ok, "second rollover from the same period must not apply")

	got, err := repo.GetUsage(ctx, rec.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnitsUsed)
	assert.Equal(t, 1, got.LifetimeUnits)
}

func TestJobRepoStaleWrite(t *testing.T) {
	pool := testPool(t)
	repo := NewJobRepo(pool)
	ctx := context.Background()

	job := &model.GenerationJob{
		ID:           uuid.NewString(),
		SubscriberID: uuid.NewString(),
		Status:       model.JobPending,
		Request:      model.GenerationRequest{Topic: "Rust ownership", Variant: model.VariantSingle},
		CreatedAt:    time.Now().UTC(),
		Version:      1,
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	job.Status = model.JobGenerating
	job.Progress = 10
	require.NoError(t, repo.UpdateJob(ctx, job, model.JobPending))
	assert.Equal(t, int64(2), job.Version)

	err := repo.UpdateJob(ctx, job, model.JobPending)
	assert.ErrorIs(t, err, ErrStaleWrite)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobGenerating, got.Status)
	assert.Equal(t, "Rust ownership", got.Request.Topic)
}

func TestRatingRepoConcurrentTransactions(t *testing.T) {
	pool := testPool(t)
	repo := NewRatingRepo(pool)
	ctx := context.Background()

	artifact := &model.CommunityArtifact{
		ID:        uuid.NewString(),
		CreatorID: uuid.NewString(),
		Kind:      model.ArtifactLesson,
		Title:     "Intro to Go",
		Content:   json.RawMessage(`{}`),
		IsPublic:  true,
		Aggregate: model.NewRatingAggregate(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertArtifact(ctx, artifact))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.NewString()
			err := repo.RunRatingTx(ctx, artifact.ID, func(tx RatingTx) error {
				agg, err := tx.Aggregate(ctx)
				if err != nil {
					return err
				}
				agg.RatingCount++
				agg.RatingDistribution[4]++
				now := time.Now().UTC()
				if err := tx.SaveRating(ctx, &model.Rating{UserID: userID, Value: 4, CreatedAt: now, UpdatedAt: now}); err != nil {
					return err
				}
				return tx.SaveAggregate(ctx, agg)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetArtifact(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Aggregate.RatingCount)
	assert.Equal(t, 5, got.Aggregate.RatingDistribution[4])
}

func TestRatingRepoMissingArtifact(t *testing.T) {
	pool := testPool(t)
	repo := NewRatingRepo(pool)

	err := repo.RunRatingTx(context.Background(), uuid.NewString(), func(RatingTx) error { return nil })
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}
