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

const maxRatingTxAttempts = 5

// RatingTx is the view of one artifact available inside a rating transaction.
// The artifact row stays locked until the transaction ends.
type RatingTx interface {
	Aggregate(ctx context.Context) (model.RatingAggregate, error)
	// PriorRating returns nil when the user has not rated the artifact yet.
	PriorRating(ctx context.Context, userID string) (*model.Rating, error)
	SaveRating(ctx context.Context, rating *model.Rating) error
	SaveAggregate(ctx context.Context, agg model.RatingAggregate) error
}

// RatingRepository stores community artifacts with their ratings and clones.
type RatingRepository interface {
	// GetArtifact returns ErrArtifactNotFound when the artifact does not exist.
	GetArtifact(ctx context.Context, artifactID string) (*model.CommunityArtifact, error)
	// InsertArtifact creates the artifact unless it already exists.
	InsertArtifact(ctx context.Context, artifact *model.CommunityArtifact) error
	// RunRatingTx runs fn with the artifact locked. Either every write made through
	// the RatingTx is applied or none is. fn may be invoked more than once.
	RunRatingTx(ctx context.Context, artifactID string, fn func(tx RatingTx) error) error
	GetRating(ctx context.Context, userID, artifactID string) (*model.Rating, error)
	// SetVisibility returns ErrArtifactNotFound unless creatorID owns the artifact.
	SetVisibility(ctx context.Context, artifactID, creatorID string, public bool) error
	// AddClone records a clone of a public artifact by userID. Repeat clones by the
	// same user leave the counter unchanged. It returns the resulting clone count.
	AddClone(ctx context.Context, userID, artifactID string) (int, error)
}

type ratingRepo struct {
	pool *pgxpool.Pool
}

// NewRatingRepo creates a new RatingRepository.
func NewRatingRepo(pool *pgxpool.Pool) RatingRepository {
	return &ratingRepo{pool: pool}
}

func (r *ratingRepo) GetArtifact(ctx context.Context, artifactID string) (*model.CommunityArtifact, error) {
	const q = `
		SELECT id, creator_id, kind, title, content, is_public, clone_count,
		       average_rating, rating_count, rating_distribution, created_at, updated_at
		FROM community_artifacts
		WHERE id = $1
	`
	var a model.CommunityArtifact
	var content, dist []byte
	err := r.pool.QueryRow(ctx, q, artifactID).Scan(
		&a.ID,
		&a.CreatorID,
		&a.Kind,
		&a.Title,
		&content,
		&a.IsPublic,
		&a.CloneCount,
		&a.Aggregate.AverageRating,
		&a.Aggregate.RatingCount,
		&dist,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching artifact %s: %w", artifactID, err)
	}
	a.Content = content
	if err := decodeDistribution(dist, &a.Aggregate); err != nil {
		return nil, fmt.Errorf("decoding distribution for artifact %s: %w", artifactID, err)
	}
	return &a, nil
}

func (r *ratingRepo) InsertArtifact(ctx context.Context, a *model.CommunityArtifact) error {
	agg := a.Aggregate.Clone()
	dist, err := json.Marshal(agg.RatingDistribution)
	if err != nil {
		return fmt.Errorf("marshaling distribution for artifact %s: %w", a.ID, err)
	}
	const q = `
		INSERT INTO community_artifacts (id, creator_id, kind, title, content, is_public, clone_count,
		                                 average_rating, rating_count, rating_distribution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10::jsonb, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, q,
		a.ID, a.CreatorID, a.Kind, a.Title, string(a.Content), a.IsPublic, a.CloneCount,
		agg.AverageRating, agg.RatingCount, string(dist), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting artifact %s: %w", a.ID, err)
	}
	return nil
}

func (r *ratingRepo) RunRatingTx(ctx context.Context, artifactID string, fn func(tx RatingTx) error) error {
	var err error
	for attempt := 1; attempt <= maxRatingTxAttempts; attempt++ {
		err = r.runRatingTxOnce(ctx, artifactID, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return fmt.Errorf("rating artifact %s: %w: %v", artifactID, ErrTxConflict, err)
}

func (r *ratingRepo) runRatingTxOnce(ctx context.Context, artifactID string, fn func(tx RatingTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("starting rating transaction for artifact %s: %w", artifactID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const lockQ = `
		SELECT average_rating, rating_count, rating_distribution
		FROM community_artifacts
		WHERE id = $1
		FOR UPDATE
	`
	var agg model.RatingAggregate
	var dist []byte
	err = tx.QueryRow(ctx, lockQ, artifactID).Scan(&agg.AverageRating, &agg.RatingCount, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrArtifactNotFound
	}
	if err != nil {
		return fmt.Errorf("locking artifact %s: %w", artifactID, err)
	}
	if err := decodeDistribution(dist, &agg); err != nil {
		return fmt.Errorf("decoding distribution for artifact %s: %w", artifactID, err)
	}

	if err := fn(&pgRatingTx{tx: tx, artifactID: artifactID, agg: agg}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rating for artifact %s: %w", artifactID, err)
	}
	return nil
}

func (r *ratingRepo) GetRating(ctx context.Context, userID, artifactID string) (*model.Rating, error) {
	return getRating(ctx, r.pool, userID, artifactID)
}

func (r *ratingRepo) SetVisibility(ctx context.Context, artifactID, creatorID string, public bool) error {
	const q = `
		UPDATE community_artifacts
		SET is_public = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND creator_id = $2
	`
	tag, err := r.pool.Exec(ctx, q, artifactID, creatorID, public)
	if err != nil {
		return fmt.Errorf("setting visibility of artifact %s: %w", artifactID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrArtifactNotFound
	}
	return nil
}

func (r *ratingRepo) AddClone(ctx context.Context, userID, artifactID string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("starting clone transaction for artifact %s: %w", artifactID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var public bool
	var count int
	err = tx.QueryRow(ctx, `SELECT is_public, clone_count FROM community_artifacts WHERE id = $1 FOR UPDATE`, artifactID).Scan(&public, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrArtifactNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("locking artifact %s for clone: %w", artifactID, err)
	}
	if !public {
		return 0, ErrArtifactPrivate
	}

	const insertQ = `
		INSERT INTO artifact_clones (user_id, artifact_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, artifact_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertQ, userID, artifactID)
	if err != nil {
		return 0, fmt.Errorf("recording clone of artifact %s by user %s: %w", artifactID, userID, err)
	}
	if tag.RowsAffected() == 1 {
		const bumpQ = `
			UPDATE community_artifacts
			SET clone_count = clone_count + 1
			WHERE id = $1
			RETURNING clone_count
		`
		if err := tx.QueryRow(ctx, bumpQ, artifactID).Scan(&count); err != nil {
			return 0, fmt.Errorf("incrementing clone count of artifact %s: %w", artifactID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing clone of artifact %s: %w", artifactID, err)
	}
	return count, nil
}

type pgRatingTx struct {
	tx         pgx.Tx
	artifactID string
	agg        model.RatingAggregate
}

func (t *pgRatingTx) Aggregate(context.Context) (model.RatingAggregate, error) {
	return t.agg.Clone(), nil
}

func (t *pgRatingTx) PriorRating(ctx context.Context, userID string) (*model.Rating, error) {
	rating, err := getRating(ctx, t.tx, userID, t.artifactID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rating, err
}

func (t *pgRatingTx) SaveRating(ctx context.Context, rating *model.Rating) error {
	const q = `
		INSERT INTO artifact_ratings (user_id, artifact_id, value, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, artifact_id) DO UPDATE
		SET value = EXCLUDED.value,
			comment = EXCLUDED.comment,
			updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, q, rating.UserID, t.artifactID, rating.Value, rating.Comment, rating.CreatedAt, rating.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving rating of artifact %s by user %s: %w", t.artifactID, rating.UserID, err)
	}
	return nil
}

func (t *pgRatingTx) SaveAggregate(ctx context.Context, agg model.RatingAggregate) error {
	dist, err := json.Marshal(agg.RatingDistribution)
	if err != nil {
		return fmt.Errorf("marshaling distribution for artifact %s: %w", t.artifactID, err)
	}
	const q = `
		UPDATE community_artifacts
		SET average_rating = $2,
			rating_count = $3,
			rating_distribution = $4::jsonb,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := t.tx.Exec(ctx, q, t.artifactID, agg.AverageRating, agg.RatingCount, string(dist)); err != nil {
		return fmt.Errorf("saving aggregate for artifact %s: %w", t.artifactID, err)
	}
	t.agg = agg.Clone()
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRating(ctx context.Context, db queryRower, userID, artifactID string) (*model.Rating, error) {
	const q = `
		SELECT user_id, artifact_id, value, comment, created_at, updated_at
		FROM artifact_ratings
		WHERE user_id = $1
		  AND artifact_id = $2
	`
	var rating model.Rating
	err := db.QueryRow(ctx, q, userID, artifactID).Scan(
		&rating.UserID,
		&rating.ArtifactID,
		&rating.Value,
		&rating.Comment,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching rating of artifact %s by user %s: %w", artifactID, userID, err)
	}
	return &rating, nil
}

func decodeDistribution(raw []byte, agg *model.RatingAggregate) error {
	dist := map[int]int{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &dist); err != nil {
			return err
		}
	}
	agg.RatingDistribution = dist
	*agg = agg.Clone()
	return nil
}
