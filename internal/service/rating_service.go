package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"lessonforge/internal/clock"
	"lessonforge/internal/metrics"
	"lessonforge/internal/model"
	"lessonforge/internal/repository"

	"github.com/rs/zerolog"
)

const maxCommentLength = 2000

// RatingService maintains community artifacts and their rating aggregates.
type RatingService interface {
	// Submit records the user's rating, replacing any earlier one, and returns the
	// artifact's updated aggregate.
	Submit(ctx context.Context, userID, artifactID string, value int, comment string) (*model.RatingAggregate, error)
	GetArtifact(ctx context.Context, artifactID string) (*model.CommunityArtifact, error)
	GetUserRating(ctx context.Context, userID, artifactID string) (*model.Rating, error)
	// Publish shares one of the owner's lessons or paths with the community.
	Publish(ctx context.Context, ownerID, artifactID string) (*model.CommunityArtifact, error)
	SetVisibility(ctx context.Context, callerID, artifactID string, public bool) error
	// Clone attaches a reference to a public artifact and returns its clone count.
	Clone(ctx context.Context, userID, artifactID string) (int, error)
}

type ratingService struct {
	ratings repository.RatingRepository
	library repository.LibraryRepository
	archive repository.ArtifactArchive
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRatingService creates a new RatingService. archive may be nil.
func NewRatingService(ratings repository.RatingRepository, library repository.LibraryRepository, archive repository.ArtifactArchive, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) RatingService {
	return &ratingService{
		ratings: ratings,
		library: library,
		archive: archive,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("service", "RatingService").Logger(),
	}
}

func (s *ratingService) Submit(ctx context.Context, userID, artifactID string, value int, comment string) (*model.RatingAggregate, error) {
	if value < model.MinRating || value > model.MaxRating {
		return nil, fmt.Errorf("%w: value must be between %d and %d", ErrInvalidRating, model.MinRating, model.MaxRating)
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLength {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", ErrInvalidRating, maxCommentLength)
	}

	if _, err := s.ratings.GetArtifact(ctx, artifactID); err != nil {
		if !errors.Is(err, repository.ErrArtifactNotFound) {
			s.metrics.RatingSubmission("error")
			return nil, err
		}
		if err := s.migrate(ctx, userID, artifactID); err != nil {
			s.metrics.RatingSubmission("error")
			return nil, err
		}
	}

	var (
		result  model.RatingAggregate
		created bool
	)
	err := s.ratings.RunRatingTx(ctx, artifactID, func(tx repository.RatingTx) error {
		agg, err := tx.Aggregate(ctx)
		if err != nil {
			return err
		}
		prior, err := tx.PriorRating(ctx, userID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		rating := &model.Rating{
			UserID:     userID,
			ArtifactID: artifactID,
			Value:      value,
			Comment:    comment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		var priorValue *int
		if prior != nil {
			rating.CreatedAt = prior.CreatedAt
			priorValue = &prior.Value
		}

		next := ApplyRating(agg, priorValue, value)
		if err := tx.SaveRating(ctx, rating); err != nil {
			return err
		}
		if err := tx.SaveAggregate(ctx, next); err != nil {
			return err
		}
		result, created = next, prior == nil
		return nil
	})
	if err != nil {
		s.metrics.RatingSubmission("error")
		s.logger.Error().Err(err).Str("user_id", userID).Str("artifact_id", artifactID).Msg("Failed to submit rating")
		return nil, fmt.Errorf("rating artifact %s: %w", artifactID, err)
	}

	if created {
		s.metrics.RatingSubmission("created")
	} else {
		s.metrics.RatingSubmission("updated")
	}
	return &result, nil
}

// ApplyRating returns agg with one rating applied. prior is the user's earlier
// value when the rating replaces one.
func ApplyRating(agg model.RatingAggregate, prior *int, value int) model.RatingAggregate {
	out := agg.Clone()
	total := aggregateTotal(agg)
	backfillHistogram(&out)

	if prior == nil {
		out.RatingCount++
		total += float64(value)
	} else {
		total += float64(value - *prior)
		if out.RatingDistribution[*prior] > 0 {
			out.RatingDistribution[*prior]--
		}
	}
	out.RatingDistribution[value]++

	if out.RatingCount > 0 {
		out.AverageRating = round2(total / float64(out.RatingCount))
	} else {
		out.AverageRating = 0
	}
	return out
}

// aggregateTotal is the sum of all rating values. The histogram is exact and is
// preferred; records written before it existed only have average and count.
func aggregateTotal(agg model.RatingAggregate) float64 {
	sum, n := 0, 0
	for v, c := range agg.RatingDistribution {
		sum += v * c
		n += c
	}
	if n == agg.RatingCount {
		return float64(sum)
	}
	return agg.AverageRating * float64(agg.RatingCount)
}

// backfillHistogram assigns ratings missing from the histogram to the bucket
// nearest the recorded average so that the bucket counts add up to the count.
func backfillHistogram(agg *model.RatingAggregate) {
	n := 0
	for _, c := range agg.RatingDistribution {
		n += c
	}
	missing := agg.RatingCount - n
	if missing <= 0 {
		return
	}
	bucket := int(math.Round(agg.AverageRating))
	bucket = max(model.MinRating, min(model.MaxRating, bucket))
	agg.RatingDistribution[bucket] += missing
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// migrate copies an artifact that predates the community collection into it.
// Only the owner can trigger it and the copy stays private until published, so
// library content never leaks through a stranger's rating.
func (s *ratingService) migrate(ctx context.Context, userID, artifactID string) error {
	artifact, err := s.locate(ctx, artifactID)
	if errors.Is(err, repository.ErrArtifactNotFound) {
		s.logger.Warn().Str("artifact_id", artifactID).Msg("Rated artifact not found in any location")
		return ErrNotFoundCouldNotMigrate
	}
	if err != nil {
		return fmt.Errorf("locating artifact %s for migration: %w", artifactID, err)
	}
	if artifact.CreatorID != userID {
		s.logger.Warn().Str("artifact_id", artifactID).Str("user_id", userID).Msg("Refusing to migrate another user's unshared artifact")
		return ErrNotFoundCouldNotMigrate
	}
	artifact.IsPublic = false
	if err := s.ratings.InsertArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("migrating artifact %s: %w", artifactID, err)
	}
	s.logger.Info().Str("artifact_id", artifactID).Str("kind", string(artifact.Kind)).Msg("Migrated artifact into community collection")
	return nil
}

// locate finds an artifact in the library, then in the archive.
func (s *ratingService) locate(ctx context.Context, artifactID string) (*model.CommunityArtifact, error) {
	now := s.clock.Now()
	build := func(id, owner string, kind model.ArtifactKind, title string, content any) (*model.CommunityArtifact, error) {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s %s: %w", kind, id, err)
		}
		return &model.CommunityArtifact{
			ID:        id,
			CreatorID: owner,
			Kind:      kind,
			Title:     title,
			Content:   raw,
			Aggregate: model.NewRatingAggregate(),
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}

	lesson, err := s.library.GetLesson(ctx, artifactID)
	if err == nil {
		return build(lesson.ID, lesson.OwnerID, model.ArtifactLesson, lesson.Title, lesson)
	}
	if !errors.Is(err, repository.ErrArtifactNotFound) {
		return nil, err
	}

	path, err := s.library.GetPath(ctx, artifactID)
	if err == nil {
		return build(path.ID, path.OwnerID, model.ArtifactPath, path.Title, path)
	}
	if !errors.Is(err, repository.ErrArtifactNotFound) {
		return nil, err
	}

	if s.archive == nil {
		return nil, repository.ErrArtifactNotFound
	}
	archived, err := s.archive.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return &model.CommunityArtifact{
		ID:        archived.ID,
		CreatorID: archived.OwnerID,
		Kind:      archived.Kind,
		Title:     archived.Title,
		Content:   archived.Content,
		Aggregate: model.NewRatingAggregate(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *ratingService) GetArtifact(ctx context.Context, artifactID string) (*model.CommunityArtifact, error) {
	return s.ratings.GetArtifact(ctx, artifactID)
}

func (s *ratingService) GetUserRating(ctx context.Context, userID, artifactID string) (*model.Rating, error) {
	return s.ratings.GetRating(ctx, userID, artifactID)
}

func (s *ratingService) Publish(ctx context.Context, ownerID, artifactID string) (*model.CommunityArtifact, error) {
	if existing, err := s.ratings.GetArtifact(ctx, artifactID); err == nil {
		if existing.CreatorID != ownerID {
			return nil, ErrNotOwner
		}
		if existing.IsPublic {
			return existing, nil
		}
		if err := s.ratings.SetVisibility(ctx, artifactID, ownerID, true); err != nil {
			return nil, fmt.Errorf("publishing artifact %s: %w", artifactID, err)
		}
		return s.ratings.GetArtifact(ctx, artifactID)
	} else if !errors.Is(err, repository.ErrArtifactNotFound) {
		return nil, err
	}

	artifact, err := s.locate(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.CreatorID != ownerID {
		return nil, ErrNotOwner
	}
	artifact.IsPublic = true
	if err := s.ratings.InsertArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("publishing artifact %s: %w", artifactID, err)
	}
	s.logger.Info().Str("user_id", ownerID).Str("artifact_id", artifactID).Msg("Artifact published")
	return s.ratings.GetArtifact(ctx, artifactID)
}

func (s *ratingService) SetVisibility(ctx context.Context, callerID, artifactID string, public bool) error {
	artifact, err := s.ratings.GetArtifact(ctx, artifactID)
	if err != nil {
		return err
	}
	if artifact.CreatorID != callerID {
		return ErrNotOwner
	}
	if err := s.ratings.SetVisibility(ctx, artifactID, callerID, public); err != nil {
		return fmt.Errorf("setting visibility of artifact %s: %w", artifactID, err)
	}
	return nil
}

func (s *ratingService) Clone(ctx context.Context, userID, artifactID string) (int, error) {
	count, err := s.ratings.AddClone(ctx, userID, artifactID)
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Str("user_id", userID).Str("artifact_id", artifactID).Int("clone_count", count).Msg("Artifact cloned")
	return count, nil
}
