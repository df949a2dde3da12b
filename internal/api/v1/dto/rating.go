package dto

import (
	"strconv"
	"time"

	"lessonforge/internal/model"
)

// RatingCreateDTO is used for incoming rating submissions
type RatingCreateDTO struct {
	Value   int    `json:"value" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"max=2000"`
}

// RatingAggregateResponseDTO is the rating summary of a community artifact
type RatingAggregateResponseDTO struct {
	ArtifactID         string         `json:"artifact_id"`
	AverageRating      float64        `json:"average_rating"`
	RatingCount        int            `json:"rating_count"`
	RatingDistribution map[string]int `json:"rating_distribution"`
}

func NewRatingAggregateResponse(artifactID string, agg model.RatingAggregate) RatingAggregateResponseDTO {
	agg = agg.Clone()
	dist := make(map[string]int, len(agg.RatingDistribution))
	for k, v := range agg.RatingDistribution {
		dist[strconv.Itoa(k)] = v
	}
	return RatingAggregateResponseDTO{
		ArtifactID:         artifactID,
		AverageRating:      agg.AverageRating,
		RatingCount:        agg.RatingCount,
		RatingDistribution: dist,
	}
}

// UserRatingResponseDTO is the caller's own rating of an artifact
type UserRatingResponseDTO struct {
	ArtifactID string    `json:"artifact_id"`
	Value      int       `json:"value"`
	Comment    string    `json:"comment,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// VisibilityUpdateDTO toggles whether an artifact is listed publicly
type VisibilityUpdateDTO struct {
	IsPublic *bool `json:"is_public" validate:"required"`
}

// ArtifactResponseDTO is returned when an artifact is published
type ArtifactResponseDTO struct {
	ID         string                     `json:"id"`
	CreatorID  string                     `json:"creator_id"`
	Kind       string                     `json:"kind"`
	Title      string                     `json:"title"`
	IsPublic   bool                       `json:"is_public"`
	CloneCount int                        `json:"clone_count"`
	Rating     RatingAggregateResponseDTO `json:"rating"`
	CreatedAt  time.Time                  `json:"created_at"`
}

func NewArtifactResponse(a *model.CommunityArtifact) ArtifactResponseDTO {
	return ArtifactResponseDTO{
		ID:         a.ID,
		CreatorID:  a.CreatorID,
		Kind:       string(a.Kind),
		Title:      a.Title,
		IsPublic:   a.IsPublic,
		CloneCount: a.CloneCount,
		Rating:     NewRatingAggregateResponse(a.ID, a.Aggregate),
		CreatedAt:  a.CreatedAt,
	}
}

// CloneResponseDTO reports the artifact's clone count after cloning
type CloneResponseDTO struct {
	ArtifactID string `json:"artifact_id"`
	CloneCount int    `json:"clone_count"`
}
