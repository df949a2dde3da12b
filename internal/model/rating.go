package model

import (
	"encoding/json"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Rating struct {
	UserID     string    `db:"user_id" json:"user_id"`
	ArtifactID string    `db:"artifact_id" json:"artifact_id"`
	Value      int       `db:"value" json:"value"`
	Comment    string    `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// RatingAggregate is the denormalized rating summary kept on a community artifact.
type RatingAggregate struct {
	AverageRating      float64     `json:"average_rating"`
	RatingCount        int         `json:"rating_count"`
	RatingDistribution map[int]int `json:"rating_distribution"`
}

func NewRatingAggregate() RatingAggregate {
	dist := make(map[int]int, MaxRating)
	for v := MinRating; v <= MaxRating; v++ {
		dist[v] = 0
	}
	return RatingAggregate{RatingDistribution: dist}
}

// Clone returns a deep copy with every histogram bucket present.
func (a RatingAggregate) Clone() RatingAggregate {
	out := NewRatingAggregate()
	out.AverageRating = a.AverageRating
	out.RatingCount = a.RatingCount
	for k, v := range a.RatingDistribution {
		out.RatingDistribution[k] = v
	}
	return out
}

// CommunityArtifact is a lesson or path shared for others to rate and clone.
type CommunityArtifact struct {
	ID         string          `db:"id" json:"id"`
	CreatorID  string          `db:"creator_id" json:"creator_id"`
	Kind       ArtifactKind    `db:"kind" json:"kind"`
	Title      string          `db:"title" json:"title"`
	Content    json.RawMessage `db:"content" json:"content"`
	IsPublic   bool            `db:"is_public" json:"is_public"`
	CloneCount int             `db:"clone_count" json:"clone_count"`
	Aggregate  RatingAggregate `json:"aggregate"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
