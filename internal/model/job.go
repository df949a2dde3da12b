package model

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobGenerating JobStatus = "generating"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether a job may move from one status to another.
// Terminal statuses never change and a status never moves backwards.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobGenerating || to == JobFailed
	case JobGenerating:
		return to == JobGenerating || to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

type Variant string

const (
	VariantSingle Variant = "single"
	VariantMulti  Variant = "multi"
)

const (
	MinPathItems = 2
	MaxPathItems = 10
)

// GenerationRequest is what a subscriber asked to have generated.
type GenerationRequest struct {
	Topic     string  `json:"topic"`
	Context   string  `json:"context,omitempty"`
	Variant   Variant `json:"variant"`
	ItemCount int     `json:"item_count,omitempty"`
}

func (r GenerationRequest) Kind() UnitKind {
	if r.Variant == VariantMulti {
		return UnitPath
	}
	return UnitLesson
}

// GenerationJob tracks one detached generation request.
type GenerationJob struct {
	ID           string            `db:"id" json:"id"`
	SubscriberID string            `db:"subscriber_id" json:"subscriber_id"`
	Status       JobStatus         `db:"status" json:"status"`
	Progress     int               `db:"progress" json:"progress"`
	Request      GenerationRequest `db:"request" json:"request"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	StartedAt    *time.Time        `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	ResultID     string            `db:"result_id" json:"result_id,omitempty"`
	ResultKind   ArtifactKind      `db:"result_kind" json:"result_kind,omitempty"`
	Error        string            `db:"error" json:"error,omitempty"`
	NotifiedAt   *time.Time        `db:"notified_at" json:"notified_at,omitempty"`
	// Version increases by one on every stored write.
	Version int64 `db:"version" json:"version"`
}
