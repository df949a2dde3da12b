package dto

import (
	"time"

	"lessonforge/internal/model"
)

// GenerateRequestDTO is used for both synchronous lesson generation and job submission
type GenerateRequestDTO struct {
	Topic     string `json:"topic" validate:"required,max=200"`
	Context   string `json:"context,omitempty" validate:"max=2000"`
	Variant   string `json:"variant,omitempty" validate:"omitempty,oneof=single multi"`
	ItemCount int    `json:"item_count,omitempty" validate:"omitempty,min=2,max=10"`
}

func (d GenerateRequestDTO) ToModel() model.GenerationRequest {
	variant := model.Variant(d.Variant)
	if variant == "" {
		variant = model.VariantSingle
	}
	return model.GenerationRequest{
		Topic:     d.Topic,
		Context:   d.Context,
		Variant:   variant,
		ItemCount: d.ItemCount,
	}
}

// GenerateResponseDTO is returned by synchronous generation. Exactly one of
// Lesson or Path is set.
type GenerateResponseDTO struct {
	ID     string           `json:"id"`
	Kind   string           `json:"kind"`
	Lesson *model.Lesson    `json:"lesson,omitempty"`
	Path   *model.Path      `json:"path,omitempty"`
	Usage  model.TokenUsage `json:"usage"`
}

// JobResponseDTO is the public view of a generation job
type JobResponseDTO struct {
	ID          string                  `json:"id"`
	Status      string                  `json:"status"`
	Progress    int                     `json:"progress"`
	Request     model.GenerationRequest `json:"request"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	ResultID    string                  `json:"result_id,omitempty"`
	ResultKind  string                  `json:"result_kind,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

func NewJobResponse(job model.GenerationJob) JobResponseDTO {
	return JobResponseDTO{
		ID:          job.ID,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Request:     job.Request,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		ResultID:    job.ResultID,
		ResultKind:  string(job.ResultKind),
		Error:       job.Error,
	}
}

// JobListResponseDTO wraps a page of jobs, newest first
type JobListResponseDTO struct {
	Jobs []JobResponseDTO `json:"jobs"`
}

// JobNotificationDTO is one server-sent batch of newly completed jobs
type JobNotificationDTO struct {
	Jobs []JobResponseDTO `json:"jobs"`
}
