package service

import (
	"errors"
	"fmt"

	"lessonforge/internal/generation"
	"lessonforge/internal/model"
	"lessonforge/internal/repository"
)

var (
	ErrAdmissionDenied = errors.New("admission_denied")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrInvalidRating   = errors.New("invalid_rating")
	ErrNotOwner        = errors.New("not_owner")
	ErrJobNotFound     = errors.New("job_not_found")
	// ErrNotFoundCouldNotMigrate is returned when a rated artifact exists neither in the
	// community collection nor in any legacy location.
	ErrNotFoundCouldNotMigrate = errors.New("artifact_not_found_could_not_migrate")
)

// AdmissionDeniedError carries the upgrade suggestion for a refused generation.
type AdmissionDeniedError struct {
	Tier        model.Tier
	Kind        model.UnitKind
	UpgradeTier model.Tier
}

func (e *AdmissionDeniedError) Error() string {
	if e.UpgradeTier != "" {
		return fmt.Sprintf("%s generation not available on %s tier, upgrade to %s", e.Kind, e.Tier, e.UpgradeTier)
	}
	return fmt.Sprintf("%s generation not available on %s tier", e.Kind, e.Tier)
}

func (e *AdmissionDeniedError) Unwrap() error {
	return ErrAdmissionDenied
}

// PathGenerationError reports a path that failed part way. Completed holds the
// lessons generated before the failure; FailedIndex is 1-based.
type PathGenerationError struct {
	Completed   []model.Lesson
	FailedIndex int
	Total       int
	Err         error
}

func (e *PathGenerationError) Error() string {
	return fmt.Sprintf("path generation failed at lesson %d of %d after %d completed: %v",
		e.FailedIndex, e.Total, len(e.Completed), e.Err)
}

func (e *PathGenerationError) Unwrap() error {
	return e.Err
}

// PublicMessage renders err as text safe to show the subscriber.
func PublicMessage(err error) string {
	var denied *AdmissionDeniedError
	var partial *PathGenerationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &partial):
		return fmt.Sprintf("Generated %d of %d lessons before failing. %s",
			len(partial.Completed), partial.Total, PublicMessage(partial.Err))
	case errors.As(err, &denied):
		if denied.UpgradeTier != "" {
			return fmt.Sprintf("Usage limit reached. Upgrade to %s to continue.", denied.UpgradeTier)
		}
		return "Usage limit reached for this billing period."
	case errors.Is(err, generation.ErrContractViolation):
		return "The generated content was malformed. Please try again or rephrase the topic."
	case errors.Is(err, generation.ErrProviderUnavailable):
		return "The generation service is temporarily unavailable. Please try again shortly."
	case errors.Is(err, ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, repository.ErrArtifactNotFound):
		return "The requested content could not be found."
	default:
		return "Generation failed unexpectedly."
	}
}
