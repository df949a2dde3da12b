package service

import (
	"context"
	"encoding/json"
	"fmt"

	"lessonforge/internal/model"
	"lessonforge/internal/repository"

	"github.com/rs/zerolog"
)

// ArtifactWriter persists generation results to the library and, when configured, the archive.
type ArtifactWriter struct {
	library repository.LibraryRepository
	archive repository.ArtifactArchive
	logger  zerolog.Logger
}

// NewArtifactWriter creates a writer. archive may be nil.
func NewArtifactWriter(library repository.LibraryRepository, archive repository.ArtifactArchive, logger zerolog.Logger) *ArtifactWriter {
	return &ArtifactWriter{
		library: library,
		archive: archive,
		logger:  logger.With().Str("service", "ArtifactWriter").Logger(),
	}
}

// Save stores the result and returns the id and kind of the stored artifact.
func (w *ArtifactWriter) Save(ctx context.Context, res *GenerationResult) (string, model.ArtifactKind, error) {
	var (
		id      string
		ownerID string
		title   string
		content any
	)
	switch res.Kind {
	case model.ArtifactLesson:
		if err := w.library.SaveLesson(ctx, res.Lesson); err != nil {
			return "", "", err
		}
		id, ownerID, title, content = res.Lesson.ID, res.Lesson.OwnerID, res.Lesson.Title, res.Lesson
	case model.ArtifactPath:
		if err := w.library.SavePath(ctx, res.Path); err != nil {
			return "", "", err
		}
		id, ownerID, title, content = res.Path.ID, res.Path.OwnerID, res.Path.Title, res.Path
	default:
		return "", "", fmt.Errorf("unknown result kind %q", res.Kind)
	}

	if w.archive != nil {
		raw, err := json.Marshal(content)
		if err == nil {
			err = w.archive.Put(ctx, &repository.ArchivedArtifact{
				ID:      id,
				OwnerID: ownerID,
				Kind:    res.Kind,
				Title:   title,
				Content: raw,
			})
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("artifact_id", id).Msg("Failed to archive artifact")
		}
	}
	return id, res.Kind, nil
}
