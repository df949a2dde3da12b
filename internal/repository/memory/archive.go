package memory

import (
	"context"
	"sync"

	"lessonforge/internal/repository"
)

type Archive struct {
	mu      sync.RWMutex
	objects map[string]repository.ArchivedArtifact
}

func NewArchive() *Archive {
	return &Archive{objects: make(map[string]repository.ArchivedArtifact)}
}

var _ repository.ArtifactArchive = (*Archive)(nil)

func (a *Archive) Put(_ context.Context, artifact *repository.ArchivedArtifact) error {
	a.mu.Lock()
	a.objects[artifact.ID] = *artifact
	a.mu.Unlock()
	return nil
}

func (a *Archive) Get(_ context.Context, artifactID string) (*repository.ArchivedArtifact, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[artifactID]
	if !ok {
		return nil, repository.ErrArtifactNotFound
	}
	return &obj, nil
}
