package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"lessonforge/internal/model"
	"lessonforge/internal/repository"
)

// LibraryRepo keeps lessons and paths as JSON so callers never share slices with the store.
type LibraryRepo struct {
	mu      sync.RWMutex
	lessons map[string][]byte
	paths   map[string][]byte
}

func NewLibraryRepo() *LibraryRepo {
	return &LibraryRepo{
		lessons: make(map[string][]byte),
		paths:   make(map[string][]byte),
	}
}

var _ repository.LibraryRepository = (*LibraryRepo)(nil)

func (r *LibraryRepo) SaveLesson(_ context.Context, lesson *model.Lesson) error {
	raw, err := json.Marshal(lesson)
	if err != nil {
		return fmt.Errorf("marshaling lesson %s: %w", lesson.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lessons[lesson.ID]; ok {
		return fmt.Errorf("lesson %s already exists", lesson.ID)
	}
	r.lessons[lesson.ID] = raw
	return nil
}

func (r *LibraryRepo) SavePath(_ context.Context, path *model.Path) error {
	raw, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("marshaling path %s: %w", path.ID, err)
	}
	lessons := make(map[string][]byte, len(path.Lessons))
	for i := range path.Lessons {
		lraw, err := json.Marshal(path.Lessons[i])
		if err != nil {
			return fmt.Errorf("marshaling lesson %s: %w", path.Lessons[i].ID, err)
		}
		lessons[path.Lessons[i].ID] = lraw
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.paths[path.ID]; ok {
		return fmt.Errorf("path %s already exists", path.ID)
	}
	r.paths[path.ID] = raw
	for id, lraw := range lessons {
		r.lessons[id] = lraw
	}
	return nil
}

func (r *LibraryRepo) GetLesson(_ context.Context, lessonID string) (*model.Lesson, error) {
	r.mu.RLock()
	raw, ok := r.lessons[lessonID]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrArtifactNotFound
	}
	var lesson model.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return nil, fmt.Errorf("unmarshaling lesson %s: %w", lessonID, err)
	}
	return &lesson, nil
}

func (r *LibraryRepo) GetPath(_ context.Context, pathID string) (*model.Path, error) {
	r.mu.RLock()
	raw, ok := r.paths[pathID]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrArtifactNotFound
	}
	var path model.Path
	if err := json.Unmarshal(raw, &path); err != nil {
		return nil, fmt.Errorf("unmarshaling path %s: %w", pathID, err)
	}
	return &path, nil
}
