package memory

import (
	"context"
	"sync"

	"lessonforge/internal/model"
	"lessonforge/internal/repository"
)

type ratingKey struct {
	userID     string
	artifactID string
}

// RatingRepo serializes rating transactions per artifact and applies their writes on success only.
type RatingRepo struct {
	mu        sync.RWMutex
	artifacts map[string]model.CommunityArtifact
	ratings   map[ratingKey]model.Rating
	clones    map[ratingKey]struct{}

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewRatingRepo() *RatingRepo {
	return &RatingRepo{
		artifacts: make(map[string]model.CommunityArtifact),
		ratings:   make(map[ratingKey]model.Rating),
		clones:    make(map[ratingKey]struct{}),
		locks:     make(map[string]*sync.Mutex),
	}
}

var _ repository.RatingRepository = (*RatingRepo)(nil)

func (r *RatingRepo) lockFor(artifactID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[artifactID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[artifactID] = l
	}
	return l
}

func (r *RatingRepo) GetArtifact(_ context.Context, artifactID string) (*model.CommunityArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[artifactID]
	if !ok {
		return nil, repository.ErrArtifactNotFound
	}
	out := a
	out.Aggregate = a.Aggregate.Clone()
	return &out, nil
}

func (r *RatingRepo) InsertArtifact(_ context.Context, artifact *model.CommunityArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.artifacts[artifact.ID]; ok {
		return nil
	}
	a := *artifact
	a.Aggregate = artifact.Aggregate.Clone()
	r.artifacts[artifact.ID] = a
	return nil
}

// DeleteArtifact removes an artifact and its ratings.
func (r *RatingRepo) DeleteArtifact(artifactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.artifacts, artifactID)
	for k := range r.ratings {
		if k.artifactID == artifactID {
			delete(r.ratings, k)
		}
	}
}

func (r *RatingRepo) RunRatingTx(ctx context.Context, artifactID string, fn func(tx repository.RatingTx) error) error {
	lock := r.lockFor(artifactID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	a, ok := r.artifacts[artifactID]
	r.mu.RUnlock()
	if !ok {
		return repository.ErrArtifactNotFound
	}

	tx := &memRatingTx{repo: r, artifactID: artifactID, agg: a.Aggregate.Clone(), staged: map[string]model.Rating{}}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.artifacts[artifactID]
	if !ok {
		return repository.ErrArtifactNotFound
	}
	for userID, rating := range tx.staged {
		r.ratings[ratingKey{userID: userID, artifactID: artifactID}] = rating
	}
	if tx.aggDirty {
		cur.Aggregate = tx.agg.Clone()
		r.artifacts[artifactID] = cur
	}
	return nil
}

func (r *RatingRepo) GetRating(_ context.Context, userID, artifactID string) (*model.Rating, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rating, ok := r.ratings[ratingKey{userID: userID, artifactID: artifactID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rating, nil
}

func (r *RatingRepo) SetVisibility(_ context.Context, artifactID, creatorID string, public bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[artifactID]
	if !ok || a.CreatorID != creatorID {
		return repository.ErrArtifactNotFound
	}
	a.IsPublic = public
	r.artifacts[artifactID] = a
	return nil
}

func (r *RatingRepo) AddClone(_ context.Context, userID, artifactID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artifacts[artifactID]
	if !ok {
		return 0, repository.ErrArtifactNotFound
	}
	if !a.IsPublic {
		return 0, repository.ErrArtifactPrivate
	}
	key := ratingKey{userID: userID, artifactID: artifactID}
	if _, done := r.clones[key]; !done {
		r.clones[key] = struct{}{}
		a.CloneCount++
		r.artifacts[artifactID] = a
	}
	return a.CloneCount, nil
}

type memRatingTx struct {
	repo       *RatingRepo
	artifactID string
	agg        model.RatingAggregate
	aggDirty   bool
	staged     map[string]model.Rating
}

func (t *memRatingTx) Aggregate(context.Context) (model.RatingAggregate, error) {
	return t.agg.Clone(), nil
}

func (t *memRatingTx) PriorRating(_ context.Context, userID string) (*model.Rating, error) {
	if rating, ok := t.staged[userID]; ok {
		return &rating, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	rating, ok := t.repo.ratings[ratingKey{userID: userID, artifactID: t.artifactID}]
	if !ok {
		return nil, nil
	}
	return &rating, nil
}

func (t *memRatingTx) SaveRating(_ context.Context, rating *model.Rating) error {
	r := *rating
	r.ArtifactID = t.artifactID
	t.staged[rating.UserID] = r
	return nil
}

func (t *memRatingTx) SaveAggregate(_ context.Context, agg model.RatingAggregate) error {
	t.agg = agg.Clone()
	t.aggDirty = true
	return nil
}
