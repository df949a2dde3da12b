package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lessonforge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LibraryRepository stores a subscriber's generated lessons and paths.
type LibraryRepository interface {
	SaveLesson(ctx context.Context, lesson *model.Lesson) error
	// SavePath stores the path and all of its lessons atomically.
	SavePath(ctx context.Context, path *model.Path) error
	// GetLesson returns ErrArtifactNotFound when no lesson has the id.
	GetLesson(ctx context.Context, lessonID string) (*model.Lesson, error)
	// GetPath returns ErrArtifactNotFound when no path has the id.
	GetPath(ctx context.Context, pathID string) (*model.Path, error)
}

type libraryRepo struct {
	pool *pgxpool.Pool
}

// NewLibraryRepo creates a new LibraryRepository.
func NewLibraryRepo(pool *pgxpool.Pool) LibraryRepository {
	return &libraryRepo{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertLesson(ctx context.Context, db execer, lesson *model.Lesson) error {
	content, err := json.Marshal(lesson)
	if err != nil {
		return fmt.Errorf("marshaling lesson: %w", err)
	}
	const q = `
		INSERT INTO lessons (id, owner_id, path_id, position, topic, title, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
	`
	_, err = db.Exec(ctx, q,
		lesson.ID, lesson.OwnerID, nullIfEmpty(lesson.PathID), lesson.Position,
		lesson.Topic, lesson.Title, string(content), lesson.CreatedAt,
	)
	return err
}

func (r *libraryRepo) SaveLesson(ctx context.Context, lesson *model.Lesson) error {
	if err := insertLesson(ctx, r.pool, lesson); err != nil {
		return fmt.Errorf("saving lesson %s: %w", lesson.ID, err)
	}
	return nil
}

func (r *libraryRepo) SavePath(ctx context.Context, path *model.Path) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction for path %s: %w", path.ID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const q = `
		INSERT INTO paths (id, owner_id, topic, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, q, path.ID, path.OwnerID, path.Topic, path.Title, path.Description, path.CreatedAt); err != nil {
		return fmt.Errorf("inserting path %s: %w", path.ID, err)
	}
	for i := range path.Lessons {
		if err := insertLesson(ctx, tx, &path.Lessons[i]); err != nil {
			return fmt.Errorf("inserting lesson %d of path %s: %w", i+1, path.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing path %s: %w", path.ID, err)
	}
	return nil
}

func (r *libraryRepo) GetLesson(ctx context.Context, lessonID string) (*model.Lesson, error) {
	const q = `SELECT content FROM lessons WHERE id = $1`
	var raw []byte
	err := r.pool.QueryRow(ctx, q, lessonID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching lesson %s: %w", lessonID, err)
	}
	var lesson model.Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return nil, fmt.Errorf("unmarshaling lesson %s: %w", lessonID, err)
	}
	return &lesson, nil
}

func (r *libraryRepo) GetPath(ctx context.Context, pathID string) (*model.Path, error) {
	const pathQ = `
		SELECT id, owner_id, topic, title, description, created_at
		FROM paths
		WHERE id = $1
	`
	var p model.Path
	err := r.pool.QueryRow(ctx, pathQ, pathID).Scan(&p.ID, &p.OwnerID, &p.Topic, &p.Title, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching path %s: %w", pathID, err)
	}

	const lessonsQ = `SELECT content FROM lessons WHERE path_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, lessonsQ, pathID)
	if err != nil {
		return nil, fmt.Errorf("fetching lessons for path %s: %w", pathID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning lesson for path %s: %w", pathID, err)
		}
		var lesson model.Lesson
		if err := json.Unmarshal(raw, &lesson); err != nil {
			return nil, fmt.Errorf("unmarshaling lesson for path %s: %w", pathID, err)
		}
		p.Lessons = append(p.Lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lessons for path %s: %w", pathID, err)
	}
	return &p, nil
}
