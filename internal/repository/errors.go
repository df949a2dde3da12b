package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a usage record or job does not exist.
	ErrNotFound = errors.New("not_found")
	// ErrArtifactNotFound is returned when a lesson, path or community artifact does not exist.
	ErrArtifactNotFound = errors.New("artifact_not_found")
	// ErrArtifactPrivate is returned when cloning an artifact that is not public.
	ErrArtifactPrivate = errors.New("artifact_private")
	// ErrStaleWrite is returned when a job's stored status no longer matches the expected one.
	ErrStaleWrite = errors.New("stale_write")
	// ErrTxConflict is returned when a serializable transaction kept conflicting after retries.
	ErrTxConflict = errors.New("transaction_conflict")
)

// isRetryable reports whether a Postgres error is a serialization failure or deadlock.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
