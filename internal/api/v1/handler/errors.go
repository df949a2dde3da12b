package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"lessonforge/internal/generation"
	"lessonforge/internal/middleware"
	"lessonforge/internal/repository"
	"lessonforge/internal/service"

	"github.com/rs/zerolog"
)

// writeServiceError maps a service error onto a status code and a message the
// subscriber can act on. Unclassified errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	var denied *service.AdmissionDeniedError
	switch {
	case errors.As(err, &denied):
		http.Error(w, service.PublicMessage(err), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNotOwner):
		http.Error(w, "Forbidden: you do not own this artifact", http.StatusForbidden)
	case errors.Is(err, repository.ErrArtifactPrivate):
		http.Error(w, "Forbidden: artifact is private", http.StatusForbidden)
	case errors.Is(err, service.ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNotFoundCouldNotMigrate),
		errors.Is(err, repository.ErrArtifactNotFound),
		errors.Is(err, repository.ErrNotFound):
		http.Error(w, "Artifact not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrTxConflict):
		http.Error(w, "Could not complete the request, please retry", http.StatusConflict)
	case errors.Is(err, generation.ErrContractViolation):
		http.Error(w, service.PublicMessage(err), http.StatusBadGateway)
	case errors.Is(err, generation.ErrProviderUnavailable):
		http.Error(w, service.PublicMessage(err), http.StatusServiceUnavailable)
	default:
		logger.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// userIDFrom reads the authenticated user, writing 401 when it is missing.
func userIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}
