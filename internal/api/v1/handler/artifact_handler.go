package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"lessonforge/internal/api/v1/dto"
	"lessonforge/internal/repository"
	"lessonforge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ArtifactHandler handles community artifacts: ratings, publishing and cloning
type ArtifactHandler struct {
	ratingService service.RatingService
	validate      *validator.Validate
	logger        zerolog.Logger
}

func NewArtifactHandler(ratingService service.RatingService, validate *validator.Validate, logger zerolog.Logger) *ArtifactHandler {
	return &ArtifactHandler{ratingService: ratingService, validate: validate, logger: logger}
}

// RegisterRoutes mounts artifact routes
func (h *ArtifactHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /artifacts/{id}/rating", authMw(http.HandlerFunc(h.getRating)))
	mux.Handle("POST /artifacts/{id}/ratings", authMw(http.HandlerFunc(h.submitRating)))
	mux.Handle("GET /artifacts/{id}/ratings/me", authMw(http.HandlerFunc(h.getMyRating)))
	mux.Handle("POST /artifacts/{id}/publish", authMw(http.HandlerFunc(h.publish)))
	mux.Handle("PATCH /artifacts/{id}/visibility", authMw(http.HandlerFunc(h.setVisibility)))
	mux.Handle("POST /artifacts/{id}/clone", authMw(http.HandlerFunc(h.clone)))
}

// getRating godoc
// @Summary Get an artifact's rating summary
// @Tags artifacts
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} dto.RatingAggregateResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Artifact not found"
// @Router /artifacts/{id}/rating [get]
func (h *ArtifactHandler) getRating(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	artifact, err := h.ratingService.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to retrieve rating")
		return
	}
	if !artifact.IsPublic && artifact.CreatorID != userID {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewRatingAggregateResponse(artifact.ID, artifact.Aggregate))
}

// submitRating godoc
// @Summary Rate an artifact
// @Description Records the caller's 1-5 rating, replacing any earlier rating by the same caller, and returns the updated summary.
// @Tags artifacts
// @Accept json
// @Produce json
// @Param id path string true "Artifact ID"
// @Param rating body dto.RatingCreateDTO true "Rating"
// @Success 200 {object} dto.RatingAggregateResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Artifact not found"
// @Failure 409 {string} string "Could not complete the request, please retry"
// @Router /artifacts/{id}/ratings [post]
func (h *ArtifactHandler) submitRating(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req dto.RatingCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	artifactID := r.PathValue("id")
	agg, err := h.ratingService.Submit(r.Context(), userID, artifactID, req.Value, req.Comment)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to submit rating")
		return
	}
	writeJSON(w, http.StatusOK, dto.NewRatingAggregateResponse(artifactID, *agg))
}

// getMyRating godoc
// @Summary Get the caller's rating
// @Tags artifacts
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} dto.UserRatingResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 404 {string} string "Rating not found"
// @Router /artifacts/{id}/ratings/me [get]
func (h *ArtifactHandler) getMyRating(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	rating, err := h.ratingService.GetUserRating(r.Context(), userID, r.PathValue("id"))
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Rating not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to retrieve rating")
		return
	}
	writeJSON(w, http.StatusOK, dto.UserRatingResponseDTO{
		ArtifactID: rating.ArtifactID,
		Value:      rating.Value,
		Comment:    rating.Comment,
		UpdatedAt:  rating.UpdatedAt,
	})
}

// publish godoc
// @Summary Publish an artifact
// @Description Shares one of the caller's lessons or paths with the community. Publishing an already published artifact returns it unchanged.
// @Tags artifacts
// @Produce json
// @Param id path string true "Lesson or path ID"
// @Success 201 {object} dto.ArtifactResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 403 {string} string "Forbidden: you do not own this artifact"
// @Failure 404 {string} string "Artifact not found"
// @Router /artifacts/{id}/publish [post]
func (h *ArtifactHandler) publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	artifact, err := h.ratingService.Publish(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to publish artifact")
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewArtifactResponse(artifact))
}

// setVisibility godoc
// @Summary Change artifact visibility
// @Tags artifacts
// @Accept json
// @Param id path string true "Artifact ID"
// @Param visibility body dto.VisibilityUpdateDTO true "Visibility"
// @Success 204 "No Content"
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 403 {string} string "Forbidden: you do not own this artifact"
// @Failure 404 {string} string "Artifact not found"
// @Router /artifacts/{id}/visibility [patch]
func (h *ArtifactHandler) setVisibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req dto.VisibilityUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.ratingService.SetVisibility(r.Context(), userID, r.PathValue("id"), *req.IsPublic); err != nil {
		writeServiceError(w, h.logger, err, "Failed to update visibility")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clone godoc
// @Summary Clone a public artifact
// @Description Adds a public artifact to the caller's library. Cloning the same artifact twice counts once.
// @Tags artifacts
// @Produce json
// @Param id path string true "Artifact ID"
// @Success 200 {object} dto.CloneResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 403 {string} string "Forbidden: artifact is private"
// @Failure 404 {string} string "Artifact not found"
// @Router /artifacts/{id}/clone [post]
func (h *ArtifactHandler) clone(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	artifactID := r.PathValue("id")
	count, err := h.ratingService.Clone(r.Context(), userID, artifactID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to clone artifact")
		return
	}
	writeJSON(w, http.StatusOK, dto.CloneResponseDTO{ArtifactID: artifactID, CloneCount: count})
}
