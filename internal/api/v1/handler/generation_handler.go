package handler

import (
	"encoding/json"
	"net/http"

	"lessonforge/internal/api/v1/dto"
	"lessonforge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// GenerationHandler runs generations inside the request
type GenerationHandler struct {
	orchestrator service.GenerationOrchestrator
	writer       *service.ArtifactWriter
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewGenerationHandler(orchestrator service.GenerationOrchestrator, writer *service.ArtifactWriter, validate *validator.Validate, logger zerolog.Logger) *GenerationHandler {
	return &GenerationHandler{
		orchestrator: orchestrator,
		writer:       writer,
		validate:     validate,
		logger:       logger,
	}
}

// RegisterRoutes mounts generation routes
func (h *GenerationHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /lessons/generate", authMw(http.HandlerFunc(h.generate)))
}

// generate godoc
// @Summary Generate a lesson or path
// @Description Generates content while the request is open and saves it to the caller's library. Use POST /jobs for detached generation.
// @Tags generation
// @Accept json
// @Produce json
// @Param request body dto.GenerateRequestDTO true "Generation request"
// @Success 201 {object} dto.GenerateResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 402 {string} string "Usage limit reached"
// @Failure 502 {string} string "The generated content was malformed"
// @Failure 503 {string} string "The generation service is temporarily unavailable"
// @Router /lessons/generate [post]
func (h *GenerationHandler) generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req dto.GenerateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.Generate(r.Context(), userID, req.ToModel(), nil)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to generate content")
		return
	}
	id, kind, err := h.writer.Save(r.Context(), res)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to save generated content")
		return
	}
	writeJSON(w, http.StatusCreated, dto.GenerateResponseDTO{
		ID:     id,
		Kind:   string(kind),
		Lesson: res.Lesson,
		Path:   res.Path,
		Usage:  res.Usage,
	})
}
