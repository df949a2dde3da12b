package handler

import (
	"net/http"

	"lessonforge/internal/api/v1/dto"
	"lessonforge/internal/model"
	"lessonforge/internal/service"

	"github.com/rs/zerolog"
)

// UsageHandler reports generation allowances
type UsageHandler struct {
	ledger service.UsageLedger
	logger zerolog.Logger
}

func NewUsageHandler(ledger service.UsageLedger, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{ledger: ledger, logger: logger}
}

// RegisterRoutes mounts usage routes
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /usage", authMw(http.HandlerFunc(h.getUsage)))
}

// getUsage godoc
// @Summary Get usage
// @Description Returns the caller's tier, billing period and remaining generations.
// @Tags usage
// @Produce json
// @Success 200 {object} dto.UsageResponseDTO
// @Failure 401 {string} string "Unauthorized: User ID not found in context"
// @Failure 500 {string} string "Failed to load usage"
// @Router /usage [get]
func (h *UsageHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	rec, err := h.ledger.Usage(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load usage")
		return
	}
	lesson, err := h.ledger.CheckAdmission(r.Context(), userID, model.UnitLesson)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load usage")
		return
	}
	path, err := h.ledger.CheckAdmission(r.Context(), userID, model.UnitPath)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load usage")
		return
	}

	upgrade := lesson.UpgradeTier
	if upgrade == "" {
		upgrade = path.UpgradeTier
	}
	writeJSON(w, http.StatusOK, dto.UsageResponseDTO{
		Tier:            string(lesson.Tier),
		Status:          string(rec.Status),
		PeriodStart:     rec.PeriodStart,
		PeriodEnd:       rec.PeriodEnd,
		UnitsUsed:       rec.UnitsUsed,
		Remaining:       lesson.Remaining,
		CanGenerate:     lesson.Allowed,
		CanGeneratePath: path.Allowed,
		UpgradeTier:     string(upgrade),
	})
}
