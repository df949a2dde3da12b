package handler

import (
	"errors"
	"io"
	"net/http"

	"lessonforge/internal/service"

	"github.com/rs/zerolog"
)

// maxWebhookBytes matches the largest payload Stripe sends.
const maxWebhookBytes = 65536

// BillingHandler receives billing provider webhooks
type BillingHandler struct {
	billing *service.BillingService
	logger  zerolog.Logger
}

func NewBillingHandler(billing *service.BillingService, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, logger: logger}
}

// RegisterRoutes mounts the webhook route. It is authenticated by signature, not JWT.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.handleWebhook)
}

// handleWebhook godoc
// @Summary Stripe webhook
// @Description Applies subscription lifecycle events to the subscriber's usage record.
// @Tags billing
// @Accept json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 "OK"
// @Failure 400 {string} string "signature verification failed"
// @Failure 500 {string} string "failed to process webhook"
// @Router /webhooks/stripe [post]
func (h *BillingHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	err = h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, service.ErrInvalidWebhook):
		http.Error(w, "signature verification failed", http.StatusBadRequest)
	default:
		h.logger.Error().Err(err).Msg("Failed to process Stripe webhook")
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
	}
}
