package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/model"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidWebhook is returned for payloads that fail signature checks or cannot be decoded.
var ErrInvalidWebhook = errors.New("invalid_webhook")

var errMissingSubscriber = errors.New("subscription has no user_id metadata")

// BillingService applies billing provider subscription events to the usage ledger.
type BillingService struct {
	ledger        UsageLedger
	webhookSecret string
	priceTiers    map[string]model.Tier
	clock         clock.Clock
	logger        zerolog.Logger
}

// NewBillingService creates a BillingService. priceTiers maps Stripe price IDs to tiers.
func NewBillingService(ledger UsageLedger, webhookSecret string, priceTiers map[string]model.Tier, clk clock.Clock, logger zerolog.Logger) *BillingService {
	return &BillingService{
		ledger:        ledger,
		webhookSecret: webhookSecret,
		priceTiers:    priceTiers,
		clock:         clk,
		logger:        logger.With().Str("service", "BillingService").Logger(),
	}
}

// HandleWebhook verifies and applies one webhook delivery. Events that do not
// concern subscriptions are acknowledged and ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	s.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		return nil
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Invalid subscription payload")
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	var rec model.UsageRecord
	if event.Type == "customer.subscription.deleted" {
		rec, err = s.freeRecord(&sub)
	} else {
		rec, err = subscriptionUpdate(&sub, s.priceTiers)
	}
	if errors.Is(err, errMissingSubscriber) {
		s.logger.Warn().Str("subscription_id", sub.ID).Msg("Subscription event without user_id metadata, ignoring")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	if err := s.ledger.ApplySubscription(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("user_id", rec.SubscriberID).Str("subscription_id", sub.ID).Msg("Failed to apply subscription")
		return fmt.Errorf("applying subscription %s: %w", sub.ID, err)
	}
	s.logger.Debug().Str("user_id", rec.SubscriberID).Str("subscription_id", sub.ID).Msg("Subscription event processed")
	return nil
}

// freeRecord moves the subscriber back to the free tier starting now.
func (s *BillingService) freeRecord(sub *stripe.Subscription) (model.UsageRecord, error) {
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return model.UsageRecord{}, errMissingSubscriber
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	return model.UsageRecord{
		SubscriberID: userID,
		Tier:         model.TierFree,
		Status:       model.SubscriptionActive,
		PeriodStart:  now,
		PeriodEnd:    model.NextPeriodEnd(now),
	}, nil
}

// subscriptionUpdate translates a Stripe subscription into the ledger's record.
func subscriptionUpdate(sub *stripe.Subscription, priceTiers map[string]model.Tier) (model.UsageRecord, error) {
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return model.UsageRecord{}, errMissingSubscriber
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return model.UsageRecord{}, fmt.Errorf("subscription %s has no items", sub.ID)
	}
	item := sub.Items.Data[0]
	if item.Price == nil {
		return model.UsageRecord{}, fmt.Errorf("subscription %s has no price", sub.ID)
	}
	tier, ok := priceTiers[item.Price.ID]
	if !ok {
		return model.UsageRecord{}, fmt.Errorf("unknown price %s on subscription %s", item.Price.ID, sub.ID)
	}

	return model.UsageRecord{
		SubscriberID:         userID,
		Tier:                 tier,
		Status:               subscriptionStatus(sub),
		PeriodStart:          time.Unix(item.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:            time.Unix(item.CurrentPeriodEnd, 0).UTC(),
		StripeSubscriptionID: sub.ID,
	}, nil
}

func subscriptionStatus(sub *stripe.Subscription) model.SubscriptionStatus {
	if sub.CancelAtPeriodEnd {
		return model.SubscriptionCanceled
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionCanceled
	default:
		return model.SubscriptionPastDue
	}
}
