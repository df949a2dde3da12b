package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

var testPriceTiers = map[string]model.Tier{
	"price_basic":   model.TierBasic,
	"price_premium": model.TierPremium,
}

// subscriptionRecorder is a ledger that keeps every applied subscription.
type subscriptionRecorder struct {
	*stubLedger
	mu      sync.Mutex
	applied []model.UsageRecord
}

func (r *subscriptionRecorder) ApplySubscription(_ context.Context, rec model.UsageRecord) error {
	r.mu.Lock()
	r.applied = append(r.applied, rec)
	r.mu.Unlock()
	return nil
}

func signedEvent(t *testing.T, eventType, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, eventType, object))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func subscriptionJSON(status, price string, cancelAtPeriodEnd bool, userID string) string {
	return fmt.Sprintf(`{
		"id": "sub_1",
		"object": "subscription",
		"status": %q,
		"cancel_at_period_end": %t,
		"metadata": {"user_id": %q},
		"items": {"object": "list", "data": [
			{"id": "si_1", "object": "subscription_item", "current_period_start": 1767225600, "current_period_end": 1769904000, "price": {"id": %q, "object": "price"}}
		]}
	}`, status, cancelAtPeriodEnd, userID, price)
}

func newBillingFixture() (*BillingService, *subscriptionRecorder) {
	rec := &subscriptionRecorder{stubLedger: allowAll()}
	svc := NewBillingService(rec, testWebhookSecret, testPriceTiers, clock.NewFake(ledgerEpoch), zerolog.Nop())
	return svc, rec
}

func TestBillingWebhookAppliesSubscription(t *testing.T) {
	svc, rec := newBillingFixture()
	payload, sig := signedEvent(t, "customer.subscription.updated", subscriptionJSON("active", "price_premium", false, "user-1"))

	require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
	require.Len(t, rec.applied, 1)
	got := rec.applied[0]
	assert.Equal(t, "user-1", got.SubscriberID)
	assert.Equal(t, model.TierPremium, got.Tier)
	assert.Equal(t, model.SubscriptionActive, got.Status)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), got.PeriodStart)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), got.PeriodEnd)
	assert.Equal(t, "sub_1", got.StripeSubscriptionID)
}

func TestBillingWebhookDeletedDowngradesToFree(t *testing.T) {
	svc, rec := newBillingFixture()
	payload, sig := signedEvent(t, "customer.subscription.deleted", subscriptionJSON("canceled", "price_basic", false, "user-1"))

	require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
	require.Len(t, rec.applied, 1)
	assert.Equal(t, model.TierFree, rec.applied[0].Tier)
	assert.Equal(t, model.SubscriptionActive, rec.applied[0].Status)
	assert.Equal(t, ledgerEpoch, rec.applied[0].PeriodStart)
}

func TestBillingWebhookRejectsBadSignature(t *testing.T) {
	svc, rec := newBillingFixture()
	payload, _ := signedEvent(t, "customer.subscription.updated", subscriptionJSON("active", "price_basic", false, "user-1"))

	err := svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidWebhook)
	assert.Empty(t, rec.applied)
}

func TestBillingWebhookIgnoresUnrelatedEvents(t *testing.T) {
	svc, rec := newBillingFixture()
	payload, sig := signedEvent(t, "invoice.created", `{"id":"in_1","object":"invoice"}`)

	require.NoError(t, svc.HandleWebhook(context.Background(), payload, sig))
	assert.Empty(t, rec.applied)
}

func TestBillingWebhookUnknownPrice(t *testing.T) {
	svc, _ := newBillingFixture()
	payload, sig := signedEvent(t, "customer.subscription.created", subscriptionJSON("active", "price_mystery", false, "user-1"))
	assert.ErrorIs(t, svc.HandleWebhook(context.Background(), payload, sig), ErrInvalidWebhook)
}

func TestSubscriptionStatusMapping(t *testing.T) {
	tests := []struct {
		status stripe.SubscriptionStatus
		cancel bool
		want   model.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, false, model.SubscriptionActive},
		{stripe.SubscriptionStatusTrialing, false, model.SubscriptionActive},
		{stripe.SubscriptionStatusActive, true, model.SubscriptionCanceled},
		{stripe.SubscriptionStatusPastDue, false, model.SubscriptionPastDue},
		{stripe.SubscriptionStatusUnpaid, false, model.SubscriptionPastDue},
		{stripe.SubscriptionStatusCanceled, false, model.SubscriptionCanceled},
	}
	for _, tt := range tests {
		got := subscriptionStatus(&stripe.Subscription{Status: tt.status, CancelAtPeriodEnd: tt.cancel})
		assert.Equal(t, tt.want, got, "status %s cancel_at_period_end=%t", tt.status, tt.cancel)
	}
}
