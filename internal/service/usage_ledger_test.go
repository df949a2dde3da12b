package service

import (
	"context"
	"testing"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/model"
	"lessonforge/internal/repository/memory"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerEpoch = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (UsageLedger, *memory.UsageRepo, *clock.Fake) {
	t.Helper()
	repo := memory.NewUsageRepo()
	clk := clock.NewFake(ledgerEpoch)
	return NewUsageLedger(repo, model.DefaultTierTable(), clk, nil, zerolog.Nop()), repo, clk
}

func seedUsage(repo *memory.UsageRepo, id string, tier model.Tier, status model.SubscriptionStatus, used, lifetime int) {
	repo.Put(model.UsageRecord{
		SubscriberID:  id,
		Tier:          tier,
		Status:        status,
		PeriodStart:   ledgerEpoch.AddDate(0, 0, -5),
		PeriodEnd:     model.NextPeriodEnd(ledgerEpoch.AddDate(0, 0, -5)),
		UnitsUsed:     used,
		LifetimeUnits: lifetime,
	})
}

func TestBasicTierLimitAndRollover(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	ctx := context.Background()
	seedUsage(repo, "sub-basic", model.TierBasic, model.SubscriptionActive, 10, 10)

	adm, err := ledger.CheckAdmission(ctx, "sub-basic", model.UnitLesson)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 0, adm.Remaining)
	assert.Equal(t, model.TierPremium, adm.UpgradeTier)

	clk.Set(adm.PeriodEnd.Add(time.Minute))

	adm, err = ledger.CheckAdmission(ctx, "sub-basic", model.UnitLesson)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 10, adm.Remaining)

	rec, err := ledger.Usage(ctx, "sub-basic")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.UnitsUsed)
	assert.True(t, clk.Now().Before(rec.PeriodEnd))
	assert.False(t, clk.Now().Before(rec.PeriodStart))
}

func TestRolloverSkipsSeveralElapsedPeriods(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	seedUsage(repo, "sub", model.TierBasic, model.SubscriptionActive, 4, 4)

	clk.Advance(95 * 24 * time.Hour)

	rec, err := ledger.Usage(context.Background(), "sub")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.UnitsUsed)
	assert.Equal(t, 4, rec.LifetimeUnits)
	assert.True(t, clk.Now().Before(rec.PeriodEnd))
	assert.False(t, clk.Now().Before(rec.PeriodStart))
	assert.Equal(t, model.NextPeriodEnd(rec.PeriodStart), rec.PeriodEnd)
}

func TestFreeTierTrialIsOneTime(t *testing.T) {
	ledger, _, clk := newTestLedger(t)
	ctx := context.Background()

	adm, err := ledger.CheckAdmission(ctx, "newcomer", model.UnitLesson)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, model.TierFree, adm.Tier)
	assert.Equal(t, 1, adm.Remaining)

	require.NoError(t, ledger.Commit(ctx, "newcomer"))

	adm, err = ledger.CheckAdmission(ctx, "newcomer", model.UnitLesson)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, model.TierBasic, adm.UpgradeTier)

	clk.Advance(40 * 24 * time.Hour)
	adm, err = ledger.CheckAdmission(ctx, "newcomer", model.UnitLesson)
	require.NoError(t, err)
	assert.False(t, adm.Allowed, "the trial unit does not come back with a new period")
}

func TestFreeTierCannotGeneratePaths(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	adm, err := ledger.CheckAdmission(context.Background(), "newcomer", model.UnitPath)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, model.TierBasic, adm.UpgradeTier)
}

func TestPremiumIsUncounted(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	seedUsage(repo, "vip", model.TierPremium, model.SubscriptionActive, 0, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Commit(ctx, "vip"))
	}
	adm, err := ledger.CheckAdmission(ctx, "vip", model.UnitPath)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, model.Unlimited, adm.Remaining)

	rec, err := ledger.Usage(ctx, "vip")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.UnitsUsed)
}

func TestPastDueEvaluatesAsFree(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	seedUsage(repo, "late", model.TierPremium, model.SubscriptionPastDue, 0, 3)

	adm, err := ledger.CheckAdmission(context.Background(), "late", model.UnitLesson)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, model.TierFree, adm.Tier)
}

func TestCanceledSubscriptionDowngradesAtPeriodEnd(t *testing.T) {
	ledger, repo, clk := newTestLedger(t)
	ctx := context.Background()
	seedUsage(repo, "leaving", model.TierBasic, model.SubscriptionCanceled, 2, 2)

	adm, err := ledger.CheckAdmission(ctx, "leaving", model.UnitPath)
	require.NoError(t, err)
	assert.True(t, adm.Allowed, "canceled subscriptions keep their tier until the period ends")

	clk.Set(adm.PeriodEnd)
	rec, err := ledger.Usage(ctx, "leaving")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, rec.Tier)
	assert.Equal(t, model.SubscriptionActive, rec.Status)
}

func TestApplySubscription(t *testing.T) {
	ledger, repo, _ := newTestLedger(t)
	ctx := context.Background()
	seedUsage(repo, "upgrader", model.TierFree, model.SubscriptionActive, 1, 1)

	start := ledgerEpoch
	err := ledger.ApplySubscription(ctx, model.UsageRecord{
		SubscriberID: "upgrader",
		Tier:         model.TierBasic,
		Status:       model.SubscriptionActive,
		PeriodStart:  start,
		PeriodEnd:    model.NextPeriodEnd(start),
	})
	require.NoError(t, err)

	rec, err := ledger.Usage(ctx, "upgrader")
	require.NoError(t, err)
	assert.Equal(t, model.TierBasic, rec.Tier)
	assert.Equal(t, 0, rec.UnitsUsed)
	assert.Equal(t, 1, rec.LifetimeUnits)

	err = ledger.ApplySubscription(ctx, model.UsageRecord{SubscriberID: "upgrader", Tier: "gold", PeriodStart: start, PeriodEnd: start.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
