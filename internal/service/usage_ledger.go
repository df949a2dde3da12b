package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lessonforge/internal/clock"
	"lessonforge/internal/metrics"
	"lessonforge/internal/model"
	"lessonforge/internal/repository"

	"github.com/rs/zerolog"
)

// Admission is the answer to whether a subscriber may start a generation.
type Admission struct {
	Allowed bool
	// Remaining is model.Unlimited for uncounted tiers.
	Remaining   int
	Tier        model.Tier
	PeriodEnd   time.Time
	UpgradeTier model.Tier
}

// UsageLedger enforces per-tier generation allowances.
type UsageLedger interface {
	CheckAdmission(ctx context.Context, subscriberID string, kind model.UnitKind) (*Admission, error)
	// Commit records one consumed unit. Call it only after a generation succeeded.
	Commit(ctx context.Context, subscriberID string) error
	// Usage returns the subscriber's current record, rolled over to the current period.
	Usage(ctx context.Context, subscriberID string) (*model.UsageRecord, error)
	// ApplySubscription stores a tier, status and period reported by the billing provider.
	ApplySubscription(ctx context.Context, rec model.UsageRecord) error
}

type usageLedger struct {
	repo    repository.UsageRepository
	tiers   model.TierTable
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewUsageLedger creates a new UsageLedger.
func NewUsageLedger(repo repository.UsageRepository, tiers model.TierTable, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) UsageLedger {
	return &usageLedger{
		repo:    repo,
		tiers:   tiers,
		clock:   clk,
		metrics: m,
		logger:  logger.With().Str("service", "UsageLedger").Logger(),
	}
}

func (l *usageLedger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Microsecond)
}

func (l *usageLedger) CheckAdmission(ctx context.Context, subscriberID string, kind model.UnitKind) (*Admission, error) {
	rec, err := l.load(ctx, subscriberID)
	if err != nil {
		l.metrics.AdmissionCheck("error")
		return nil, err
	}
	plan := l.effectivePlan(rec)
	adm := &Admission{Tier: plan.Tier, PeriodEnd: rec.PeriodEnd}

	switch {
	case !plan.Allows(kind):
		adm.UpgradeTier = l.upgradeFor(plan, rec, kind)
	case !plan.Counted():
		adm.Allowed = true
		adm.Remaining = model.Unlimited
	default:
		adm.Remaining = remainingUnits(plan, rec)
		adm.Allowed = adm.Remaining > 0
		if !adm.Allowed {
			adm.UpgradeTier = l.upgradeFor(plan, rec, kind)
		}
	}

	if adm.Allowed {
		l.metrics.AdmissionCheck("allowed")
	} else {
		l.metrics.AdmissionCheck("denied")
		l.logger.Info().
			Str("subscriber_id", subscriberID).
			Str("tier", string(plan.Tier)).
			Str("kind", string(kind)).
			Int("units_used", rec.UnitsUsed).
			Msg("Admission denied")
	}
	return adm, nil
}

func (l *usageLedger) Commit(ctx context.Context, subscriberID string) error {
	rec, err := l.load(ctx, subscriberID)
	if err != nil {
		return err
	}
	if !l.effectivePlan(rec).Counted() {
		return nil
	}
	if err := l.repo.IncrementUnits(ctx, subscriberID); err != nil {
		return fmt.Errorf("committing unit for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

func (l *usageLedger) Usage(ctx context.Context, subscriberID string) (*model.UsageRecord, error) {
	return l.load(ctx, subscriberID)
}

func (l *usageLedger) ApplySubscription(ctx context.Context, rec model.UsageRecord) error {
	if _, ok := l.tiers.Plan(rec.Tier); !ok {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, rec.Tier)
	}
	if !rec.PeriodEnd.After(rec.PeriodStart) {
		return fmt.Errorf("%w: period end must follow period start", ErrInvalidRequest)
	}
	rec.PeriodStart = rec.PeriodStart.UTC().Truncate(time.Microsecond)
	rec.PeriodEnd = rec.PeriodEnd.UTC().Truncate(time.Microsecond)
	if err := l.repo.UpsertSubscription(ctx, &rec); err != nil {
		return err
	}
	l.logger.Info().
		Str("subscriber_id", rec.SubscriberID).
		Str("tier", string(rec.Tier)).
		Str("status", string(rec.Status)).
		Time("period_end", rec.PeriodEnd).
		Msg("Subscription applied")
	return nil
}

// load returns the subscriber's record, creating a free one on first contact and
// rolling it forward when the billing period has elapsed.
func (l *usageLedger) load(ctx context.Context, subscriberID string) (*model.UsageRecord, error) {
	rec, err := l.repo.GetUsage(ctx, subscriberID)
	if errors.Is(err, repository.ErrNotFound) {
		now := l.now()
		fresh := &model.UsageRecord{
			SubscriberID: subscriberID,
			Tier:         model.TierFree,
			Status:       model.SubscriptionActive,
			PeriodStart:  now,
			PeriodEnd:    model.NextPeriodEnd(now),
		}
		if err := l.repo.CreateUsage(ctx, fresh); err != nil {
			return nil, err
		}
		rec, err = l.repo.GetUsage(ctx, subscriberID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading usage for subscriber %s: %w", subscriberID, err)
	}

	now := l.now()
	if now.Before(rec.PeriodEnd) {
		return rec, nil
	}
	next := rollover(*rec, now)
	applied, err := l.repo.RolloverUsage(ctx, subscriberID, rec.PeriodEnd, &next)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another request rolled the period over first.
		rec, err = l.repo.GetUsage(ctx, subscriberID)
		if err != nil {
			return nil, fmt.Errorf("reloading usage for subscriber %s: %w", subscriberID, err)
		}
		return rec, nil
	}
	l.logger.Debug().
		Str("subscriber_id", subscriberID).
		Time("period_start", next.PeriodStart).
		Time("period_end", next.PeriodEnd).
		Msg("Usage period rolled over")
	return &next, nil
}

// rollover advances rec by whole periods until now falls inside one and resets the count.
// A canceled subscription that reached its period end falls back to the free tier.
func rollover(rec model.UsageRecord, now time.Time) model.UsageRecord {
	start, end := rec.PeriodStart, rec.PeriodEnd
	for !now.Before(end) {
		start = end
		end = model.NextPeriodEnd(end)
	}
	rec.PeriodStart = start
	rec.PeriodEnd = end
	rec.UnitsUsed = 0
	if rec.Status == model.SubscriptionCanceled {
		rec.Tier = model.TierFree
		rec.Status = model.SubscriptionActive
		rec.StripeSubscriptionID = ""
	}
	return rec
}

// effectivePlan is the plan the record is entitled to right now. Past-due
// subscriptions and unknown tiers are treated as free.
func (l *usageLedger) effectivePlan(rec *model.UsageRecord) model.TierPlan {
	tier := rec.Tier
	if rec.Status == model.SubscriptionPastDue {
		tier = model.TierFree
	}
	plan, ok := l.tiers.Plan(tier)
	if !ok {
		l.logger.Warn().Str("subscriber_id", rec.SubscriberID).Str("tier", string(rec.Tier)).Msg("Unknown tier, treating as free")
		plan, _ = l.tiers.Plan(model.TierFree)
	}
	return plan
}

func remainingUnits(plan model.TierPlan, rec *model.UsageRecord) int {
	remaining := plan.MonthlyUnits - rec.UnitsUsed
	if trial := plan.TrialUnits - rec.LifetimeUnits; trial > remaining {
		remaining = trial
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// upgradeFor suggests the lowest-ranked tier that would admit the request.
func (l *usageLedger) upgradeFor(current model.TierPlan, rec *model.UsageRecord, kind model.UnitKind) model.Tier {
	for _, p := range l.tiers.Above(current.Tier) {
		if !p.Allows(kind) {
			continue
		}
		if !p.Counted() || p.MonthlyUnits > rec.UnitsUsed {
			return p.Tier
		}
	}
	return ""
}
