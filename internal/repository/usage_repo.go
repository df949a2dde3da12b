package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lessonforge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository stores per-subscriber usage records.
type UsageRepository interface {
	// GetUsage returns ErrNotFound when the subscriber has no record yet.
	GetUsage(ctx context.Context, subscriberID string) (*model.UsageRecord, error)
	// CreateUsage inserts rec unless a record already exists for the subscriber.
	CreateUsage(ctx context.Context, rec *model.UsageRecord) error
	// RolloverUsage replaces the record with next only if its period still ends at expectedPeriodEnd.
	// It reports whether the write happened.
	RolloverUsage(ctx context.Context, subscriberID string, expectedPeriodEnd time.Time, next *model.UsageRecord) (bool, error)
	// IncrementUnits adds one unit to the current period and to the lifetime total.
	IncrementUnits(ctx context.Context, subscriberID string) error
	// UpsertSubscription writes tier, status and period from the billing provider.
	// Units reset when the period start changes.
	UpsertSubscription(ctx context.Context, rec *model.UsageRecord) error
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) GetUsage(ctx context.Context, subscriberID string) (*model.UsageRecord, error) {
	const q = `
		SELECT subscriber_id, tier, status, period_start, period_end, units_used, lifetime_units, stripe_subscription_id
		FROM usage_records
		WHERE subscriber_id = $1
	`
	var rec model.UsageRecord
	var stripeID *string
	err := r.pool.QueryRow(ctx, q, subscriberID).Scan(
		&rec.SubscriberID,
		&rec.Tier,
		&rec.Status,
		&rec.PeriodStart,
		&rec.PeriodEnd,
		&rec.UnitsUsed,
		&rec.LifetimeUnits,
		&stripeID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching usage for subscriber %s: %w", subscriberID, err)
	}
	rec.StripeSubscriptionID = derefString(stripeID)
	return &rec, nil
}

func (r *usageRepo) CreateUsage(ctx context.Context, rec *model.UsageRecord) error {
	const q = `
		INSERT INTO usage_records (subscriber_id, tier, status, period_start, period_end, units_used, lifetime_units, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscriber_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, q,
		rec.SubscriberID, rec.Tier, rec.Status, rec.PeriodStart, rec.PeriodEnd,
		rec.UnitsUsed, rec.LifetimeUnits, nullIfEmpty(rec.StripeSubscriptionID),
	)
	if err != nil {
		return fmt.Errorf("creating usage for subscriber %s: %w", rec.SubscriberID, err)
	}
	return nil
}

func (r *usageRepo) RolloverUsage(ctx context.Context, subscriberID string, expectedPeriodEnd time.Time, next *model.UsageRecord) (bool, error) {
	const q = `
		UPDATE usage_records
		SET tier = $3,
			status = $4,
			period_start = $5,
			period_end = $6,
			units_used = 0,
			stripe_subscription_id = $7,
			updated_at = NOW()
		WHERE subscriber_id = $1
		  AND period_end = $2
	`
	tag, err := r.pool.Exec(ctx, q,
		subscriberID, expectedPeriodEnd, next.Tier, next.Status,
		next.PeriodStart, next.PeriodEnd, nullIfEmpty(next.StripeSubscriptionID),
	)
	if err != nil {
		return false, fmt.Errorf("rolling over usage for subscriber %s: %w", subscriberID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *usageRepo) IncrementUnits(ctx context.Context, subscriberID string) error {
	const q = `
		UPDATE usage_records
		SET units_used = units_used + 1,
			lifetime_units = lifetime_units + 1,
			updated_at = NOW()
		WHERE subscriber_id = $1
	`
	tag, err := r.pool.Exec(ctx, q, subscriberID)
	if err != nil {
		return fmt.Errorf("incrementing usage for subscriber %s: %w", subscriberID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *usageRepo) UpsertSubscription(ctx context.Context, rec *model.UsageRecord) error {
	const q = `
		INSERT INTO usage_records (subscriber_id, tier, status, period_start, period_end, stripe_subscription_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subscriber_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			units_used = CASE
				WHEN usage_records.period_start = EXCLUDED.period_start THEN usage_records.units_used
				ELSE 0
			END,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, q,
		rec.SubscriberID, rec.Tier, rec.Status, rec.PeriodStart, rec.PeriodEnd,
		nullIfEmpty(rec.StripeSubscriptionID),
	)
	if err != nil {
		return fmt.Errorf("upserting subscription for subscriber %s: %w", rec.SubscriberID, err)
	}
	return nil
}
