// Package memory provides in-process implementations of the repository
// interfaces for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"lessonforge/internal/model"
	"lessonforge/internal/repository"
)

type UsageRepo struct {
	mu      sync.Mutex
	records map[string]model.UsageRecord
}

func NewUsageRepo() *UsageRepo {
	return &UsageRepo{records: make(map[string]model.UsageRecord)}
}

var _ repository.UsageRepository = (*UsageRepo)(nil)

func (r *UsageRepo) GetUsage(_ context.Context, subscriberID string) (*model.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[subscriberID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r *UsageRepo) CreateUsage(_ context.Context, rec *model.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.SubscriberID]; !ok {
		r.records[rec.SubscriberID] = *rec
	}
	return nil
}

func (r *UsageRepo) RolloverUsage(_ context.Context, subscriberID string, expectedPeriodEnd time.Time, next *model.UsageRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[subscriberID]
	if !ok || !cur.PeriodEnd.Equal(expectedPeriodEnd) {
		return false, nil
	}
	cur.Tier = next.Tier
	cur.Status = next.Status
	cur.PeriodStart = next.PeriodStart
	cur.PeriodEnd = next.PeriodEnd
	cur.UnitsUsed = 0
	cur.StripeSubscriptionID = next.StripeSubscriptionID
	r.records[subscriberID] = cur
	return true, nil
}

func (r *UsageRepo) IncrementUnits(_ context.Context, subscriberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[subscriberID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.UnitsUsed++
	cur.LifetimeUnits++
	r.records[subscriberID] = cur
	return nil
}

func (r *UsageRepo) UpsertSubscription(_ context.Context, rec *model.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[rec.SubscriberID]
	if !ok {
		next := *rec
		next.UnitsUsed = 0
		next.LifetimeUnits = 0
		r.records[rec.SubscriberID] = next
		return nil
	}
	if !cur.PeriodStart.Equal(rec.PeriodStart) {
		cur.UnitsUsed = 0
	}
	cur.Tier = rec.Tier
	cur.Status = rec.Status
	cur.PeriodStart = rec.PeriodStart
	cur.PeriodEnd = rec.PeriodEnd
	cur.StripeSubscriptionID = rec.StripeSubscriptionID
	r.records[rec.SubscriberID] = cur
	return nil
}

// Put replaces the stored record as is. It is meant for seeding.
func (r *UsageRepo) Put(rec model.UsageRecord) {
	r.mu.Lock()
	r.records[rec.SubscriberID] = rec
	r.mu.Unlock()
}
