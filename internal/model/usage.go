package model

import (
	"cmp"
	"slices"
	"time"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// UnitKind is the kind of generation a unit of usage is spent on.
type UnitKind string

const (
	UnitLesson UnitKind = "lesson"
	UnitPath   UnitKind = "path"
)

// Unlimited marks an uncounted monthly allotment.
const Unlimited = -1

// UsageRecord tracks one subscriber's consumption within the current billing period.
type UsageRecord struct {
	SubscriberID         string             `db:"subscriber_id" json:"subscriber_id"`
	Tier                 Tier               `db:"tier" json:"tier"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	PeriodStart          time.Time          `db:"period_start" json:"period_start"`
	PeriodEnd            time.Time          `db:"period_end" json:"period_end"`
	UnitsUsed            int                `db:"units_used" json:"units_used"`
	LifetimeUnits        int                `db:"lifetime_units" json:"lifetime_units"`
	StripeSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
}

// NextPeriodEnd returns the end of the billing period that starts at start.
func NextPeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// TierPlan describes the allowance of one tier.
type TierPlan struct {
	Tier         Tier
	Name         string
	Rank         int
	MonthlyUnits int
	// TrialUnits are granted once over the lifetime of a subscriber, on top of MonthlyUnits.
	TrialUnits int
	Kinds      []UnitKind
}

func (p TierPlan) Allows(kind UnitKind) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Counted reports whether units spent on this tier are tracked against a limit.
func (p TierPlan) Counted() bool {
	return p.MonthlyUnits != Unlimited
}

// TierTable is the read-only tier configuration.
type TierTable struct {
	plans []TierPlan
}

func NewTierTable(plans ...TierPlan) TierTable {
	cp := make([]TierPlan, len(plans))
	copy(cp, plans)
	return TierTable{plans: cp}
}

func DefaultTierTable() TierTable {
	return NewTierTable(
		TierPlan{Tier: TierFree, Name: "Free", Rank: 0, MonthlyUnits: 0, TrialUnits: 1, Kinds: []UnitKind{UnitLesson}},
		TierPlan{Tier: TierBasic, Name: "Basic", Rank: 1, MonthlyUnits: 10, Kinds: []UnitKind{UnitLesson, UnitPath}},
		TierPlan{Tier: TierPremium, Name: "Premium", Rank: 2, MonthlyUnits: Unlimited, Kinds: []UnitKind{UnitLesson, UnitPath}},
	)
}

func (t TierTable) Plan(tier Tier) (TierPlan, bool) {
	for _, p := range t.plans {
		if p.Tier == tier {
			return p, true
		}
	}
	return TierPlan{}, false
}

// Above returns the plans ranked higher than tier, lowest rank first.
func (t TierTable) Above(tier Tier) []TierPlan {
	current, ok := t.Plan(tier)
	if !ok {
		current = TierPlan{Rank: -1}
	}
	var out []TierPlan
	for _, p := range t.plans {
		if p.Rank > current.Rank {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b TierPlan) int { return cmp.Compare(a.Rank, b.Rank) })
	return out
}
