/**
 * @description
 * This file defines the core domain models for subscriptions and entitlements.
 * A user's subscription determines the daily quotas applied by admission control;
 * the Quota type is a closed two-state value (a finite limit or unlimited) so that
 * comparison sites never have to distinguish numbers from magic strings.
 */
package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PlanTier is a named subscription level.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPremium PlanTier = "premium"
	PlanFamily  PlanTier = "family"
)

// ValidPlan reports whether the given tier is one the platform sells.
func ValidPlan(p PlanTier) bool {
	switch p {
	case PlanFree, PlanPremium, PlanFamily:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
	StatusTrial     SubscriptionStatus = "trial"
)

// ValidStatus reports whether the given status is a known lifecycle state.
func ValidStatus(s SubscriptionStatus) bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired, StatusTrial:
		return true
	}
	return false
}

// Subscription represents a user's subscription row.
// A cancelled subscription keeps its paid-tier entitlements until EndDate
// (the grace period); EndDate is nil for open-ended subscriptions.
type Subscription struct {
	ID        string             `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	Plan      PlanTier           `json:"plan"`
	Status    SubscriptionStatus `json:"status"`
	StartDate time.Time          `json:"start_date"`
	EndDate   *time.Time         `json:"end_date,omitempty"`
}

// Quota is the daily allowance for one resource under a plan.
type Quota struct {
	unlimited bool
	limit     int64
}

// UnlimitedQuota returns a quota that never denies.
func UnlimitedQuota() Quota {
	return Quota{unlimited: true}
}

// LimitedQuota returns a quota capped at n uses per day.
func LimitedQuota(n int64) Quota {
	if n < 0 {
		n = 0
	}
	return Quota{limit: n}
}

// IsUnlimited reports whether the quota has no daily cap.
func (q Quota) IsUnlimited() bool { return q.unlimited }

// Limit returns the daily cap. Only meaningful when IsUnlimited is false.
func (q Quota) Limit() int64 { return q.limit }

// String renders the quota the way API consumers see it.
func (q Quota) String() string {
	if q.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(q.limit, 10)
}

// MarshalJSON encodes a limited quota as a number and an unlimited one as the
// literal string "unlimited".
func (q Quota) MarshalJSON() ([]byte, error) {
	if q.unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(q.limit)
}

// Entitlements is the resolved view of what a plan grants: the tier itself and
// a per-resource quota table.
type Entitlements struct {
	Plan   PlanTier
	quotas map[ResourceType]Quota
}

// NewEntitlements builds an entitlement set for a plan.
func NewEntitlements(plan PlanTier, quotas map[ResourceType]Quota) Entitlements {
	return Entitlements{Plan: plan, quotas: quotas}
}

// Quota returns the daily quota for a resource. Resources without an entry are
// not gated (study time is recorded but never limited), so they resolve as
// unlimited.
func (e Entitlements) Quota(resource ResourceType) Quota {
	if q, ok := e.quotas[resource]; ok {
		return q
	}
	return UnlimitedQuota()
}

// Quotas returns a copy of the gated-resource table for API responses.
func (e Entitlements) Quotas() map[ResourceType]Quota {
	out := make(map[ResourceType]Quota, len(e.quotas))
	for r, q := range e.quotas {
		out[r] = q
	}
	return out
}
