/**
 * @description
 * This file implements the subscription state resolver: given a user, it
 * produces the entitlements admission control gates on, creating a default
 * free subscription on first contact and lazily repairing expired or lapsed
 * paid subscriptions down to the free tier.
 *
 * A failure of the backing store is never interpreted as "grant access"; it
 * surfaces as ErrEntitlementResolution and the caller must reject the request
 * as retryable.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
	"github.com/tutorhub/usage-service/internal/store"
)

// ErrEntitlementResolution wraps subscription-store failures. Distinct and
// non-swallowable: requests failing with it are retryable, never quota denials.
var ErrEntitlementResolution = errors.New("entitlement resolution failed")

// SubscriptionStore is the slice of the repository the resolver needs.
type SubscriptionStore interface {
	GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	CreateDefaultSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	DowngradeExpiredSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	UpsertSubscriptionPlan(ctx context.Context, userID uuid.UUID, plan domain.PlanTier, status domain.SubscriptionStatus, endDate *time.Time) (*domain.Subscription, error)
}

// EntitlementResolver resolves a user's current plan and quotas.
type EntitlementResolver struct {
	store  SubscriptionStore
	quotas PlanQuotas
	now    func() time.Time
}

// NewEntitlementResolver creates a resolver over the given subscription store.
func NewEntitlementResolver(subs SubscriptionStore, quotas PlanQuotas) *EntitlementResolver {
	return &EntitlementResolver{store: subs, quotas: quotas, now: time.Now}
}

// subscriptionLapsed reports whether the row needs the expiry downgrade:
// either the billing collaborator already marked it expired, or its paid-tier
// grace period has ended.
func subscriptionLapsed(sub *domain.Subscription, now time.Time) bool {
	if sub.Status == domain.StatusExpired {
		return true
	}
	return sub.EndDate != nil && sub.EndDate.Before(now) && sub.Plan != domain.PlanFree
}

// Resolve returns the user's current entitlements, creating a default free
// subscription when none exists and applying the lazy expiry downgrade. The
// downgrade is idempotent under concurrent callers: the conditional UPDATE in
// the store admits at most one redundant write.
func (r *EntitlementResolver) Resolve(ctx context.Context, userID uuid.UUID) (domain.Entitlements, error) {
	sub, err := r.store.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrSubscriptionNotFound) {
			return domain.Entitlements{}, fmt.Errorf("%w: %v", ErrEntitlementResolution, err)
		}
		sub, err = r.store.CreateDefaultSubscription(ctx, userID)
		if err != nil {
			return domain.Entitlements{}, fmt.Errorf("%w: %v", ErrEntitlementResolution, err)
		}
		log.Printf("level=info component=resolver msg=\"default subscription created\" user_id=%s", userID)
	}

	if subscriptionLapsed(sub, r.now()) {
		sub, err = r.store.DowngradeExpiredSubscription(ctx, userID)
		if err != nil {
			return domain.Entitlements{}, fmt.Errorf("%w: %v", ErrEntitlementResolution, err)
		}
		log.Printf("level=info component=resolver msg=\"lapsed subscription downgraded\" user_id=%s plan=%s", userID, sub.Plan)
	}

	return r.quotas.For(sub.Plan), nil
}

// Update applies a plan change from the billing collaborator (upgrade,
// downgrade or cancellation) and returns the fresh entitlements.
func (r *EntitlementResolver) Update(ctx context.Context, userID uuid.UUID, plan domain.PlanTier, status domain.SubscriptionStatus, endDate *time.Time) (domain.Entitlements, error) {
	if !domain.ValidPlan(plan) {
		return domain.Entitlements{}, fmt.Errorf("unknown plan tier %q", plan)
	}
	if !domain.ValidStatus(status) {
		return domain.Entitlements{}, fmt.Errorf("unknown subscription status %q", status)
	}

	sub, err := r.store.UpsertSubscriptionPlan(ctx, userID, plan, status, endDate)
	if err != nil {
		return domain.Entitlements{}, fmt.Errorf("%w: %v", ErrEntitlementResolution, err)
	}
	log.Printf("level=info component=resolver msg=\"subscription updated\" user_id=%s plan=%s status=%s", userID, sub.Plan, sub.Status)
	return r.quotas.For(sub.Plan), nil
}
