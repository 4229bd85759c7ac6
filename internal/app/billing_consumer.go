/**
 * @description
 * This file implements the consumer side of the billing integration. The
 * billing service publishes subscription lifecycle events (upgrade, downgrade,
 * cancellation) to the message broker; this handler applies them to the
 * subscription store through the resolver's update path, so entitlement
 * changes propagate without a synchronous billing-to-usage call.
 */
package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
)

// BillingEventConsumer applies billing subscription events.
type BillingEventConsumer struct {
	resolver *EntitlementResolver
}

// NewBillingEventConsumer creates a consumer bound to the resolver.
func NewBillingEventConsumer(resolver *EntitlementResolver) *BillingEventConsumer {
	return &BillingEventConsumer{resolver: resolver}
}

// HandleMessage processes one billing.subscription.updated message. It returns
// true when the message should be acknowledged; malformed payloads are dropped
// (acked) so they do not requeue forever, while store failures are requeued.
func (c *BillingEventConsumer) HandleMessage(body []byte) bool {
	var evt domain.SubscriptionUpdatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Printf("level=warn component=billing_consumer msg=\"malformed subscription event dropped\" err=%v", err)
		return true
	}

	userID, err := uuid.Parse(evt.UserID)
	if err != nil {
		log.Printf("level=warn component=billing_consumer msg=\"subscription event with invalid user id dropped\" user_id=%q err=%v", evt.UserID, err)
		return true
	}

	plan := domain.PlanTier(evt.Plan)
	status := domain.SubscriptionStatus(evt.Status)
	if !domain.ValidPlan(plan) || !domain.ValidStatus(status) {
		log.Printf("level=warn component=billing_consumer msg=\"subscription event with unknown plan or status dropped\" plan=%q status=%q", evt.Plan, evt.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.resolver.Update(ctx, userID, plan, status, evt.EndDate); err != nil {
		log.Printf("level=error component=billing_consumer msg=\"subscription event apply failed; requeueing\" user_id=%s err=%v", userID, err)
		return false
	}

	log.Printf("level=info component=billing_consumer msg=\"subscription event applied\" user_id=%s plan=%s status=%s", userID, plan, status)
	return true
}
