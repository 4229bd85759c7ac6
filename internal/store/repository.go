/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * the usage-service needs: subscription reads and lifecycle writes, and the
 * durable daily usage ledger. Defining an interface decouples the admission and
 * reporting logic from PostgreSQL and lets tests substitute in-memory fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: User identifiers.
 * - internal/domain: Domain models.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
)

// ErrSubscriptionNotFound is returned when a user has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Subscription methods.
	GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	// CreateDefaultSubscription inserts a free/active subscription if the user
	// has none, and returns the current row either way. Safe under concurrent
	// callers.
	CreateDefaultSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	// DowngradeExpiredSubscription conditionally moves an expired or lapsed
	// paid subscription to {free, active, end_date: null}. The update is
	// idempotent: a caller that loses the race reads back the winner's row.
	DowngradeExpiredSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	// UpsertSubscriptionPlan applies a plan change from the billing collaborator.
	UpsertSubscriptionPlan(ctx context.Context, userID uuid.UUID, plan domain.PlanTier, status domain.SubscriptionStatus, endDate *time.Time) (*domain.Subscription, error)

	// Durable usage ledger methods. Each increment is a single atomic
	// upsert-add statement; day is interpreted as a UTC calendar date.
	IncrementAIQueries(ctx context.Context, userID uuid.UUID, day time.Time) error
	IncrementTestsTaken(ctx context.Context, userID uuid.UUID, day time.Time) error
	AddStudyMinutes(ctx context.Context, userID uuid.UUID, day time.Time, minutes int64) error
	// GetDailyUsage returns the ledger row for the given day, or a zero-valued
	// row when the user has no activity yet.
	GetDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*domain.DailyUsage, error)
	// GetUsageRange returns per-day rows between start and end inclusive,
	// ascending by date. Reporting only; never on the gating path.
	GetUsageRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.DailyUsage, error)
}
