/**
 * @description
 * This file implements the admission-control engine that gates AI-query and
 * test-generation requests by daily quota. It composes the entitlement
 * resolver (who is this user, what do they get) with the fast counter store
 * (how much have they used today) to produce an allow/deny decision before the
 * protected operation runs, and records durable audit rows after it succeeds.
 *
 * Decision/audit contract (ask/tell):
 * - Check() performs the gating increment against the fast counter and must be
 *   called before the protected operation.
 * - Record() writes the durable ledger row and is called by the collaborator
 *   only after the operation actually succeeded. Its failure never fails the
 *   already-completed user request; after bounded retries it is logged as an
 *   audit gap.
 * - When the fast counter store is unavailable the engine fails open: the
 *   request is allowed, a degraded-mode signal is emitted, and the engine
 *   itself writes the audit row (the decision carries AuditRecorded so the
 *   caller skips the follow-up Record).
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
)

// ErrDurableWrite is returned by Record when the ledger write was dropped
// after retries. Callers log it; they must not surface it to the user, whose
// operation already completed.
var ErrDurableWrite = errors.New("durable usage write failed")

// AdmissionState classifies the outcome of a quota check.
type AdmissionState int

const (
	StateResolutionFailed AdmissionState = iota
	StateEntitledUnlimited
	StateEntitledLimitedOK
	StateEntitledLimitedDenied
)

// String returns the wire name of the state.
func (s AdmissionState) String() string {
	switch s {
	case StateEntitledUnlimited:
		return "ENTITLED_UNLIMITED"
	case StateEntitledLimitedOK:
		return "ENTITLED_LIMITED_OK"
	case StateEntitledLimitedDenied:
		return "ENTITLED_LIMITED_DENIED"
	default:
		return "RESOLUTION_FAILED"
	}
}

// MarshalJSON encodes the state as its wire name.
func (s AdmissionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Decision is the outcome of an admission check.
type Decision struct {
	State             AdmissionState  `json:"state"`
	Allowed           bool            `json:"allowed"`
	Limit             domain.Quota    `json:"limit"`
	Remaining         domain.Quota    `json:"remaining"`
	ResetAt           time.Time       `json:"reset_at"`
	RetryAfterSeconds int64           `json:"retry_after_seconds,omitempty"`
	UpgradeHint       domain.PlanTier `json:"upgrade_hint,omitempty"`

	// Degraded marks a fail-open allow issued while the fast counter store was
	// unavailable.
	Degraded bool `json:"degraded,omitempty"`
	// AuditRecorded is set when the engine already wrote the durable audit row
	// during Check (fail-open path); the caller must then skip Record.
	AuditRecorded bool `json:"audit_recorded,omitempty"`
}

// Resolver resolves user entitlements. Satisfied by *EntitlementResolver.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (domain.Entitlements, error)
}

// UsageLedger is the slice of the repository the engine writes audit rows to.
type UsageLedger interface {
	IncrementAIQueries(ctx context.Context, userID uuid.UUID, day time.Time) error
	IncrementTestsTaken(ctx context.Context, userID uuid.UUID, day time.Time) error
	AddStudyMinutes(ctx context.Context, userID uuid.UUID, day time.Time, minutes int64) error
}

// EventPublisher publishes usage telemetry. May be absent (nil controller
// field) when the broker is not configured; all publishes are best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// AdmissionController composes the resolver, the fast counter store and the
// durable ledger into the allow/deny engine.
type AdmissionController struct {
	resolver Resolver
	counter  UsageCounter
	ledger   UsageLedger
	events   EventPublisher
	quotas   PlanQuotas

	now           func() time.Time
	ledgerTimeout time.Duration
	ledgerRetries int
}

// NewAdmissionController creates the engine. events may be nil.
func NewAdmissionController(resolver Resolver, counter UsageCounter, ledger UsageLedger, events EventPublisher, quotas PlanQuotas, ledgerTimeout time.Duration, ledgerRetries int) *AdmissionController {
	if ledgerTimeout <= 0 {
		ledgerTimeout = 3 * time.Second
	}
	if ledgerRetries <= 0 {
		ledgerRetries = 3
	}
	return &AdmissionController{
		resolver:      resolver,
		counter:       counter,
		ledger:        ledger,
		events:        events,
		quotas:        quotas,
		now:           time.Now,
		ledgerTimeout: ledgerTimeout,
		ledgerRetries: ledgerRetries,
	}
}

// Check decides whether a protected operation may run. It must be called
// before the operation; the fast-counter increment here is the gating signal.
// A returned error always wraps ErrEntitlementResolution and means "retry
// later", never "quota exhausted".
func (a *AdmissionController) Check(ctx context.Context, userID uuid.UUID, resource domain.ResourceType) (Decision, error) {
	entitlements, err := a.resolver.Resolve(ctx, userID)
	if err != nil {
		return Decision{State: StateResolutionFailed}, err
	}

	now := a.now()
	quota := entitlements.Quota(resource)
	if quota.IsUnlimited() {
		return Decision{
			State:     StateEntitledUnlimited,
			Allowed:   true,
			Limit:     domain.UnlimitedQuota(),
			Remaining: domain.UnlimitedQuota(),
			ResetAt:   nextDayStart(now),
		}, nil
	}

	if !a.counter.Available(ctx) {
		return a.failOpen(ctx, userID, resource, quota, now, "counter store unavailable"), nil
	}

	count, err := a.counter.Increment(ctx, userID, resource, now)
	if err != nil {
		// Timeouts and transport errors degrade exactly like a failed health
		// probe; no synchronous retry on the hot path.
		return a.failOpen(ctx, userID, resource, quota, now, err.Error()), nil
	}

	if count <= quota.Limit() {
		return Decision{
			State:     StateEntitledLimitedOK,
			Allowed:   true,
			Limit:     quota,
			Remaining: domain.LimitedQuota(quota.Limit() - count),
			ResetAt:   nextDayStart(now),
		}, nil
	}

	a.publish(domain.RoutingKeyQuotaExceeded, domain.QuotaExceededEvent{
		UserID:   userID.String(),
		Resource: resource,
		Limit:    quota.Limit(),
		Day:      dayKey(now),
		At:       now,
	})

	return Decision{
		State:             StateEntitledLimitedDenied,
		Allowed:           false,
		Limit:             quota,
		Remaining:         domain.LimitedQuota(0),
		ResetAt:           nextDayStart(now),
		RetryAfterSeconds: int64(untilDayEnd(now).Seconds()),
		UpgradeHint:       a.quotas.UpgradeHint(),
	}, nil
}

// failOpen allows the request despite the counter outage. The gating signal
// was lost, so the engine writes the audit row itself to keep the durable
// trail complete, and flags the decision so the caller skips Record.
func (a *AdmissionController) failOpen(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, quota domain.Quota, now time.Time, reason string) Decision {
	log.Printf("level=warn component=admission msg=\"fast counter unavailable; failing open\" user_id=%s resource=%s reason=%q", userID, resource, reason)
	a.publish(domain.RoutingKeyDegradedMode, domain.DegradedModeEvent{
		Component: "usage_counter",
		Reason:    reason,
		At:        now,
	})

	if err := a.recordDurable(ctx, userID, resource, 1); err != nil {
		log.Printf("level=error component=admission msg=\"degraded-mode audit write failed\" user_id=%s resource=%s err=%v", userID, resource, err)
	}

	return Decision{
		State:         StateEntitledLimitedOK,
		Allowed:       true,
		Limit:         quota,
		Remaining:     quota,
		ResetAt:       nextDayStart(now),
		Degraded:      true,
		AuditRecorded: true,
	}
}

// Record writes the durable audit row for a completed operation. Called by the
// collaborator after the protected operation succeeded, unless the decision
// already carried AuditRecorded. The returned ErrDurableWrite is informational:
// the caller logs it and still reports success to the user.
func (a *AdmissionController) Record(ctx context.Context, userID uuid.UUID, resource domain.ResourceType) error {
	return a.recordDurable(ctx, userID, resource, 1)
}

// RecordStudyTime adds study minutes to the audit trail. Study time is never
// gated, only recorded.
func (a *AdmissionController) RecordStudyTime(ctx context.Context, userID uuid.UUID, minutes int64) error {
	if minutes <= 0 {
		return fmt.Errorf("study minutes must be positive, got %d", minutes)
	}
	return a.recordDurable(ctx, userID, domain.ResourceStudyTime, minutes)
}

func (a *AdmissionController) recordDurable(ctx context.Context, userID uuid.UUID, resource domain.ResourceType, amount int64) error {
	day := a.now()

	var lastErr error
	for attempt := 1; attempt <= a.ledgerRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, a.ledgerTimeout)
		switch resource {
		case domain.ResourceAIQuery:
			lastErr = a.ledger.IncrementAIQueries(attemptCtx, userID, day)
		case domain.ResourceTestGeneration:
			lastErr = a.ledger.IncrementTestsTaken(attemptCtx, userID, day)
		case domain.ResourceStudyTime:
			lastErr = a.ledger.AddStudyMinutes(attemptCtx, userID, day, amount)
		default:
			cancel()
			return fmt.Errorf("unknown resource type %q", resource)
		}
		cancel()

		if lastErr == nil {
			a.publish(domain.RoutingKeyUsageRecorded, domain.UsageRecordedEvent{
				UserID:     userID.String(),
				Resource:   resource,
				Amount:     amount,
				Day:        dayKey(day),
				RecordedAt: a.now(),
			})
			return nil
		}
		if attempt < a.ledgerRetries {
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}

	log.Printf("level=error component=admission msg=\"audit record dropped after retries\" user_id=%s resource=%s attempts=%d err=%v", userID, resource, a.ledgerRetries, lastErr)
	a.publish(domain.RoutingKeyAuditGap, domain.AuditGapEvent{
		UserID:   userID.String(),
		Resource: resource,
		Attempts: a.ledgerRetries,
		Reason:   lastErr.Error(),
		At:       a.now(),
	})
	return fmt.Errorf("%w: %v", ErrDurableWrite, lastErr)
}

// publish sends a telemetry event best-effort. Dispatch is asynchronous so a
// slow broker never adds latency to the gating path; failures are logged and
// otherwise ignored, telemetry must never affect request outcomes.
func (a *AdmissionController) publish(routingKey string, body interface{}) {
	if a.events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.events.Publish(ctx, routingKey, body); err != nil {
			log.Printf("level=warn component=admission msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
		}
	}()
}
