/**
 * @description
 * This file defines the event payloads the usage-service exchanges over the
 * message broker: outbound usage telemetry for the analytics and alerting
 * collaborators, and the inbound subscription lifecycle event published by the
 * billing service on upgrade, downgrade, or cancellation.
 */
package domain

import "time"

// Routing keys for outbound usage events.
const (
	RoutingKeyUsageRecorded = "usage.recorded"
	RoutingKeyQuotaExceeded = "usage.quota_exceeded"
	RoutingKeyDegradedMode  = "usage.degraded"
	RoutingKeyAuditGap      = "usage.audit_gap"

	// RoutingKeyBillingSubscriptionUpdated is consumed from the billing service.
	RoutingKeyBillingSubscriptionUpdated = "billing.subscription.updated"
)

// UsageRecordedEvent is published after a durable ledger write succeeds.
type UsageRecordedEvent struct {
	UserID     string       `json:"user_id"`
	Resource   ResourceType `json:"resource"`
	Amount     int64        `json:"amount"`
	Day        string       `json:"day"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// QuotaExceededEvent is published when a limited-tier request is denied.
type QuotaExceededEvent struct {
	UserID   string       `json:"user_id"`
	Resource ResourceType `json:"resource"`
	Limit    int64        `json:"limit"`
	Day      string       `json:"day"`
	At       time.Time    `json:"at"`
}

// DegradedModeEvent signals that the fast counter store was unavailable and
// the engine failed open.
type DegradedModeEvent struct {
	Component string    `json:"component"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// AuditGapEvent signals that a durable usage write was dropped after retries.
// The alerting collaborator treats these as data-quality incidents.
type AuditGapEvent struct {
	UserID   string       `json:"user_id"`
	Resource ResourceType `json:"resource"`
	Attempts int          `json:"attempts"`
	Reason   string       `json:"reason"`
	At       time.Time    `json:"at"`
}

// SubscriptionUpdatedEvent is the inbound billing event applied to the
// subscription store. EndDate is nil for open-ended periods.
type SubscriptionUpdatedEvent struct {
	UserID  string     `json:"user_id"`
	Plan    string     `json:"plan"`
	Status  string     `json:"status"`
	EndDate *time.Time `json:"end_date,omitempty"`
}
