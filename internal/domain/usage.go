/**
 * @description
 * This file defines the usage-accounting domain models: the resource types that
 * admission control gates, the durable per-day ledger row, and the reconciled
 * totals returned by reporting endpoints.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType identifies a quota-gated (or merely recorded) platform resource.
type ResourceType string

const (
	ResourceAIQuery        ResourceType = "ai_query"
	ResourceTestGeneration ResourceType = "test_generation"
	ResourceStudyTime      ResourceType = "study_time"
)

// ValidResource reports whether the resource type is known to the engine.
func ValidResource(r ResourceType) bool {
	switch r {
	case ResourceAIQuery, ResourceTestGeneration, ResourceStudyTime:
		return true
	}
	return false
}

// Gated reports whether admission control applies a daily quota to the
// resource. Study time is recorded for reporting but never gated.
func (r ResourceType) Gated() bool {
	return r == ResourceAIQuery || r == ResourceTestGeneration
}

// DailyUsage is one durable ledger row: the audited counts for a user on a
// single calendar day. Rows are upserted-with-add, never read-modify-written.
type DailyUsage struct {
	UserID       uuid.UUID `json:"user_id"`
	Date         time.Time `json:"date"`
	AIQueries    int64     `json:"ai_queries"`
	TestsTaken   int64     `json:"tests_taken"`
	StudyMinutes int64     `json:"study_minutes"`
}

// UsageTotals is the reconciled "today so far" view served to clients.
type UsageTotals struct {
	AIQueries    int64 `json:"ai_queries"`
	TestsTaken   int64 `json:"tests_taken"`
	StudyMinutes int64 `json:"study_minutes"`
}
