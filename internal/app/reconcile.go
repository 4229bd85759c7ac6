/**
 * @description
 * This file implements the reconciliation reader: the informational "current
 * usage" view served to clients. It merges the fast counter and the durable
 * ledger by componentwise max, which protects the report against a lagging or
 * momentarily degraded store undercounting. Never used for gating.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
)

// UsageReadStore is the slice of the repository the reader needs.
type UsageReadStore interface {
	GetDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*domain.DailyUsage, error)
	GetUsageRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.DailyUsage, error)
}

// UsageReader serves reconciled usage reports.
type UsageReader struct {
	counter UsageCounter
	store   UsageReadStore
	now     func() time.Time
}

// NewUsageReader creates a reader over the counter and the ledger.
func NewUsageReader(counter UsageCounter, usageStore UsageReadStore) *UsageReader {
	return &UsageReader{counter: counter, store: usageStore, now: time.Now}
}

// CurrentUsage returns today's usage as the componentwise max of the fast
// counter and the durable ledger. Counter errors degrade the report to
// ledger-only values instead of failing the request; study minutes only live
// in the ledger.
func (u *UsageReader) CurrentUsage(ctx context.Context, userID uuid.UUID) (domain.UsageTotals, error) {
	day := u.now()

	row, err := u.store.GetDailyUsage(ctx, userID, day)
	if err != nil {
		return domain.UsageTotals{}, err
	}

	totals := domain.UsageTotals{
		AIQueries:    row.AIQueries,
		TestsTaken:   row.TestsTaken,
		StudyMinutes: row.StudyMinutes,
	}

	if count, err := u.counter.Get(ctx, userID, domain.ResourceAIQuery, day); err == nil {
		if count > totals.AIQueries {
			totals.AIQueries = count
		}
	} else {
		log.Printf("level=warn component=usage_reader msg=\"counter read failed; reporting ledger value\" user_id=%s resource=%s err=%v", userID, domain.ResourceAIQuery, err)
	}

	if count, err := u.counter.Get(ctx, userID, domain.ResourceTestGeneration, day); err == nil {
		if count > totals.TestsTaken {
			totals.TestsTaken = count
		}
	} else {
		log.Printf("level=warn component=usage_reader msg=\"counter read failed; reporting ledger value\" user_id=%s resource=%s err=%v", userID, domain.ResourceTestGeneration, err)
	}

	return totals, nil
}

// History returns the per-day ledger rows between start and end inclusive,
// ascending by date.
func (u *UsageReader) History(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.DailyUsage, error) {
	return u.store.GetUsageRange(ctx, userID, start, end)
}
