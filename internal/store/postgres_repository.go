/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the subscriptions table and the daily_usage ledger.
 *
 * Key points:
 * - Ledger increments are single `INSERT ... ON CONFLICT ... DO UPDATE SET
 *   col = daily_usage.col + EXCLUDED.col` statements. The add happens inside
 *   the database, so concurrent writers for the same (user, day) row cannot
 *   lose updates the way a read-modify-write sequence would.
 * - The expiry downgrade is a single conditional UPDATE; concurrent resolvers
 *   produce at most one redundant write and every caller converges on
 *   {free, active, end_date: null}.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - github.com/google/uuid: User identifiers.
 * - internal/domain: Domain models.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tutorhub/usage-service/internal/domain"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriptionColumns = `id, user_id, plan, status, start_date, end_date`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.StartDate, &sub.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByUserID retrieves the subscription row for a user.
func (r *PostgresRepository) GetSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
    `
	return scanSubscription(r.db.QueryRow(ctx, query, userID))
}

// CreateDefaultSubscription inserts a free/active subscription if none exists.
// ON CONFLICT DO NOTHING keeps concurrent first-time resolvers from failing;
// the follow-up read returns whichever row won.
func (r *PostgresRepository) CreateDefaultSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	insert := `
        INSERT INTO subscriptions (user_id, plan, status, start_date)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (user_id) DO NOTHING
    `
	if _, err := r.db.Exec(ctx, insert, userID, domain.PlanFree, domain.StatusActive); err != nil {
		return nil, err
	}
	return r.GetSubscriptionByUserID(ctx, userID)
}

// DowngradeExpiredSubscription applies the lazy expiry repair. The WHERE clause
// restates the expiry condition so a row already repaired by a concurrent
// caller matches zero rows; in that case the current row is read back instead.
func (r *PostgresRepository) DowngradeExpiredSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET plan = $2, status = $3, end_date = NULL, updated_at = NOW()
        WHERE user_id = $1
          AND (status = $4 OR (end_date IS NOT NULL AND end_date < NOW() AND plan <> $2))
        RETURNING ` + subscriptionColumns + `
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID,
		domain.PlanFree, domain.StatusActive, domain.StatusExpired))
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return r.GetSubscriptionByUserID(ctx, userID)
		}
		return nil, err
	}
	return sub, nil
}

// UpsertSubscriptionPlan creates or replaces the subscription's plan, status
// and period end. The start date is only set on first insert.
func (r *PostgresRepository) UpsertSubscriptionPlan(ctx context.Context, userID uuid.UUID, plan domain.PlanTier, status domain.SubscriptionStatus, endDate *time.Time) (*domain.Subscription, error) {
	query := `
        INSERT INTO subscriptions (user_id, plan, status, start_date, end_date)
        VALUES ($1, $2, $3, NOW(), $4)
        ON CONFLICT (user_id) DO UPDATE SET
            plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            end_date = EXCLUDED.end_date,
            updated_at = NOW()
        RETURNING ` + subscriptionColumns + `
	`
	return scanSubscription(r.db.QueryRow(ctx, query, userID, plan, status, endDate))
}

// usageDate normalizes a timestamp to the UTC calendar date stored in the
// daily_usage.usage_date column.
func usageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (r *PostgresRepository) incrementUsage(ctx context.Context, userID uuid.UUID, day time.Time, aiQueries, testsTaken, studyMinutes int64) error {
	query := `
        INSERT INTO daily_usage (user_id, usage_date, ai_queries, tests_taken, study_minutes)
        VALUES ($1, $2::date, $3, $4, $5)
        ON CONFLICT (user_id, usage_date) DO UPDATE SET
            ai_queries = daily_usage.ai_queries + EXCLUDED.ai_queries,
            tests_taken = daily_usage.tests_taken + EXCLUDED.tests_taken,
            study_minutes = daily_usage.study_minutes + EXCLUDED.study_minutes,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query, userID, usageDate(day), aiQueries, testsTaken, studyMinutes)
	return err
}

// IncrementAIQueries adds one AI query to the user's ledger row for the day.
func (r *PostgresRepository) IncrementAIQueries(ctx context.Context, userID uuid.UUID, day time.Time) error {
	return r.incrementUsage(ctx, userID, day, 1, 0, 0)
}

// IncrementTestsTaken adds one generated test to the user's ledger row for the day.
func (r *PostgresRepository) IncrementTestsTaken(ctx context.Context, userID uuid.UUID, day time.Time) error {
	return r.incrementUsage(ctx, userID, day, 0, 1, 0)
}

// AddStudyMinutes adds study minutes to the user's ledger row for the day.
func (r *PostgresRepository) AddStudyMinutes(ctx context.Context, userID uuid.UUID, day time.Time, minutes int64) error {
	if minutes <= 0 {
		return nil
	}
	return r.incrementUsage(ctx, userID, day, 0, 0, minutes)
}

// GetDailyUsage returns the ledger row for the given UTC day. A missing row
// means no recorded activity and scans as zeros.
func (r *PostgresRepository) GetDailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (*domain.DailyUsage, error) {
	usage := domain.DailyUsage{UserID: userID}
	query := `
        SELECT usage_date, ai_queries, tests_taken, study_minutes
        FROM daily_usage
        WHERE user_id = $1 AND usage_date = $2::date
    `
	err := r.db.QueryRow(ctx, query, userID, usageDate(day)).Scan(
		&usage.Date, &usage.AIQueries, &usage.TestsTaken, &usage.StudyMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			usage.Date = day.UTC().Truncate(24 * time.Hour)
			return &usage, nil
		}
		return nil, err
	}
	return &usage, nil
}

// GetUsageRange returns the ledger rows between start and end inclusive,
// ascending by date. Days without activity have no row.
func (r *PostgresRepository) GetUsageRange(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.DailyUsage, error) {
	query := `
        SELECT usage_date, ai_queries, tests_taken, study_minutes
        FROM daily_usage
        WHERE user_id = $1 AND usage_date BETWEEN $2::date AND $3::date
        ORDER BY usage_date ASC
    `
	rows, err := r.db.Query(ctx, query, userID, usageDate(start), usageDate(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []domain.DailyUsage
	for rows.Next() {
		usage := domain.DailyUsage{UserID: userID}
		if err := rows.Scan(&usage.Date, &usage.AIQueries, &usage.TestsTaken, &usage.StudyMinutes); err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}
	return usages, rows.Err()
}
