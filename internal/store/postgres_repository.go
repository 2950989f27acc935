/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to subscriptions and the plan catalog.
 *
 * @notes
 * - State transitions are expressed as conditional UPDATEs guarded by the
 *   current status, so a stale writer simply matches zero rows instead of
 *   clobbering a terminal record.
 * - `checkout_request_id` carries a unique index; a duplicate attach surfaces
 *   as a 23505 and is mapped to ErrDuplicateCheckoutRequest.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lipia/subscription-service/internal/domain"
)

const subscriptionColumns = `
	id, owner_id, category, plan_name, amount, status,
	start_date, end_date, checkout_request_id, merchant_request_id,
	receipt_number, paid_amount, payer_phone, failure_reason,
	created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.OwnerID,
		&sub.Category,
		&sub.PlanName,
		&sub.Amount,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.CheckoutRequestID,
		&sub.MerchantRequestID,
		&sub.ReceiptNumber,
		&sub.PaidAmount,
		&sub.PayerPhone,
		&sub.FailureReason,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindPlan retrieves an active plan by category and name.
func (r *PostgresRepository) FindPlan(ctx context.Context, category, name string) (*domain.Plan, error) {
	var plan domain.Plan
	query := `
        SELECT id, category, name, amount, duration_days, active
        FROM plans
        WHERE lower(category) = lower(btrim($1)) AND lower(name) = lower(btrim($2)) AND active = TRUE
    `
	err := r.db.QueryRow(ctx, query, category, name).Scan(
		&plan.ID, &plan.Category, &plan.Name, &plan.Amount, &plan.DurationDays, &plan.Active,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// ListPlans retrieves active plans, optionally filtered by category.
func (r *PostgresRepository) ListPlans(ctx context.Context, category string) ([]domain.Plan, error) {
	query := `
        SELECT id, category, name, amount, duration_days, active
        FROM plans
        WHERE active = TRUE AND ($1 = '' OR lower(category) = lower(btrim($1)))
        ORDER BY category, amount
    `
	rows, err := r.db.Query(ctx, query, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var plan domain.Plan
		if err := rows.Scan(&plan.ID, &plan.Category, &plan.Name, &plan.Amount, &plan.DurationDays, &plan.Active); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// CreateSubscription inserts a new pending subscription record.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	query := `
        INSERT INTO subscriptions (id, owner_id, category, plan_name, amount, status, end_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		sub.ID,
		sub.OwnerID,
		sub.Category,
		sub.PlanName,
		sub.Amount,
		sub.Status,
		sub.EndDate,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

// FindSubscriptionByID retrieves a subscription by its primary key.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND deleted_at IS NULL`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindSubscriptionByCheckoutRequestID retrieves a subscription by the gateway
// correlation id attached at push submission time.
func (r *PostgresRepository) FindSubscriptionByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE checkout_request_id = $1 AND deleted_at IS NULL`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListSubscriptionsByOwner retrieves an owner's subscriptions, newest first.
func (r *PostgresRepository) ListSubscriptionsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE owner_id = $1 AND deleted_at IS NULL
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// AttachCheckoutRequest stores the gateway correlation ids on a pending
// subscription. The guard on status and the null checkout id means a repeated
// attach (or an attach racing a reconciliation) matches zero rows.
func (r *PostgresRepository) AttachCheckoutRequest(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error {
	query := `
        UPDATE subscriptions
        SET checkout_request_id = $2, merchant_request_id = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'pending' AND checkout_request_id IS NULL AND deleted_at IS NULL
    `
	result, err := r.db.Exec(ctx, query, id, checkoutRequestID, merchantRequestID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateCheckoutRequest
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UpdateSubscriptionIfStatus applies a guarded state transition. The COALESCE
// on start_date preserves the first activation time across duplicate
// deliveries.
func (r *PostgresRepository) UpdateSubscriptionIfStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch SubscriptionPatch) (bool, error) {
	query := `
        UPDATE subscriptions
        SET status = $3,
            start_date = COALESCE(start_date, $4),
            receipt_number = COALESCE($5, receipt_number),
            paid_amount = COALESCE($6, paid_amount),
            payer_phone = COALESCE($7, payer_phone),
            failure_reason = COALESCE($8, failure_reason),
            updated_at = NOW()
        WHERE id = $1 AND status = $2 AND deleted_at IS NULL
    `
	result, err := r.db.Exec(ctx, query,
		id,
		expectedStatus,
		patch.Status,
		patch.StartDate,
		patch.ReceiptNumber,
		patch.PaidAmount,
		patch.PayerPhone,
		patch.FailureReason,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ExpireLapsedSubscriptions transitions every lapsed active subscription to
// expired in a single statement and returns the moved records.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        UPDATE subscriptions
        SET status = 'expired', updated_at = NOW()
        WHERE status = 'active' AND end_date < $1 AND deleted_at IS NULL
        RETURNING ` + subscriptionColumns
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
