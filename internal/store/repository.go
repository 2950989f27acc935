/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the subscription-service. By defining an
 * interface, we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test
 * against in-memory stubs.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
)

var (
	// ErrSubscriptionNotFound is returned when no subscription matches the lookup.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrPlanNotFound is returned when no active plan matches category and name.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrDuplicateCheckoutRequest is returned when a checkout request id is
	// already attached to another live subscription.
	ErrDuplicateCheckoutRequest = errors.New("checkout request id already attached")
)

// SubscriptionPatch describes the fields applied by a guarded state
// transition. Nil fields are left untouched.
type SubscriptionPatch struct {
	Status        string
	StartDate     *time.Time // applied only if start_date is still null
	ReceiptNumber *string
	PaidAmount    *int64
	PayerPhone    *string
	FailureReason *string
}

// Repository defines the set of methods for interacting with the database.
// All writes that change subscription state are conditional on the current
// state, which is what makes reconciliation idempotent without explicit
// locking.
type Repository interface {
	// Plan catalog
	FindPlan(ctx context.Context, category, name string) (*domain.Plan, error)
	ListPlans(ctx context.Context, category string) ([]domain.Plan, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	FindSubscriptionByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Subscription, error)
	ListSubscriptionsByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Subscription, error)

	// AttachCheckoutRequest stores the gateway correlation ids on a pending
	// subscription that does not yet have one. Returns
	// ErrDuplicateCheckoutRequest if the id is already taken by another record.
	AttachCheckoutRequest(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error

	// UpdateSubscriptionIfStatus applies the patch only when the record's
	// current status equals expectedStatus. Returns false (not an error) when
	// the guard does not match; the caller lost the race and must treat the
	// transition as a no-op.
	UpdateSubscriptionIfStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch SubscriptionPatch) (bool, error)

	// ExpireLapsedSubscriptions moves every active subscription whose end
	// date has passed to expired, returning the records it moved. Safe to run
	// concurrently with itself: a record already moved by one run is excluded
	// by the next run's selection filter.
	ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}
