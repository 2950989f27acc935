/**
 * @description
 * This file defines the core domain models for the subscription-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` representing the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - `checkout_request_id` is the gateway-issued correlation key; it is the only
 *   linkage between a pending subscription and the asynchronous payment outcome.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses. A subscription is created 'pending', moves to 'active'
// or 'failed' exactly once when the payment outcome is observed, and 'active'
// records lapse to 'expired' via the scheduled sweep. 'cancelled' is reachable
// only from 'pending' or 'active' through the admin cancel endpoint.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Subscription represents a user's time-boxed subscription in the database.
// This struct maps directly to the `subscriptions` table.
type Subscription struct {
	ID                uuid.UUID  `json:"id"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	Category          string     `json:"category"`  // e.g., 'gaming', 'gym'
	PlanName          string     `json:"plan_name"` // e.g., 'weekly', 'monthly'
	Amount            int64      `json:"amount"`    // in cents
	Status            string     `json:"status"`
	StartDate         *time.Time `json:"start_date,omitempty"` // set on first activation only
	EndDate           time.Time  `json:"end_date"`
	CheckoutRequestID *string    `json:"checkout_request_id,omitempty"`
	MerchantRequestID *string    `json:"merchant_request_id,omitempty"`
	ReceiptNumber     *string    `json:"receipt_number,omitempty"`
	PaidAmount        *int64     `json:"paid_amount,omitempty"`
	PayerPhone        *string    `json:"payer_phone,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the subscription can no longer change state
// through payment reconciliation.
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case StatusActive, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Plan represents a purchasable subscription plan from the catalog.
type Plan struct {
	ID           uuid.UUID `json:"id"`
	Category     string    `json:"category"`
	Name         string    `json:"name"`
	Amount       int64     `json:"amount"` // in cents
	DurationDays int       `json:"duration_days"`
	Active       bool      `json:"active"`
}

// SubscribeRequest is the DTO for incoming subscription purchase API requests.
// The phone number may arrive in any of the user-facing formats; it is
// normalized before the push request is built.
type SubscribeRequest struct {
	Category string `json:"category"`
	PlanName string `json:"plan_name"`
	Phone    string `json:"phone"`
}

// SubscribeResponse is sent back to the client once a push has been submitted.
// The payment itself completes asynchronously; the client should poll the
// subscription status or wait for its own notification.
type SubscribeResponse struct {
	SubscriptionID    string `json:"subscription_id"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
}

// SubscriptionEvent is the message payload published to RabbitMQ when a
// subscription changes state.
type SubscriptionEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OwnerID        uuid.UUID `json:"owner_id"`
	Category       string    `json:"category"`
	PlanName       string    `json:"plan_name"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}
