/**
 * @description
 * Subscription state machine. The transition table here is the single source
 * of truth for which status changes are legal; every writer (push initiation,
 * callback reconciliation, status polling, the expiry sweep, admin cancel)
 * goes through the guarded helpers in this file rather than writing statuses
 * directly.
 *
 * @notes
 * - Transitions are applied as conditional writes keyed on the current
 *   status. A writer whose expected source state no longer matches is
 *   silently dropped, not errored. That property is what makes at-least-once
 *   callback delivery safe without explicit locking: only one of the
 *   reconciler and the poller can win the race to the first terminal
 *   transition, and the loser observes a no-op.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
)

var allowedTransitions = map[string][]string{
	domain.StatusPending: {domain.StatusActive, domain.StatusFailed, domain.StatusCancelled},
	domain.StatusActive:  {domain.StatusExpired, domain.StatusCancelled},
}

// CanTransition reports whether the state machine permits moving a
// subscription from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Activation carries the payment evidence applied when a subscription is
// activated. Receipt and paid amount come from callback metadata; the polling
// path activates without them because the status query response does not
// carry metadata.
type Activation struct {
	ReceiptNumber string
	PaidAmount    int64
	PayerPhone    string
}

// activateSubscription moves a pending subscription to active, recording the
// payment evidence and the activation time. start_date is written COALESCE-style
// so a duplicate delivery never shifts it. Returns whether the write applied.
func (s *Service) activateSubscription(ctx context.Context, sub *domain.Subscription, act Activation) (bool, error) {
	if !CanTransition(sub.Status, domain.StatusActive) {
		return false, nil
	}

	now := time.Now()
	patch := store.SubscriptionPatch{
		Status:    domain.StatusActive,
		StartDate: &now,
	}
	if act.ReceiptNumber != "" {
		patch.ReceiptNumber = &act.ReceiptNumber
	}
	if act.PaidAmount > 0 {
		patch.PaidAmount = &act.PaidAmount
	}
	if act.PayerPhone != "" {
		patch.PayerPhone = &act.PayerPhone
	}

	applied, err := s.repo.UpdateSubscriptionIfStatus(ctx, sub.ID, domain.StatusPending, patch)
	if err != nil {
		return false, err
	}
	if applied {
		s.publishEvent(ctx, sub, domain.StatusActive)
	}
	return applied, nil
}

// failSubscription moves a pending subscription to failed with the
// user-facing reason. Returns whether the write applied.
func (s *Service) failSubscription(ctx context.Context, sub *domain.Subscription, reason string) (bool, error) {
	if !CanTransition(sub.Status, domain.StatusFailed) {
		return false, nil
	}

	patch := store.SubscriptionPatch{
		Status:        domain.StatusFailed,
		FailureReason: &reason,
	}
	applied, err := s.repo.UpdateSubscriptionIfStatus(ctx, sub.ID, domain.StatusPending, patch)
	if err != nil {
		return false, err
	}
	if applied {
		s.publishEvent(ctx, sub, domain.StatusFailed)
	}
	return applied, nil
}

// cancelSubscription moves a pending or active subscription to cancelled.
// Terminal records are left untouched.
func (s *Service) cancelSubscription(ctx context.Context, sub *domain.Subscription) (bool, error) {
	if !CanTransition(sub.Status, domain.StatusCancelled) {
		return false, nil
	}

	patch := store.SubscriptionPatch{Status: domain.StatusCancelled}
	applied, err := s.repo.UpdateSubscriptionIfStatus(ctx, sub.ID, sub.Status, patch)
	if err != nil {
		return false, err
	}
	if applied {
		s.publishEvent(ctx, sub, domain.StatusCancelled)
	}
	return applied, nil
}

func (s *Service) publishEvent(ctx context.Context, sub *domain.Subscription, status string) {
	if s.eventProducer == nil {
		return
	}
	event := domain.SubscriptionEvent{
		SubscriptionID: sub.ID,
		OwnerID:        sub.OwnerID,
		Category:       sub.Category,
		PlanName:       sub.PlanName,
		Status:         status,
		Amount:         sub.Amount,
		Timestamp:      time.Now(),
	}
	if err := s.eventProducer.PublishSubscriptionEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"subscription event publish failed\" subscription_id=%s status=%s err=%v", sub.ID, status, err)
	}
}
