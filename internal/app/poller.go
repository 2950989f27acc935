/**
 * @description
 * Synchronous status polling for pending subscriptions. The callback webhook
 * is the normal way the service learns a payment's outcome, but callbacks can
 * be lost; this path lets a caller who is actively watching a pending
 * subscription pull the outcome from the gateway instead.
 *
 * @notes
 * - The poller drives the same guarded transitions as the callback
 *   reconciler, so the idempotency guarantees bind here too: if a callback
 *   already settled the record, the poll result is a no-op.
 * - The status query response carries no payment metadata, so an activation
 *   from this path records the plan amount as paid and no receipt. The record
 *   stays that way: a callback arriving afterwards finds the subscription
 *   already settled and is dropped by the reconciler's terminal-status guard.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
)

// CheckPaymentStatus queries the gateway for the outcome of a pending
// subscription's push and applies what it learns. For subscriptions that are
// no longer pending, or that never got a push submitted, the current record
// is returned unchanged. The query is never auto-retried.
func (s *Service) CheckPaymentStatus(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	if err := s.consumeRateLimit(ctx, "status_check", ownerID, s.statusLimitPerMin); err != nil {
		return nil, err
	}

	sub, err := s.GetSubscription(ctx, ownerID, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status != domain.StatusPending || sub.CheckoutRequestID == nil {
		return sub, nil
	}

	result, err := s.gateway.STKQuery(ctx, *sub.CheckoutRequestID)
	if err != nil {
		return nil, err
	}

	switch result.ResultCode {
	case "0":
		act := Activation{PaidAmount: sub.Amount}
		applied, err := s.activateSubscription(ctx, sub, act)
		if err != nil {
			return nil, fmt.Errorf("activate subscription from poll: %w", err)
		}
		if applied {
			log.Printf("level=info component=poller msg=\"subscription activated from status query\" subscription_id=%s checkout_request_id=%s",
				sub.ID, *sub.CheckoutRequestID)
		}
	case "":
		// The gateway has no result yet; the push is still in flight.
		return sub, nil
	default:
		reason := s.gateway.ResultMessage(result.ResultCode, result.ResultDesc)
		applied, err := s.failSubscription(ctx, sub, reason)
		if err != nil {
			return nil, fmt.Errorf("fail subscription from poll: %w", err)
		}
		if applied {
			log.Printf("level=info component=poller msg=\"subscription marked failed from status query\" subscription_id=%s result_code=%s",
				sub.ID, result.ResultCode)
		}
	}

	return s.repo.FindSubscriptionByID(ctx, subscriptionID)
}
