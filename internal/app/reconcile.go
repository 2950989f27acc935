/**
 * @description
 * Idempotent reconciliation of asynchronous payment outcomes. Two paths feed
 * into this file: the callback webhook (the gateway pushes the outcome) and
 * the status poller (we pull it). Both drive the same guarded transitions in
 * transitions.go, so whichever observes the outcome first wins and the other
 * becomes a no-op.
 *
 * @notes
 * - The webhook contract requires a positive acknowledgement no matter what
 *   happened internally; a non-positive response triggers the gateway's own
 *   retry storm. Internal failures are therefore logged and absorbed, never
 *   surfaced to the gateway.
 * - The gateway delivers callbacks at least once. Reconciling a record
 *   already in a terminal state is a no-op regardless of the payload.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
)

// ReconcileCallback consumes an inbound payment outcome notification and
// applies it to the matching subscription. It never returns an error: the
// caller acknowledges the gateway positively regardless of what happened
// here.
func (s *Service) ReconcileCallback(ctx context.Context, cb domain.StkCallback) {
	if err := s.reconcile(ctx, cb); err != nil {
		log.Printf("level=error component=reconciler msg=\"callback reconciliation failed\" checkout_request_id=%s result_code=%d err=%v",
			cb.CheckoutRequestID, cb.ResultCode, err)
	}
}

func (s *Service) reconcile(ctx context.Context, cb domain.StkCallback) error {
	sub, err := s.lookupByCorrelationID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("level=warn component=reconciler msg=\"no subscription for callback; acknowledging\" checkout_request_id=%s", cb.CheckoutRequestID)
			return nil
		}
		return fmt.Errorf("lookup subscription: %w", err)
	}

	if sub.IsTerminal() {
		log.Printf("level=info component=reconciler msg=\"subscription already terminal; ignoring callback\" subscription_id=%s status=%s", sub.ID, sub.Status)
		return nil
	}

	if cb.ResultCode == 0 {
		return s.reconcileSuccess(ctx, sub, cb)
	}
	return s.reconcileFailure(ctx, sub, cb)
}

// lookupByCorrelationID finds the subscription for a checkout request id.
// When no record carries the id, the correlation id is retried as the
// subscription's own identifier. That second step is a compatibility fallback
// for historical records that stored the subscription id in the correlation
// field; it is kept as an explicit two-step lookup rather than dropped.
func (s *Service) lookupByCorrelationID(ctx context.Context, correlationID string) (*domain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByCheckoutRequestID(ctx, correlationID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, err
	}

	id, parseErr := uuid.Parse(correlationID)
	if parseErr != nil {
		return nil, store.ErrSubscriptionNotFound
	}
	return s.repo.FindSubscriptionByID(ctx, id)
}

func (s *Service) reconcileSuccess(ctx context.Context, sub *domain.Subscription, cb domain.StkCallback) error {
	receiptItem, haveReceipt := cb.CallbackMetadata.Item(domain.MetadataReceiptNumber)
	amountItem, haveAmount := cb.CallbackMetadata.Item(domain.MetadataAmount)
	if !haveReceipt || !haveAmount {
		// A success without payment evidence is treated as unreconciled, not
		// as a failure: the record stays pending so a later, well-formed
		// delivery or a status poll can still complete it.
		log.Printf("level=warn component=reconciler msg=\"success callback missing metadata; leaving record untouched\" subscription_id=%s checkout_request_id=%s",
			sub.ID, cb.CheckoutRequestID)
		return nil
	}

	receipt, ok := receiptItem.StringValue()
	if !ok || receipt == "" {
		log.Printf("level=warn component=reconciler msg=\"success callback carries empty receipt; leaving record untouched\" subscription_id=%s", sub.ID)
		return nil
	}
	amount, ok := amountItem.Int64Value()
	if !ok {
		log.Printf("level=warn component=reconciler msg=\"success callback carries unreadable amount; leaving record untouched\" subscription_id=%s", sub.ID)
		return nil
	}

	act := Activation{
		ReceiptNumber: receipt,
		PaidAmount:    amount,
	}
	if phoneItem, havePhone := cb.CallbackMetadata.Item(domain.MetadataPhoneNumber); havePhone {
		if phone, ok := phoneItem.StringValue(); ok {
			act.PayerPhone = phone
		}
	}

	applied, err := s.activateSubscription(ctx, sub, act)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	if !applied {
		log.Printf("level=info component=reconciler msg=\"activation lost the race; no-op\" subscription_id=%s", sub.ID)
		return nil
	}

	log.Printf("level=info component=reconciler msg=\"subscription activated\" subscription_id=%s receipt=%s amount=%d", sub.ID, receipt, amount)
	return nil
}

func (s *Service) reconcileFailure(ctx context.Context, sub *domain.Subscription, cb domain.StkCallback) error {
	reason := s.gateway.ResultMessage(strconv.Itoa(cb.ResultCode), cb.ResultDesc)

	applied, err := s.failSubscription(ctx, sub, reason)
	if err != nil {
		return fmt.Errorf("fail subscription: %w", err)
	}
	if !applied {
		log.Printf("level=info component=reconciler msg=\"failure transition lost the race; no-op\" subscription_id=%s", sub.ID)
		return nil
	}

	log.Printf("level=info component=reconciler msg=\"subscription marked failed\" subscription_id=%s result_code=%d reason=%q", sub.ID, cb.ResultCode, reason)
	return nil
}
