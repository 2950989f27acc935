/**
 * @description
 * This file contains the core business logic for the subscription-service. The
 * `Service` struct orchestrates subscription purchases, coordinating between the
 * database repository, the Daraja gateway client, and the message broker.
 *
 * Key features:
 * - Implements the main use case: creating a pending subscription and
 *   submitting the STK push that pays for it.
 * - Persists the gateway's checkout request id on the subscription before
 *   returning control, since that id is the only linkage available for later
 *   reconciliation.
 * - Publishes lifecycle events to RabbitMQ for asynchronous processing by
 *   other services.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/daraja, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
	"github.com/lipia/subscription-service/pkg/daraja"
)

const (
	maxAccountReferenceLen = 12
	maxDescriptionLen      = 13

	defaultListLimit = 20
	maxListLimit     = 100
)

// ValidationError reports a request the user can fix: bad phone format,
// unknown plan, and similar.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RateLimitedError reports that the caller exceeded the push or status-check
// rate limit. RetryAfterSeconds tells the client when to try again.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %ds", e.RetryAfterSeconds)
}

// ErrNotOwned is returned when a caller addresses a subscription that belongs
// to a different owner.
var ErrNotOwned = errors.New("subscription does not belong to caller")

// Gateway is the subset of the Daraja client used by the service. Defined
// here so tests can substitute a stub.
type Gateway interface {
	STKPush(ctx context.Context, push daraja.PushRequest) (*daraja.PushResult, error)
	STKQuery(ctx context.Context, checkoutRequestID string) (*daraja.QueryResult, error)
	ResultMessage(code, gatewayDesc string) string
}

// Publisher is the subset of the RabbitMQ producer used by the service.
type Publisher interface {
	PublishSubscriptionEvent(ctx context.Context, event domain.SubscriptionEvent) error
}

// RateLimiter is the distributed fixed-window limiter used to throttle
// push initiations and status checks per owner.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for subscription payments.
type Service struct {
	repo          store.Repository
	gateway       Gateway
	eventProducer Publisher
	callbackURL   string

	rateLimiter          RateLimiter
	subscribeLimitPerMin int
	statusLimitPerMin    int
}

// NewService creates a new subscription service instance.
func NewService(repo store.Repository, gateway Gateway, producer Publisher, callbackURL string) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		callbackURL:   callbackURL,
	}
}

// ConfigureRateLimits sets the per-owner fixed-window limits. Zero disables a
// limit.
func (s *Service) ConfigureRateLimits(subscribePerMinute, statusPerMinute int) {
	s.subscribeLimitPerMin = subscribePerMinute
	s.statusLimitPerMin = statusPerMinute
}

// SetRateLimiter attaches the distributed rate limiter. Without one the
// limits are not enforced.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

func (s *Service) consumeRateLimit(ctx context.Context, scope string, ownerID uuid.UUID, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, ownerID.String(), limit, time.Minute)
	if err != nil {
		// Rate limiting is protective, not load-bearing; a limiter outage
		// must not block payments.
		log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// accountReference derives the short merchant reference attached to the push
// request from the subscription id. The gateway caps it at 12 characters.
func accountReference(id uuid.UUID) string {
	ref := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	if len(ref) > maxAccountReferenceLen {
		ref = ref[:maxAccountReferenceLen]
	}
	return ref
}

// pushDescription builds the short transaction description shown on the
// payer's statement. The gateway caps it at 13 characters.
func pushDescription(category string) string {
	desc := strings.ToUpper(strings.TrimSpace(category))
	if desc == "" {
		desc = "SUBSCRIPTION"
	}
	if len(desc) > maxDescriptionLen {
		desc = desc[:maxDescriptionLen]
	}
	return desc
}

// Subscribe creates a pending subscription for the requested plan and submits
// the STK push that pays for it. On success the returned subscription carries
// the gateway's checkout request id, already persisted; the payment itself
// completes asynchronously through the callback or the status poller.
func (s *Service) Subscribe(ctx context.Context, ownerID uuid.UUID, req domain.SubscribeRequest) (*domain.Subscription, error) {
	if err := s.consumeRateLimit(ctx, "subscribe", ownerID, s.subscribeLimitPerMin); err != nil {
		return nil, err
	}

	phone, err := daraja.NormalizePhone(req.Phone)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid phone number %q", req.Phone)}
	}

	plan, err := s.repo.FindPlan(ctx, req.Category, req.PlanName)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			return nil, &ValidationError{Message: fmt.Sprintf("no active plan %q in category %q", req.PlanName, req.Category)}
		}
		return nil, fmt.Errorf("failed to look up plan: %w", err)
	}
	if plan.Amount <= 0 {
		return nil, &ValidationError{Message: "plan amount must be positive"}
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Category: plan.Category,
		PlanName: plan.Name,
		Amount:   plan.Amount,
		Status:   domain.StatusPending,
		EndDate:  now.AddDate(0, 0, plan.DurationDays),
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	push := daraja.PushRequest{
		Phone:            phone,
		Amount:           plan.Amount,
		AccountReference: accountReference(sub.ID),
		Description:      pushDescription(plan.Category),
		CallbackURL:      s.callbackURL,
	}

	result, err := s.gateway.STKPush(ctx, push)
	if err != nil {
		s.recordPushFailure(ctx, sub, err)
		return nil, err
	}

	// Persist the correlation id before returning control. The callback can
	// arrive the moment the gateway has responded, and a record without this
	// id can never be reconciled.
	if err := s.repo.AttachCheckoutRequest(ctx, sub.ID, result.CheckoutRequestID, result.MerchantRequestID); err != nil {
		log.Printf("level=error component=service msg=\"failed to persist checkout request id\" subscription_id=%s checkout_request_id=%s err=%v",
			sub.ID, result.CheckoutRequestID, err)
		return nil, fmt.Errorf("failed to persist checkout request id: %w", err)
	}

	sub.CheckoutRequestID = &result.CheckoutRequestID
	sub.MerchantRequestID = &result.MerchantRequestID

	log.Printf("level=info component=service msg=\"push submitted\" subscription_id=%s owner_id=%s plan=%s/%s amount=%d checkout_request_id=%s",
		sub.ID, ownerID, plan.Category, plan.Name, plan.Amount, result.CheckoutRequestID)

	return sub, nil
}

// recordPushFailure marks a just-created pending subscription as failed when
// the push submission itself did not go through. Submissions are never
// auto-retried: a second push would raise a duplicate PIN prompt, so the
// caller must explicitly subscribe again.
func (s *Service) recordPushFailure(ctx context.Context, sub *domain.Subscription, pushErr error) {
	reason := "The payment request could not be submitted."
	var gwErr *daraja.GatewayError
	if errors.As(pushErr, &gwErr) {
		reason = gwErr.Message
	}

	if _, err := s.failSubscription(ctx, sub, reason); err != nil {
		log.Printf("level=error component=service msg=\"failed to record push failure\" subscription_id=%s err=%v", sub.ID, err)
	}
	log.Printf("level=warn component=service msg=\"push submission failed\" subscription_id=%s err=%v", sub.ID, pushErr)
}

// GetSubscription retrieves a subscription owned by the caller.
func (s *Service) GetSubscription(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	return sub, nil
}

// ListSubscriptions retrieves the caller's subscriptions, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Subscription, error) {
	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListSubscriptionsByOwner(ctx, ownerID, limit, offset)
}

// ListPlans retrieves the purchasable plan catalog.
func (s *Service) ListPlans(ctx context.Context, category string) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, category)
}

// Cancel performs the administrative cancel transition. Only pending and
// active subscriptions can be cancelled; anything else is left untouched and
// reported back as-is.
func (s *Service) Cancel(ctx context.Context, ownerID, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.GetSubscription(ctx, ownerID, subscriptionID)
	if err != nil {
		return nil, err
	}

	applied, err := s.cancelSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if !applied {
		return sub, nil
	}
	return s.repo.FindSubscriptionByID(ctx, subscriptionID)
}

// SweepExpired transitions every active subscription whose end date has
// passed to expired and publishes an event per moved record. Returns the
// number of records moved. Scheduled by the cron sweeper; safe to run
// concurrently with itself.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireLapsedSubscriptions(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire lapsed subscriptions: %w", err)
	}

	for i := range expired {
		s.publishEvent(ctx, &expired[i], domain.StatusExpired)
	}

	if len(expired) > 0 {
		log.Printf("level=info component=service msg=\"expiry sweep moved subscriptions\" count=%d", len(expired))
	}
	return len(expired), nil
}
