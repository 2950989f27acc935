package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
	"github.com/lipia/subscription-service/pkg/daraja"
)

type subscribeRepoStub struct {
	store.Repository

	plan    *domain.Plan
	planErr error

	created *domain.Subscription

	attachedID                uuid.UUID
	attachedCheckoutRequestID string
	attachedMerchantRequestID string
	attachErr                 error

	failPatch *store.SubscriptionPatch
}

func (s *subscribeRepoStub) FindPlan(ctx context.Context, category, name string) (*domain.Plan, error) {
	if s.planErr != nil {
		return nil, s.planErr
	}
	return s.plan, nil
}

func (s *subscribeRepoStub) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	copied := *sub
	s.created = &copied
	return nil
}

func (s *subscribeRepoStub) AttachCheckoutRequest(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	s.attachedID = id
	s.attachedCheckoutRequestID = checkoutRequestID
	s.attachedMerchantRequestID = merchantRequestID
	return nil
}

func (s *subscribeRepoStub) UpdateSubscriptionIfStatus(ctx context.Context, id uuid.UUID, expectedStatus string, patch store.SubscriptionPatch) (bool, error) {
	s.failPatch = &patch
	return true, nil
}

type subscribeGatewayStub struct {
	result  *daraja.PushResult
	pushErr error

	pushed *daraja.PushRequest
}

func (g *subscribeGatewayStub) STKPush(ctx context.Context, req daraja.PushRequest) (*daraja.PushResult, error) {
	copied := req
	g.pushed = &copied
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return g.result, nil
}

func (g *subscribeGatewayStub) STKQuery(ctx context.Context, checkoutRequestID string) (*daraja.QueryResult, error) {
	return nil, errors.New("unexpected query")
}

func (g *subscribeGatewayStub) ResultMessage(code, gatewayDesc string) string {
	return gatewayDesc
}

func weeklyPlan() *domain.Plan {
	return &domain.Plan{
		ID:           uuid.New(),
		Category:     "internet",
		Name:         "weekly",
		Amount:       500,
		DurationDays: 7,
		Active:       true,
	}
}

func TestSubscribePersistsCheckoutRequestID(t *testing.T) {
	repo := &subscribeRepoStub{plan: weeklyPlan()}
	gateway := &subscribeGatewayStub{result: &daraja.PushResult{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResponseCode:      "0",
	}}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	ownerID := uuid.New()
	sub, err := svc.Subscribe(context.Background(), ownerID, domain.SubscribeRequest{
		Category: "internet",
		PlanName: "weekly",
		Phone:    "0712345678",
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if sub.Status != domain.StatusPending {
		t.Fatalf("expected pending subscription, got %q", sub.Status)
	}
	if sub.CheckoutRequestID == nil || *sub.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("expected checkout request id on returned record, got %v", sub.CheckoutRequestID)
	}
	if repo.attachedID != sub.ID {
		t.Fatalf("expected checkout id attached to %s, got %s", sub.ID, repo.attachedID)
	}
	if repo.attachedCheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("expected checkout id persisted, got %q", repo.attachedCheckoutRequestID)
	}
	if gateway.pushed == nil {
		t.Fatal("expected a push submission")
	}
	if gateway.pushed.Phone != "254712345678" {
		t.Fatalf("expected normalized phone on push, got %q", gateway.pushed.Phone)
	}
	if gateway.pushed.Amount != 500 {
		t.Fatalf("expected plan amount on push, got %d", gateway.pushed.Amount)
	}
	if len(gateway.pushed.AccountReference) > 12 {
		t.Fatalf("account reference exceeds gateway cap: %q", gateway.pushed.AccountReference)
	}
	if len(gateway.pushed.Description) > 13 {
		t.Fatalf("description exceeds gateway cap: %q", gateway.pushed.Description)
	}
	if repo.created == nil {
		t.Fatal("expected subscription row created before the push")
	}
	wantEnd := time.Now().AddDate(0, 0, 7)
	if repo.created.EndDate.Before(wantEnd.Add(-time.Minute)) || repo.created.EndDate.After(wantEnd.Add(time.Minute)) {
		t.Fatalf("expected end date about 7 days out, got %v", repo.created.EndDate)
	}
}

func TestSubscribeAttachFailureSurfacesError(t *testing.T) {
	repo := &subscribeRepoStub{plan: weeklyPlan(), attachErr: store.ErrDuplicateCheckoutRequest}
	gateway := &subscribeGatewayStub{result: &daraja.PushResult{
		CheckoutRequestID: "ws_CO_dup",
		ResponseCode:      "0",
	}}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	_, err := svc.Subscribe(context.Background(), uuid.New(), domain.SubscribeRequest{
		Category: "internet",
		PlanName: "weekly",
		Phone:    "0712345678",
	})
	if err == nil {
		t.Fatal("expected error when the checkout id cannot be persisted")
	}
	if !errors.Is(err, store.ErrDuplicateCheckoutRequest) {
		t.Fatalf("expected wrapped duplicate checkout error, got %v", err)
	}
}

func TestSubscribeGatewayRejectionMarksSubscriptionFailed(t *testing.T) {
	repo := &subscribeRepoStub{plan: weeklyPlan()}
	gateway := &subscribeGatewayStub{pushErr: &daraja.GatewayError{
		Code:        "1037",
		Description: "DS timeout user cannot be reached",
		Message:     "Your phone could not be reached. Please try again.",
	}}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	_, err := svc.Subscribe(context.Background(), uuid.New(), domain.SubscribeRequest{
		Category: "internet",
		PlanName: "weekly",
		Phone:    "0712345678",
	})
	if err == nil {
		t.Fatal("expected push error to be surfaced")
	}

	if repo.failPatch == nil {
		t.Fatal("expected the pending record to be marked failed")
	}
	if repo.failPatch.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %q", repo.failPatch.Status)
	}
	if repo.failPatch.FailureReason == nil || *repo.failPatch.FailureReason != "Your phone could not be reached. Please try again." {
		t.Fatalf("expected user-facing failure reason, got %v", repo.failPatch.FailureReason)
	}
}

func TestSubscribeRejectsInvalidPhone(t *testing.T) {
	repo := &subscribeRepoStub{plan: weeklyPlan()}
	svc := NewService(repo, &subscribeGatewayStub{}, nil, "https://example.com/callback")

	_, err := svc.Subscribe(context.Background(), uuid.New(), domain.SubscribeRequest{
		Category: "internet",
		PlanName: "weekly",
		Phone:    "12345",
	})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.created != nil {
		t.Fatal("expected no subscription row for an invalid phone")
	}
}

func TestSubscribeRejectsUnknownPlan(t *testing.T) {
	repo := &subscribeRepoStub{planErr: store.ErrPlanNotFound}
	svc := NewService(repo, &subscribeGatewayStub{}, nil, "https://example.com/callback")

	_, err := svc.Subscribe(context.Background(), uuid.New(), domain.SubscribeRequest{
		Category: "internet",
		PlanName: "lifetime",
		Phone:    "0712345678",
	})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
