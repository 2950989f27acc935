package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/pkg/daraja"
)

type pollerGatewayStub struct {
	queryResult *daraja.QueryResult
	queryErr    error
	messages    map[string]string

	queried string
}

func (g *pollerGatewayStub) STKPush(ctx context.Context, req daraja.PushRequest) (*daraja.PushResult, error) {
	return nil, errors.New("unexpected push")
}

func (g *pollerGatewayStub) STKQuery(ctx context.Context, checkoutRequestID string) (*daraja.QueryResult, error) {
	g.queried = checkoutRequestID
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.queryResult, nil
}

func (g *pollerGatewayStub) ResultMessage(code, gatewayDesc string) string {
	if msg, ok := g.messages[code]; ok {
		return msg
	}
	return gatewayDesc
}

func TestCheckPaymentStatusActivatesOnSuccessfulQuery(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_poll")}
	gateway := &pollerGatewayStub{queryResult: &daraja.QueryResult{
		ResultCode: "0",
		ResultDesc: "The service request is processed successfully.",
	}}
	publisher := &publisherStub{}
	svc := NewService(repo, gateway, publisher, "https://example.com/callback")

	sub, err := svc.CheckPaymentStatus(context.Background(), repo.sub.OwnerID, repo.sub.ID)
	if err != nil {
		t.Fatalf("CheckPaymentStatus returned error: %v", err)
	}

	if gateway.queried != "ws_CO_poll" {
		t.Fatalf("expected query for the stored checkout id, got %q", gateway.queried)
	}
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected active subscription, got %q", sub.Status)
	}
	if sub.PaidAmount == nil || *sub.PaidAmount != 500 {
		t.Fatalf("expected plan amount recorded as paid, got %v", sub.PaidAmount)
	}
	if sub.ReceiptNumber != nil {
		t.Fatalf("expected no receipt from the polling path, got %v", sub.ReceiptNumber)
	}
	if len(publisher.events) != 1 || publisher.events[0].Status != domain.StatusActive {
		t.Fatalf("expected one active event, got %+v", publisher.events)
	}
}

func TestCheckPaymentStatusActivationIgnoresLateCallback(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_poll_late")}
	gateway := &pollerGatewayStub{queryResult: &daraja.QueryResult{
		ResultCode: "0",
		ResultDesc: "The service request is processed successfully.",
	}}
	publisher := &publisherStub{}
	svc := NewService(repo, gateway, publisher, "https://example.com/callback")

	if _, err := svc.CheckPaymentStatus(context.Background(), repo.sub.OwnerID, repo.sub.ID); err != nil {
		t.Fatalf("CheckPaymentStatus returned error: %v", err)
	}
	writes := repo.updateCalls

	// The callback that went missing finally shows up; the settled record
	// absorbs it without a write, so the receipt is never backfilled.
	svc.ReconcileCallback(context.Background(), successCallback(t, "ws_CO_poll_late"))

	if repo.sub.Status != domain.StatusActive {
		t.Fatalf("expected record to stay active, got %q", repo.sub.Status)
	}
	if repo.sub.ReceiptNumber != nil {
		t.Fatalf("expected no receipt from a late callback, got %v", *repo.sub.ReceiptNumber)
	}
	if repo.updateCalls != writes {
		t.Fatalf("expected no writes for a late callback, got %d extra", repo.updateCalls-writes)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected a single active event, got %d", len(publisher.events))
	}
}

func TestCheckPaymentStatusFailsOnCancelledQuery(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_poll_cancel")}
	gateway := &pollerGatewayStub{
		queryResult: &daraja.QueryResult{ResultCode: "1032", ResultDesc: "Request cancelled by user"},
		messages:    map[string]string{"1032": "Request cancelled by user"},
	}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	sub, err := svc.CheckPaymentStatus(context.Background(), repo.sub.OwnerID, repo.sub.ID)
	if err != nil {
		t.Fatalf("CheckPaymentStatus returned error: %v", err)
	}

	if sub.Status != domain.StatusFailed {
		t.Fatalf("expected failed subscription, got %q", sub.Status)
	}
	if sub.FailureReason == nil || *sub.FailureReason != "Request cancelled by user" {
		t.Fatalf("expected mapped failure reason, got %v", sub.FailureReason)
	}
	if sub.StartDate != nil {
		t.Fatal("expected start date to stay unset on failure")
	}
}

func TestCheckPaymentStatusLeavesInFlightPushPending(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_poll_wait")}
	gateway := &pollerGatewayStub{queryResult: &daraja.QueryResult{}}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	sub, err := svc.CheckPaymentStatus(context.Background(), repo.sub.OwnerID, repo.sub.ID)
	if err != nil {
		t.Fatalf("CheckPaymentStatus returned error: %v", err)
	}
	if sub.Status != domain.StatusPending {
		t.Fatalf("expected record to stay pending while in flight, got %q", sub.Status)
	}
	if repo.updateCalls != 0 {
		t.Fatalf("expected no writes while in flight, got %d", repo.updateCalls)
	}
}

func TestCheckPaymentStatusSkipsNonPendingSubscription(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_done")}
	repo.sub.Status = domain.StatusActive
	gateway := &pollerGatewayStub{}
	svc := NewService(repo, gateway, nil, "https://example.com/callback")

	sub, err := svc.CheckPaymentStatus(context.Background(), repo.sub.OwnerID, repo.sub.ID)
	if err != nil {
		t.Fatalf("CheckPaymentStatus returned error: %v", err)
	}
	if sub.Status != domain.StatusActive {
		t.Fatalf("expected record returned unchanged, got %q", sub.Status)
	}
	if gateway.queried != "" {
		t.Fatal("expected no gateway query for a settled record")
	}
}

func TestCheckPaymentStatusRejectsForeignSubscription(t *testing.T) {
	repo := &reconcileRepoStub{sub: pendingSubscription("ws_CO_foreign")}
	svc := NewService(repo, &pollerGatewayStub{}, nil, "https://example.com/callback")

	_, err := svc.CheckPaymentStatus(context.Background(), uuid.New(), repo.sub.ID)
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}
