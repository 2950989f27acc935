package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lipia/subscription-service/internal/domain"
	"github.com/lipia/subscription-service/internal/store"
)

type expireRepoStub struct {
	store.Repository

	lapsed []domain.Subscription
	calls  int
}

func (s *expireRepoStub) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	s.calls++
	moved := s.lapsed
	s.lapsed = nil
	for i := range moved {
		moved[i].Status = domain.StatusExpired
	}
	return moved, nil
}

func TestSweepExpiredPublishesPerMovedRecord(t *testing.T) {
	repo := &expireRepoStub{lapsed: []domain.Subscription{
		{ID: uuid.New(), OwnerID: uuid.New(), Category: "internet", PlanName: "weekly", Amount: 500, Status: domain.StatusActive},
		{ID: uuid.New(), OwnerID: uuid.New(), Category: "tv", PlanName: "monthly", Amount: 1500, Status: domain.StatusActive},
	}}
	publisher := &publisherStub{}
	svc := NewService(repo, &reconcileGatewayStub{}, publisher, "https://example.com/callback")

	moved, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 moved records, got %d", moved)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected one event per moved record, got %d", len(publisher.events))
	}
	for _, event := range publisher.events {
		if event.Status != domain.StatusExpired {
			t.Fatalf("expected expired events, got %+v", event)
		}
	}
}

func TestSweepExpiredSecondRunIsNoOp(t *testing.T) {
	repo := &expireRepoStub{lapsed: []domain.Subscription{
		{ID: uuid.New(), Status: domain.StatusActive},
	}}
	publisher := &publisherStub{}
	svc := NewService(repo, &reconcileGatewayStub{}, publisher, "https://example.com/callback")

	if _, err := svc.SweepExpired(context.Background()); err != nil {
		t.Fatalf("first sweep returned error: %v", err)
	}
	moved, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("second sweep returned error: %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected no records on the second run, got %d", moved)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected no further events on the second run, got %d", len(publisher.events))
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{domain.StatusPending, domain.StatusActive, true},
		{domain.StatusPending, domain.StatusFailed, true},
		{domain.StatusPending, domain.StatusCancelled, true},
		{domain.StatusPending, domain.StatusExpired, false},
		{domain.StatusActive, domain.StatusExpired, true},
		{domain.StatusActive, domain.StatusCancelled, true},
		{domain.StatusActive, domain.StatusFailed, false},
		{domain.StatusFailed, domain.StatusActive, false},
		{domain.StatusExpired, domain.StatusActive, false},
		{domain.StatusCancelled, domain.StatusActive, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%q, %q) = %t, want %t", tc.from, tc.to, got, tc.want)
		}
	}
}
