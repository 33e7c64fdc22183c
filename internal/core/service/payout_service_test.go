package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

type chanInitiator struct {
	calls chan ports.PayoutRequest
	err   error
}

func (c *chanInitiator) InitiatePayout(_ context.Context, req ports.PayoutRequest) error {
	c.calls <- req
	return c.err
}

func TestPayoutService_RequestPayout(t *testing.T) {
	owner := signedIn("u1", &domain.Profile{UserID: "u1", Role: domain.RoleBusinessOwner, BusinessID: "b1"})
	customer := signedIn("u2", &domain.Profile{UserID: "u2", Role: domain.RoleCustomer})

	tests := []struct {
		name    string
		session SessionReader
		in      ports.PayoutInput
		wantErr error
	}{
		{"ok", owner, ports.PayoutInput{BusinessID: "b1", Amount: 10_000, BankAccountID: "acc"}, nil},
		{"anonymous", fixedSession{}, ports.PayoutInput{BusinessID: "b1", Amount: 1, BankAccountID: "acc"}, domain.ErrNotAuthenticated},
		{"customer", customer, ports.PayoutInput{BusinessID: "b1", Amount: 1, BankAccountID: "acc"}, domain.ErrForbidden},
		{"other business", owner, ports.PayoutInput{BusinessID: "b2", Amount: 1, BankAccountID: "acc"}, domain.ErrForbidden},
		{"zero amount", owner, ports.PayoutInput{BusinessID: "b1", BankAccountID: "acc"}, domain.ErrInvalidAmount},
		{"no bank account", owner, ports.PayoutInput{BusinessID: "b1", Amount: 1}, domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initiator := &chanInitiator{calls: make(chan ports.PayoutRequest, 1)}
			svc := NewPayoutService(tt.session, initiator, time.Second, zerolog.Nop())

			err := svc.RequestPayout(context.Background(), tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				select {
				case <-initiator.calls:
					t.Error("initiator must not be called for a rejected request")
				case <-time.After(20 * time.Millisecond):
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			select {
			case req := <-initiator.calls:
				if req.BusinessID != "b1" || req.Amount != 10_000 {
					t.Errorf("unexpected request %+v", req)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("initiator not called")
			}
		})
	}
}

func TestPayoutService_FailureIsNotReturned(t *testing.T) {
	owner := signedIn("u1", &domain.Profile{UserID: "u1", Role: domain.RoleBusinessOwner, BusinessID: "b1"})
	initiator := &chanInitiator{calls: make(chan ports.PayoutRequest, 1), err: errBoom}
	svc := NewPayoutService(owner, initiator, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.RequestPayout(ctx, ports.PayoutInput{BusinessID: "b1", Amount: 5, BankAccountID: "acc"}); err != nil {
		t.Fatalf("expected fire-and-forget success, got %v", err)
	}
	cancel()

	select {
	case <-initiator.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("initiator not called after caller context ended")
	}
}
