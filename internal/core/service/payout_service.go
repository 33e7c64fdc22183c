package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

const defaultPayoutTimeout = 30 * time.Second

type payoutService struct {
	session   SessionReader
	initiator ports.PayoutInitiator
	timeout   time.Duration
	log       zerolog.Logger
}

// NewPayoutService returns a PayoutService. A non-positive timeout uses
// defaultPayoutTimeout.
func NewPayoutService(session SessionReader, initiator ports.PayoutInitiator, timeout time.Duration, log zerolog.Logger) ports.PayoutService {
	if timeout <= 0 {
		timeout = defaultPayoutTimeout
	}
	return &payoutService{session: session, initiator: initiator, timeout: timeout, log: log}
}

// RequestPayout validates the request against the session and hands it to the
// payout initiator in the background. The outcome is only logged.
func (s *payoutService) RequestPayout(ctx context.Context, in ports.PayoutInput) error {
	sess := s.session.Session()
	if !sess.IsAuthenticated() {
		return fmt.Errorf("request payout: %w", domain.ErrNotAuthenticated)
	}
	if sess.Role() != domain.RoleBusinessOwner || sess.Profile.BusinessID != in.BusinessID {
		return fmt.Errorf("request payout: %w", domain.ErrForbidden)
	}
	if in.Amount <= 0 || in.BankAccountID == "" {
		return fmt.Errorf("request payout: %w", domain.ErrInvalidAmount)
	}

	req := ports.PayoutRequest{BusinessID: in.BusinessID, Amount: in.Amount, BankAccountID: in.BankAccountID}
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, s.timeout)
		defer cancel()

		log := s.log.With().Str("business_id", req.BusinessID).Int64("amount", int64(req.Amount)).Logger()
		if err := s.initiator.InitiatePayout(ctx, req); err != nil {
			log.Error().Err(err).Msg("payout initiation failed")
			return
		}
		log.Info().Msg("payout initiated")
	}()
	return nil
}
