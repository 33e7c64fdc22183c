package ports

import (
	"context"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// PromotionEvaluator prices a promotion code against a subtotal. It returns
// domain.ErrPromotionNotApplicable when the code does not apply.
type PromotionEvaluator interface {
	Evaluate(ctx context.Context, code string, subtotal domain.Money) (domain.Money, error)
}

// PayoutRequest is handed to the payout initiator.
type PayoutRequest struct {
	BusinessID    string
	Amount        domain.Money
	BankAccountID string
}

// PayoutInitiator starts a bank payout for a business.
type PayoutInitiator interface {
	InitiatePayout(ctx context.Context, req PayoutRequest) error
}
