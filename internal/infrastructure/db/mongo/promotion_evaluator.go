package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

const promotionsCollection = "promotions"

// promotion is a discount code document. A code grants AmountOff plus
// PercentBps of the subtotal, never more than the subtotal itself.
type promotion struct {
	Code        string     `bson:"_id"`
	Active      bool       `bson:"active"`
	AmountOff   int64      `bson:"amount_off,omitempty"`
	PercentBps  int64      `bson:"percent_bps,omitempty"`
	MinSubtotal int64      `bson:"min_subtotal,omitempty"`
	ExpiresAt   *time.Time `bson:"expires_at,omitempty"`
}

// PromotionEvaluator implements ports.PromotionEvaluator against the
// promotions collection.
type PromotionEvaluator struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewPromotionEvaluator(db *mongo.Database) *PromotionEvaluator {
	return &PromotionEvaluator{coll: db.Collection(promotionsCollection), now: time.Now}
}

// Evaluate returns the discount code grants on subtotal.
func (e *PromotionEvaluator) Evaluate(ctx context.Context, code string, subtotal domain.Money) (domain.Money, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p promotion
	err := e.coll.FindOne(ctx, bson.M{"_id": strings.ToUpper(strings.TrimSpace(code))}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, domain.ErrPromotionNotApplicable
		}
		return 0, fmt.Errorf("find promotion: %w", err)
	}
	return p.discount(subtotal, e.now())
}

func (p promotion) discount(subtotal domain.Money, now time.Time) (domain.Money, error) {
	switch {
	case !p.Active:
		return 0, domain.ErrPromotionNotApplicable
	case p.ExpiresAt != nil && !now.Before(*p.ExpiresAt):
		return 0, domain.ErrPromotionNotApplicable
	case subtotal <= 0 || int64(subtotal) < p.MinSubtotal:
		return 0, domain.ErrPromotionNotApplicable
	}

	d := domain.Money(p.AmountOff) + domain.Money(int64(subtotal)*p.PercentBps/10_000)
	if d > subtotal {
		d = subtotal
	}
	if d <= 0 {
		return 0, domain.ErrPromotionNotApplicable
	}
	return d, nil
}
