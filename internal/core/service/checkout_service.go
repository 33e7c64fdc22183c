package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const ordersCollection = "orders"

// SessionReader exposes the current session to services that only read it.
type SessionReader interface {
	Session() domain.Session
}

// OrderCart is the cart as checkout sees it.
type OrderCart interface {
	Cart() domain.Cart
	ReleaseSubmitted(ctx context.Context, submitted domain.Cart) error
}

type checkoutService struct {
	cart    OrderCart
	session SessionReader
	data    ports.DataService
	newID   func() string
	now     func() time.Time
	log     zerolog.Logger
}

// NewCheckoutService returns a CheckoutService implementation.
func NewCheckoutService(cart OrderCart, session SessionReader, data ports.DataService, log zerolog.Logger) ports.CheckoutService {
	return &checkoutService{
		cart:    cart,
		session: session,
		data:    data,
		newID:   uuid.NewString,
		now:     time.Now,
		log:     log,
	}
}

// PlaceOrder submits the cart as a pending order and then takes the submitted
// lines off the cart. If the submission fails the cart is left untouched.
func (s *checkoutService) PlaceOrder(ctx context.Context, in ports.PlaceOrderInput) (*domain.Order, error) {
	sess := s.session.Session()
	if !sess.IsAuthenticated() {
		return nil, fmt.Errorf("place order: %w", domain.ErrNotAuthenticated)
	}

	cart := s.cart.Cart()
	if cart.IsEmpty() {
		return nil, fmt.Errorf("place order: %w", domain.ErrEmptyCart)
	}

	order := &domain.Order{
		ID:              s.newID(),
		CustomerID:      sess.Identity.UserID,
		BusinessID:      cart.MerchantID,
		Items:           cart.Items,
		Totals:          cart.Totals,
		Status:          domain.OrderPending,
		DeliveryAddress: in.DeliveryAddress,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		CreatedAt:       s.now().UTC(),
	}
	if cart.Promotion != nil {
		order.PromotionCode = cart.Promotion.Code
	}

	if err := s.data.Put(ctx, ordersCollection, order.ID, order); err != nil {
		metrics.OrdersPlacedTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("business_id", order.BusinessID).Msg("failed to submit order")
		return nil, fmt.Errorf("place order: submit: %w", err)
	}
	metrics.OrdersPlacedTotal.WithLabelValues("ok").Inc()

	// The order exists remotely; a failed local clear must not fail checkout.
	if err := s.cart.ReleaseSubmitted(ctx, cart); err != nil {
		s.log.Warn().Err(err).Str("order_id", order.ID).Msg("failed to clear cart after checkout")
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("business_id", order.BusinessID).
		Int64("total", int64(order.Totals.Total)).
		Msg("order placed")
	return order, nil
}
