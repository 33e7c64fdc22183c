package ports

import (
	"context"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// AddItemInput carries a product or service to put in the cart.
type AddItemInput struct {
	ItemRef             string
	MerchantID          string
	Name                string
	UnitPrice           domain.Money
	Quantity            int // 0 means 1
	Customizations      domain.Customizations
	SpecialInstructions string
}

// CartService owns the shopping-cart aggregate.
type CartService interface {
	Cart() domain.Cart
	AddItem(ctx context.Context, in AddItemInput) (domain.Cart, error)
	RemoveItem(ctx context.Context, lineID string) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, lineID string, quantity int) (domain.Cart, error)
	UpdateCustomizations(ctx context.Context, lineID string, c domain.Customizations) (domain.Cart, error)
	ApplyPromotion(ctx context.Context, code string) (domain.Cart, error)
	RemovePromotion(ctx context.Context) (domain.Cart, error)
	Clear(ctx context.Context) error
}

// PlaceOrderInput carries the checkout details not held by the cart.
type PlaceOrderInput struct {
	DeliveryAddress string
	PaymentMethod   string
	Notes           string
}

// CheckoutService turns the cart into a remote order.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error)
}
