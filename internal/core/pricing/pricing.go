// Package pricing derives cart totals from line items. Every function here is
// pure: same input, same output, no side effects.
package pricing

import "github.com/localmart/marketplace-client/internal/core/domain"

const bpsDenominator = 10_000

// Config holds the pricing constants. Amounts are in minor currency units.
type Config struct {
	// TaxRateBps is the tax rate in basis points (1800 = 18%).
	TaxRateBps int64
	// FreeDeliveryThreshold waives the delivery fee when subtotal >= threshold.
	FreeDeliveryThreshold domain.Money
	// DeliveryFee is the flat fee charged below the threshold.
	DeliveryFee domain.Money
}

// DefaultConfig returns 18% tax, free delivery from ₹500, ₹50 flat fee.
func DefaultConfig() Config {
	return Config{
		TaxRateBps:            1800,
		FreeDeliveryThreshold: 50_000,
		DeliveryFee:           5_000,
	}
}

// Subtotal is Σ(unitPrice × quantity).
func Subtotal(items []domain.LineItem) domain.Money {
	var sum domain.Money
	for _, it := range items {
		sum += it.LineTotal()
	}
	return sum
}

// Tax rounds subtotal × rate half-up to the nearest minor unit.
func (c Config) Tax(subtotal domain.Money) domain.Money {
	if subtotal <= 0 || c.TaxRateBps <= 0 {
		return 0
	}
	return domain.Money((int64(subtotal)*c.TaxRateBps + bpsDenominator/2) / bpsDenominator)
}

// DeliveryCharge is zero at or above the free-delivery threshold and the flat
// fee below it, free items included. ComputeTotals skips it for an empty cart.
func (c Config) DeliveryCharge(subtotal domain.Money) domain.Money {
	if subtotal >= c.FreeDeliveryThreshold {
		return 0
	}
	return c.DeliveryFee
}

// ComputeTotals derives all totals. The discount comes from the promotion
// evaluator and is only subtracted here; the total never goes below zero.
func (c Config) ComputeTotals(items []domain.LineItem, discount domain.Money) domain.Totals {
	subtotal := Subtotal(items)
	if len(items) == 0 {
		return domain.Totals{}
	}
	if discount < 0 {
		discount = 0
	}

	t := domain.Totals{
		Subtotal:       subtotal,
		Tax:            c.Tax(subtotal),
		DeliveryCharge: c.DeliveryCharge(subtotal),
		Discount:       discount,
	}
	t.Total = t.Subtotal + t.Tax + t.DeliveryCharge - t.Discount
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}
