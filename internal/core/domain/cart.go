package domain

import "errors"

// Money is an amount in the smallest currency unit (paise for INR).
type Money int64

var (
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidPrice           = errors.New("invalid unit price")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrPromotionNotApplicable = errors.New("promotion not applicable")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidItem            = errors.New("item reference and merchant are required")
	ErrCartChanged            = errors.New("cart changed while the request was in flight")
)

// Customization is a single option chosen for a line item (e.g. size=large).
type Customization struct {
	Key   string `json:"key" bson:"key"`
	Value string `json:"value" bson:"value"`
}

// Customizations is ordered; two lists are equal only when keys and values
// match position by position.
type Customizations []Customization

// Equal reports whether c and other hold the same pairs in the same order.
func (c Customizations) Equal(other Customizations) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share backing storage with c.
func (c Customizations) Clone() Customizations {
	if c == nil {
		return nil
	}
	out := make(Customizations, len(c))
	copy(out, c)
	return out
}

// LineItem is one row of the cart.
type LineItem struct {
	LineID              string         `json:"line_id" bson:"line_id"`
	ItemRef             string         `json:"item_ref" bson:"item_ref"`
	MerchantID          string         `json:"merchant_id" bson:"merchant_id"`
	Name                string         `json:"name,omitempty" bson:"name,omitempty"`
	UnitPrice           Money          `json:"unit_price" bson:"unit_price"`
	Quantity            int            `json:"quantity" bson:"quantity"`
	Customizations      Customizations `json:"customizations,omitempty" bson:"customizations,omitempty"`
	SpecialInstructions string         `json:"special_instructions,omitempty" bson:"special_instructions,omitempty"`
}

// SameIdentity reports whether two lines merge on add: same item reference
// and same customizations.
func (l LineItem) SameIdentity(itemRef string, customizations Customizations) bool {
	return l.ItemRef == itemRef && l.Customizations.Equal(customizations)
}

// LineTotal is UnitPrice × Quantity.
func (l LineItem) LineTotal() Money {
	return l.UnitPrice * Money(l.Quantity)
}

// Totals are the derived pricing figures of a cart.
type Totals struct {
	Subtotal       Money `json:"subtotal" bson:"subtotal"`
	Tax            Money `json:"tax" bson:"tax"`
	DeliveryCharge Money `json:"delivery_charge" bson:"delivery_charge"`
	Discount       Money `json:"discount" bson:"discount"`
	Total          Money `json:"total" bson:"total"`
}

// Promotion is a discount granted by the promotion evaluator for a code.
type Promotion struct {
	Code     string `json:"code"`
	Discount Money  `json:"discount"`
}

// Cart is the shopping-cart aggregate. All items of a non-empty cart share
// MerchantID; MerchantID is empty exactly when Items is empty.
type Cart struct {
	MerchantID string     `json:"merchant_id,omitempty"`
	Items      []LineItem `json:"items"`
	Promotion  *Promotion `json:"promotion,omitempty"`
	Totals     Totals     `json:"totals"`
	// Version increases with every committed change, clears included.
	Version uint64 `json:"version"`
}

// IsEmpty reports whether the cart holds no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ItemCount is the sum of all line quantities.
func (c Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// IndexOf returns the position of lineID, or -1.
func (c Cart) IndexOf(lineID string) int {
	for i, it := range c.Items {
		if it.LineID == lineID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers never alias the store's state.
func (c Cart) Clone() Cart {
	out := Cart{MerchantID: c.MerchantID, Totals: c.Totals}
	if c.Items != nil {
		out.Items = make([]LineItem, len(c.Items))
		for i, it := range c.Items {
			it.Customizations = it.Customizations.Clone()
			out.Items[i] = it
		}
	}
	if c.Promotion != nil {
		p := *c.Promotion
		out.Promotion = &p
	}
	return out
}

// Valid reports whether the single-merchant rule holds. Used when
// rehydrating persisted snapshots.
func (c Cart) Valid() bool {
	if len(c.Items) == 0 {
		return c.MerchantID == ""
	}
	for _, it := range c.Items {
		if it.MerchantID != c.MerchantID || it.Quantity <= 0 || it.UnitPrice < 0 || it.LineID == "" {
			return false
		}
	}
	return true
}
