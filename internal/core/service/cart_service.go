package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/core/pricing"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const (
	cartStorageKey    = "cart"
	promotionAttempts = 3
)

// CartStore owns the cart aggregate. Every mutation re-prices the cart and
// persists the snapshot before it becomes visible.
type CartStore struct {
	mu        sync.Mutex
	cart      domain.Cart
	pricing   pricing.Config
	store     ports.KeyValueStore
	promos    ports.PromotionEvaluator
	newLineID func() string
	observers observers[domain.Cart]
	log       zerolog.Logger
}

// NewCartStore returns an empty CartStore. promos may be nil, in which case
// every promotion code is rejected.
func NewCartStore(store ports.KeyValueStore, promos ports.PromotionEvaluator, cfg pricing.Config, log zerolog.Logger) *CartStore {
	return &CartStore{
		pricing:   cfg,
		store:     store,
		promos:    promos,
		newLineID: uuid.NewString,
		log:       log,
	}
}

// Load rehydrates the cart from durable storage. A missing or malformed
// snapshot leaves the cart empty; only a storage failure is returned.
func (s *CartStore) Load(ctx context.Context) error {
	var persisted domain.Cart
	err := s.store.Get(ctx, cartStorageKey, &persisted)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, ports.ErrKeyNotFound):
		s.cart = domain.Cart{}
		return nil
	case errors.Is(err, ports.ErrMalformedValue):
		s.cart = domain.Cart{}
		s.log.Warn().Err(err).Msg("discarding malformed cart snapshot")
		return nil
	case err != nil:
		s.cart = domain.Cart{}
		return fmt.Errorf("load cart: %w", err)
	}

	if !persisted.Valid() {
		s.log.Warn().Str("merchant_id", persisted.MerchantID).Msg("discarding inconsistent cart snapshot")
		s.cart = domain.Cart{}
		return nil
	}
	s.reprice(&persisted)
	s.cart = persisted
	s.log.Info().Int("lines", len(persisted.Items)).Str("merchant_id", persisted.MerchantID).Msg("cart restored")
	return nil
}

// Cart returns a copy of the current cart.
func (s *CartStore) Cart() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Subscribe registers fn to receive every committed cart.
func (s *CartStore) Subscribe(fn func(domain.Cart)) (cancel func()) {
	return s.observers.add(fn)
}

// AddItem merges the item into a matching line or appends a new one. An item
// from another merchant silently replaces the whole cart.
func (s *CartStore) AddItem(ctx context.Context, in ports.AddItemInput) (domain.Cart, error) {
	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	switch {
	case in.ItemRef == "" || in.MerchantID == "":
		return s.reject("add", domain.ErrInvalidItem)
	case qty < 0:
		return s.reject("add", domain.ErrInvalidQuantity)
	case in.UnitPrice < 0:
		return s.reject("add", domain.ErrInvalidPrice)
	}

	return s.mutate(ctx, "add", func(c *domain.Cart) bool {
		if !c.IsEmpty() && c.MerchantID != in.MerchantID {
			s.log.Info().
				Str("from_merchant", c.MerchantID).
				Str("to_merchant", in.MerchantID).
				Int("discarded_lines", len(c.Items)).
				Msg("merchant switch replaced cart")
			metrics.CartMerchantSwitchesTotal.Inc()
			*c = domain.Cart{}
		}

		c.MerchantID = in.MerchantID
		for i := range c.Items {
			if c.Items[i].SameIdentity(in.ItemRef, in.Customizations) {
				c.Items[i].Quantity += qty
				return true
			}
		}
		c.Items = append(c.Items, domain.LineItem{
			LineID:              s.newLineID(),
			ItemRef:             in.ItemRef,
			MerchantID:          in.MerchantID,
			Name:                in.Name,
			UnitPrice:           in.UnitPrice,
			Quantity:            qty,
			Customizations:      in.Customizations.Clone(),
			SpecialInstructions: in.SpecialInstructions,
		})
		return true
	})
}

// RemoveItem deletes a line. Removing an unknown line is a no-op.
func (s *CartStore) RemoveItem(ctx context.Context, lineID string) (domain.Cart, error) {
	return s.mutate(ctx, "remove", func(c *domain.Cart) bool {
		return removeLine(c, lineID)
	})
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (s *CartStore) UpdateQuantity(ctx context.Context, lineID string, quantity int) (domain.Cart, error) {
	if quantity < 0 {
		return s.reject("update_quantity", domain.ErrInvalidQuantity)
	}
	return s.mutate(ctx, "update_quantity", func(c *domain.Cart) bool {
		if quantity == 0 {
			return removeLine(c, lineID)
		}
		i := c.IndexOf(lineID)
		if i < 0 || c.Items[i].Quantity == quantity {
			return false
		}
		c.Items[i].Quantity = quantity
		return true
	})
}

// UpdateCustomizations replaces a line's customizations in place. The line
// keeps its id and is not merged with another line that now has the same
// item and customizations.
func (s *CartStore) UpdateCustomizations(ctx context.Context, lineID string, cz domain.Customizations) (domain.Cart, error) {
	return s.mutate(ctx, "update_customizations", func(c *domain.Cart) bool {
		i := c.IndexOf(lineID)
		if i < 0 {
			return false
		}
		c.Items[i].Customizations = cz.Clone()
		return true
	})
}

// ApplyPromotion asks the promotion evaluator for a discount on the current
// subtotal. A rejected code leaves the cart unchanged. The discount is only
// committed to the cart it was evaluated for; if the cart changes meanwhile
// the code is evaluated again, up to promotionAttempts times.
func (s *CartStore) ApplyPromotion(ctx context.Context, code string) (domain.Cart, error) {
	for attempt := 0; attempt < promotionAttempts; attempt++ {
		current := s.Cart()
		if current.IsEmpty() {
			return s.reject("promotion", domain.ErrEmptyCart)
		}
		if s.promos == nil || code == "" {
			return s.reject("promotion", domain.ErrPromotionNotApplicable)
		}

		discount, err := s.promos.Evaluate(ctx, code, current.Totals.Subtotal)
		if err != nil {
			metrics.CartMutationsTotal.WithLabelValues("promotion", "rejected").Inc()
			return current, fmt.Errorf("apply promotion %q: %w", code, err)
		}

		stale := false
		cart, err := s.mutate(ctx, "promotion", func(c *domain.Cart) bool {
			if c.Version != current.Version {
				stale = true
				return false
			}
			c.Promotion = &domain.Promotion{Code: code, Discount: discount}
			return true
		})
		if !stale {
			return cart, err
		}
		s.log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("cart changed during promotion check, re-evaluating")
	}
	return s.reject("promotion", domain.ErrCartChanged)
}

// RemovePromotion drops the applied promotion, if any.
func (s *CartStore) RemovePromotion(ctx context.Context) (domain.Cart, error) {
	return s.mutate(ctx, "promotion", func(c *domain.Cart) bool {
		if c.Promotion == nil {
			return false
		}
		c.Promotion = nil
		return true
	})
}

// Clear empties the cart and resets its merchant.
func (s *CartStore) Clear(ctx context.Context) error {
	_, err := s.mutate(ctx, "clear", func(c *domain.Cart) bool {
		*c = domain.Cart{}
		return true
	})
	return err
}

// ReleaseSubmitted takes a checked-out cart off the live one. A cart that is
// still at the submitted version is cleared. Otherwise only the submitted
// quantities leave their lines, so items added during checkout stay.
func (s *CartStore) ReleaseSubmitted(ctx context.Context, submitted domain.Cart) error {
	_, err := s.mutate(ctx, "checkout", func(c *domain.Cart) bool {
		if c.Version == submitted.Version {
			*c = domain.Cart{}
			return true
		}
		changed := false
		for _, line := range submitted.Items {
			i := c.IndexOf(line.LineID)
			if i < 0 {
				continue
			}
			changed = true
			if c.Items[i].Quantity <= line.Quantity {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				continue
			}
			c.Items[i].Quantity -= line.Quantity
		}
		if submitted.Promotion != nil && c.Promotion != nil && c.Promotion.Code == submitted.Promotion.Code {
			c.Promotion = nil
			changed = true
		}
		return changed
	})
	return err
}

// mutate applies fn to a copy of the cart, re-prices, persists, and only then
// commits. When fn reports no change nothing is written.
func (s *CartStore) mutate(ctx context.Context, op string, fn func(c *domain.Cart) bool) (domain.Cart, error) {
	s.mu.Lock()
	next := s.cart.Clone()
	if !fn(&next) {
		out := s.cart.Clone()
		s.mu.Unlock()
		return out, nil
	}
	s.reprice(&next)
	next.Version = s.cart.Version + 1

	if err := s.store.Set(ctx, cartStorageKey, next); err != nil {
		out := s.cart.Clone()
		s.mu.Unlock()
		metrics.CartMutationsTotal.WithLabelValues(op, "error").Inc()
		s.log.Error().Err(err).Str("op", op).Msg("failed to persist cart")
		return out, fmt.Errorf("%s: persist cart: %w", op, err)
	}
	s.cart = next
	out := next.Clone()
	s.mu.Unlock()

	metrics.CartMutationsTotal.WithLabelValues(op, "ok").Inc()
	s.log.Debug().
		Str("op", op).
		Str("merchant_id", out.MerchantID).
		Int("lines", len(out.Items)).
		Int64("total", int64(out.Totals.Total)).
		Msg("cart updated")

	s.observers.notify(out.Clone())
	return out, nil
}

func (s *CartStore) reject(op string, err error) (domain.Cart, error) {
	metrics.CartMutationsTotal.WithLabelValues(op, "rejected").Inc()
	return s.Cart(), fmt.Errorf("%s: %w", op, err)
}

// reprice recomputes derived totals. An empty cart has no merchant and no
// promotion.
func (s *CartStore) reprice(c *domain.Cart) {
	if c.IsEmpty() {
		c.MerchantID = ""
		c.Items = nil
		c.Promotion = nil
	}
	var discount domain.Money
	if c.Promotion != nil {
		discount = c.Promotion.Discount
	}
	c.Totals = s.pricing.ComputeTotals(c.Items, discount)
}

func removeLine(c *domain.Cart, lineID string) bool {
	i := c.IndexOf(lineID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}
