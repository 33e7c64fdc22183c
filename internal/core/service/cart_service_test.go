package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/core/pricing"
)

func newTestCartStore(kv *memKV, promos ports.PromotionEvaluator) *CartStore {
	return NewCartStore(kv, promos, pricing.DefaultConfig(), zerolog.Nop())
}

func pizza(merchant string, qty int, cz ...domain.Customization) ports.AddItemInput {
	return ports.AddItemInput{
		ItemRef:        "pizza",
		MerchantID:     merchant,
		Name:           "Pizza",
		UnitPrice:      10_000,
		Quantity:       qty,
		Customizations: cz,
	}
}

func TestCartStore_AddItem_MergesSameItem(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()

	if _, err := s.AddItem(ctx, pizza("m1", 1)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := s.AddItem(ctx, pizza("m1", 2))
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
	if cart.Totals.Subtotal != 30_000 {
		t.Errorf("expected subtotal 30000, got %d", cart.Totals.Subtotal)
	}
}

func TestCartStore_AddItem_ZeroQuantityMeansOne(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	cart, err := s.AddItem(context.Background(), pizza("m1", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.Items[0].Quantity != 1 {
		t.Errorf("expected quantity 1, got %d", cart.Items[0].Quantity)
	}
}

func TestCartStore_AddItem_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   ports.AddItemInput
		want error
	}{
		{"negative quantity", pizza("m1", -1), domain.ErrInvalidQuantity},
		{"negative price", ports.AddItemInput{ItemRef: "x", MerchantID: "m1", UnitPrice: -1}, domain.ErrInvalidPrice},
		{"missing merchant", ports.AddItemInput{ItemRef: "x", UnitPrice: 1}, domain.ErrInvalidItem},
		{"missing item", ports.AddItemInput{MerchantID: "m1", UnitPrice: 1}, domain.ErrInvalidItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := newMemKV()
			s := newTestCartStore(kv, nil)
			cart, err := s.AddItem(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !cart.IsEmpty() {
				t.Errorf("expected cart unchanged")
			}
			if kv.sets != 0 {
				t.Errorf("expected nothing persisted, got %d writes", kv.sets)
			}
		})
	}
}

func TestCartStore_AddItem_DistinctCustomizationsAreSeparateLines(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pizza("m1", 1, domain.Customization{Key: "size", Value: "L"}))
	cart, _ := s.AddItem(ctx, pizza("m1", 1, domain.Customization{Key: "size", Value: "M"}))

	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(cart.Items))
	}
	if cart.Items[0].LineID == cart.Items[1].LineID {
		t.Errorf("expected distinct line ids")
	}
}

func TestCartStore_AddItem_MerchantSwitchReplacesCart(t *testing.T) {
	s := newTestCartStore(newMemKV(), &stubPromos{discounts: map[string]domain.Money{"TEN": 1_000}})
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pizza("m1", 2))
	if _, err := s.ApplyPromotion(ctx, "TEN"); err != nil {
		t.Fatalf("apply promotion: %v", err)
	}

	cart, err := s.AddItem(ctx, ports.AddItemInput{ItemRef: "taco", MerchantID: "m2", UnitPrice: 3_000, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.MerchantID != "m2" {
		t.Errorf("expected merchant m2, got %q", cart.MerchantID)
	}
	if len(cart.Items) != 1 || cart.Items[0].ItemRef != "taco" {
		t.Fatalf("expected only the new item, got %+v", cart.Items)
	}
	if cart.Promotion != nil {
		t.Errorf("expected promotion dropped on merchant switch")
	}
	for _, it := range cart.Items {
		if it.MerchantID != cart.MerchantID {
			t.Errorf("line %s belongs to %s, cart merchant %s", it.LineID, it.MerchantID, cart.MerchantID)
		}
	}
}

func TestCartStore_RemoveLastItemResetsMerchant(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()

	cart, _ := s.AddItem(ctx, pizza("m1", 1))
	cart, err := s.RemoveItem(ctx, cart.Items[0].LineID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cart.IsEmpty() || cart.MerchantID != "" {
		t.Errorf("expected empty cart without merchant, got %+v", cart)
	}
	if cart.Totals != (domain.Totals{}) {
		t.Errorf("expected zero totals, got %+v", cart.Totals)
	}
}

func TestCartStore_RemoveUnknownLineIsNoop(t *testing.T) {
	kv := newMemKV()
	s := newTestCartStore(kv, nil)
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pizza("m1", 1))
	writes := kv.sets
	cart, err := s.RemoveItem(ctx, "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Errorf("expected cart unchanged")
	}
	if kv.sets != writes {
		t.Errorf("expected no write for a no-op")
	}
}

func TestCartStore_UpdateQuantityZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()

	a := newTestCartStore(newMemKV(), nil)
	b := newTestCartStore(newMemKV(), nil)
	for _, s := range []*CartStore{a, b} {
		_, _ = s.AddItem(ctx, pizza("m1", 2))
		_, _ = s.AddItem(ctx, ports.AddItemInput{ItemRef: "soda", MerchantID: "m1", UnitPrice: 1_500, Quantity: 1})
	}

	ca, err := a.UpdateQuantity(ctx, a.Cart().Items[0].LineID, 0)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	cb, err := b.RemoveItem(ctx, b.Cart().Items[0].LineID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(ca.Items) != len(cb.Items) || ca.Totals != cb.Totals {
		t.Errorf("expected equal carts, got %+v vs %+v", ca, cb)
	}
}

func TestCartStore_UpdateQuantityNegativeRejected(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()

	cart, _ := s.AddItem(ctx, pizza("m1", 2))
	got, err := s.UpdateQuantity(ctx, cart.Items[0].LineID, -3)
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if got.Items[0].Quantity != 2 {
		t.Errorf("expected quantity unchanged, got %d", got.Items[0].Quantity)
	}
}

func TestCartStore_UpdateCustomizationsDoesNotMerge(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()
	large := domain.Customization{Key: "size", Value: "L"}

	_, _ = s.AddItem(ctx, pizza("m1", 1, large))
	cart, _ := s.AddItem(ctx, pizza("m1", 1, domain.Customization{Key: "size", Value: "M"}))
	second := cart.Items[1].LineID

	cart, err := s.UpdateCustomizations(ctx, second, domain.Customizations{large})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines after collision, got %d", len(cart.Items))
	}
	if cart.Items[1].LineID != second {
		t.Errorf("expected line id to survive the update")
	}
	if !cart.Items[1].Customizations.Equal(domain.Customizations{large}) {
		t.Errorf("expected customizations updated, got %+v", cart.Items[1].Customizations)
	}
}

func TestCartStore_PersistFailureRollsBack(t *testing.T) {
	kv := newMemKV()
	s := newTestCartStore(kv, nil)
	ctx := context.Background()

	_, _ = s.AddItem(ctx, pizza("m1", 1))
	kv.setErr = errBoom

	cart, err := s.AddItem(ctx, pizza("m1", 4))
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if cart.Items[0].Quantity != 1 {
		t.Errorf("expected rollback to quantity 1, got %d", cart.Items[0].Quantity)
	}
	if s.Cart().Items[0].Quantity != 1 {
		t.Errorf("expected in-memory cart unchanged")
	}
}

func TestCartStore_PersistsEveryCommittedMutation(t *testing.T) {
	kv := newMemKV()
	s := newTestCartStore(kv, nil)
	ctx := context.Background()

	want, _ := s.AddItem(ctx, pizza("m1", 3))

	raw, ok := kv.raw(cartStorageKey)
	if !ok {
		t.Fatal("expected cart persisted")
	}
	var stored domain.Cart
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode stored cart: %v", err)
	}
	if stored.Totals != want.Totals || len(stored.Items) != 1 || stored.Items[0].Quantity != 3 {
		t.Errorf("stored cart %+v does not match %+v", stored, want)
	}
}

func TestCartStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		s := newTestCartStore(newMemKV(), nil)
		if err := s.Load(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.Cart().IsEmpty() {
			t.Error("expected empty cart")
		}
	})

	t.Run("malformed snapshot", func(t *testing.T) {
		kv := newMemKV()
		kv.putRaw(cartStorageKey, []byte("{not json"))
		s := newTestCartStore(kv, nil)
		if err := s.Load(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.Cart().IsEmpty() {
			t.Error("expected empty cart")
		}
	})

	t.Run("mixed merchants", func(t *testing.T) {
		kv := newMemKV()
		_ = kv.Set(ctx, cartStorageKey, domain.Cart{
			MerchantID: "m1",
			Items: []domain.LineItem{
				{LineID: "a", ItemRef: "x", MerchantID: "m1", UnitPrice: 1, Quantity: 1},
				{LineID: "b", ItemRef: "y", MerchantID: "m2", UnitPrice: 1, Quantity: 1},
			},
		})
		s := newTestCartStore(kv, nil)
		if err := s.Load(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.Cart().IsEmpty() {
			t.Error("expected inconsistent snapshot discarded")
		}
	})

	t.Run("restores and reprices", func(t *testing.T) {
		kv := newMemKV()
		_ = kv.Set(ctx, cartStorageKey, domain.Cart{
			MerchantID: "m1",
			Items:      []domain.LineItem{{LineID: "a", ItemRef: "x", MerchantID: "m1", UnitPrice: 12_500, Quantity: 2}},
			Totals:     domain.Totals{Total: 1}, // stale
		})
		s := newTestCartStore(kv, nil)
		if err := s.Load(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := s.Cart().Totals
		want := domain.Totals{Subtotal: 25_000, Tax: 4_500, DeliveryCharge: 5_000, Total: 34_500}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		kv := newMemKV()
		kv.getErr = errBoom
		s := newTestCartStore(kv, nil)
		if err := s.Load(ctx); !errors.Is(err, errBoom) {
			t.Fatalf("expected storage error, got %v", err)
		}
		if !s.Cart().IsEmpty() {
			t.Error("expected empty cart")
		}
	})
}

func TestCartStore_Promotion(t *testing.T) {
	ctx := context.Background()
	s := newTestCartStore(newMemKV(), &stubPromos{discounts: map[string]domain.Money{"TEN": 1_000}})

	if _, err := s.ApplyPromotion(ctx, "TEN"); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	_, _ = s.AddItem(ctx, pizza("m1", 1))
	before := s.Cart()

	if _, err := s.ApplyPromotion(ctx, "NOPE"); !errors.Is(err, domain.ErrPromotionNotApplicable) {
		t.Fatalf("expected ErrPromotionNotApplicable, got %v", err)
	}
	if s.Cart().Totals != before.Totals {
		t.Error("expected rejected code to leave totals unchanged")
	}

	cart, err := s.ApplyPromotion(ctx, "TEN")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cart.Totals.Discount != 1_000 || cart.Totals.Total != before.Totals.Total-1_000 {
		t.Errorf("unexpected totals %+v", cart.Totals)
	}

	cart, err = s.RemovePromotion(ctx)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if cart.Promotion != nil || cart.Totals != before.Totals {
		t.Errorf("expected promotion removed, got %+v", cart)
	}
}

func TestCartStore_PromotionReevaluatedAfterMerchantSwitch(t *testing.T) {
	ctx := context.Background()
	promos := &stubPromos{discounts: map[string]domain.Money{"TEN": 1_000}}
	s := newTestCartStore(newMemKV(), promos)
	_, _ = s.AddItem(ctx, pizza("m1", 1))

	var evaluated []domain.Money
	promos.onEvaluate = func(subtotal domain.Money) {
		evaluated = append(evaluated, subtotal)
		if len(evaluated) == 1 {
			_, _ = s.AddItem(ctx, pizza("m2", 3))
		}
	}

	cart, err := s.ApplyPromotion(ctx, "TEN")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(evaluated) != 2 || evaluated[1] != 30_000 {
		t.Fatalf("expected a second evaluation against the new cart, got %v", evaluated)
	}
	if cart.MerchantID != "m2" || cart.Promotion == nil || cart.Totals.Discount != 1_000 {
		t.Errorf("unexpected cart %+v", cart)
	}
}

func TestCartStore_PromotionGivesUpWhileCartKeepsChanging(t *testing.T) {
	ctx := context.Background()
	promos := &stubPromos{discounts: map[string]domain.Money{"TEN": 1_000}}
	s := newTestCartStore(newMemKV(), promos)
	_, _ = s.AddItem(ctx, pizza("m1", 1))
	promos.onEvaluate = func(domain.Money) { _, _ = s.AddItem(ctx, pizza("m1", 1)) }

	cart, err := s.ApplyPromotion(ctx, "TEN")
	if !errors.Is(err, domain.ErrCartChanged) {
		t.Fatalf("expected ErrCartChanged, got %v", err)
	}
	if cart.Promotion != nil {
		t.Error("expected no promotion committed")
	}
}

func TestCartStore_VersionAdvancesOnCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestCartStore(newMemKV(), nil)

	c1, _ := s.AddItem(ctx, pizza("m1", 1))
	c2, _ := s.RemoveItem(ctx, "missing")
	_ = s.Clear(ctx)
	c3 := s.Cart()

	if c1.Version != 1 {
		t.Errorf("expected version 1 after first add, got %d", c1.Version)
	}
	if c2.Version != c1.Version {
		t.Errorf("no-op changed version: %d -> %d", c1.Version, c2.Version)
	}
	if c3.Version <= c1.Version {
		t.Errorf("expected clear to advance version, got %d", c3.Version)
	}
}

func TestCartStore_ReleaseSubmitted(t *testing.T) {
	ctx := context.Background()
	promos := &stubPromos{discounts: map[string]domain.Money{"TEN": 1_000}}

	t.Run("unchanged cart is cleared", func(t *testing.T) {
		s := newTestCartStore(newMemKV(), promos)
		_, _ = s.AddItem(ctx, pizza("m1", 2))
		if err := s.ReleaseSubmitted(ctx, s.Cart()); err != nil {
			t.Fatalf("release: %v", err)
		}
		if !s.Cart().IsEmpty() {
			t.Errorf("expected empty cart, got %+v", s.Cart())
		}
	})

	t.Run("later additions survive", func(t *testing.T) {
		s := newTestCartStore(newMemKV(), promos)
		_, _ = s.AddItem(ctx, pizza("m1", 2))
		_, _ = s.ApplyPromotion(ctx, "TEN")
		submitted := s.Cart()

		_, _ = s.AddItem(ctx, pizza("m1", 1))
		_, _ = s.AddItem(ctx, ports.AddItemInput{ItemRef: "soda", MerchantID: "m1", UnitPrice: 2_000, Quantity: 1})

		if err := s.ReleaseSubmitted(ctx, submitted); err != nil {
			t.Fatalf("release: %v", err)
		}
		got := s.Cart()
		if len(got.Items) != 2 || got.Items[0].Quantity != 1 || got.Items[1].ItemRef != "soda" {
			t.Errorf("expected 1 pizza and the soda left, got %+v", got.Items)
		}
		if got.Promotion != nil {
			t.Error("expected used promotion dropped")
		}
	})

	t.Run("replaced cart is kept", func(t *testing.T) {
		s := newTestCartStore(newMemKV(), promos)
		_, _ = s.AddItem(ctx, pizza("m1", 2))
		submitted := s.Cart()
		_, _ = s.AddItem(ctx, pizza("m2", 1))

		if err := s.ReleaseSubmitted(ctx, submitted); err != nil {
			t.Fatalf("release: %v", err)
		}
		if got := s.Cart(); got.MerchantID != "m2" || len(got.Items) != 1 {
			t.Errorf("expected the m2 cart untouched, got %+v", got)
		}
	})
}

func TestCartStore_FreeItemStillPaysDelivery(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	cart, err := s.AddItem(context.Background(), ports.AddItemInput{ItemRef: "sample", MerchantID: "m1", UnitPrice: 0, Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if cart.Totals.Subtotal != 0 || cart.Totals.DeliveryCharge != pricing.DefaultConfig().DeliveryFee {
		t.Errorf("expected flat delivery fee on a free item, got %+v", cart.Totals)
	}
}

func TestCartStore_ClearAndObservers(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()

	var seen []domain.Cart
	cancel := s.Subscribe(func(c domain.Cart) { seen = append(seen, c) })

	_, _ = s.AddItem(ctx, pizza("m1", 1))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cancel()
	_, _ = s.AddItem(ctx, pizza("m1", 1))

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if !seen[1].IsEmpty() || seen[1].MerchantID != "" {
		t.Errorf("expected cleared cart, got %+v", seen[1])
	}
}

func TestCartStore_TotalsAlwaysMatchLines(t *testing.T) {
	s := newTestCartStore(newMemKV(), nil)
	ctx := context.Background()
	cfg := pricing.DefaultConfig()

	steps := []func() (domain.Cart, error){
		func() (domain.Cart, error) { return s.AddItem(ctx, pizza("m1", 2)) },
		func() (domain.Cart, error) {
			return s.AddItem(ctx, ports.AddItemInput{ItemRef: "soda", MerchantID: "m1", UnitPrice: 1_999, Quantity: 3})
		},
		func() (domain.Cart, error) { return s.UpdateQuantity(ctx, s.Cart().Items[0].LineID, 7) },
		func() (domain.Cart, error) { return s.RemoveItem(ctx, s.Cart().Items[1].LineID) },
		func() (domain.Cart, error) { return s.AddItem(ctx, pizza("m1", 1)) },
	}
	for i, step := range steps {
		cart, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		var sum domain.Money
		for _, it := range cart.Items {
			sum += it.LineTotal()
		}
		if cart.Totals.Subtotal != sum {
			t.Errorf("step %d: subtotal %d, lines sum %d", i, cart.Totals.Subtotal, sum)
		}
		if cart.Totals != cfg.ComputeTotals(cart.Items, 0) {
			t.Errorf("step %d: totals %+v not recomputed", i, cart.Totals)
		}
	}
}
