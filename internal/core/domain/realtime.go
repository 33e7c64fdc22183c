package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// ScopeOwner distinguishes business scopes from user scopes.
type ScopeOwner string

const (
	OwnerBusiness ScopeOwner = "business"
	OwnerUser     ScopeOwner = "user"
)

// ScopeKey partitions realtime subscriptions and read-model caches per actor.
type ScopeKey struct {
	Owner ScopeOwner
	ID    string
}

func BusinessScope(id string) ScopeKey { return ScopeKey{Owner: OwnerBusiness, ID: id} }
func UserScope(id string) ScopeKey     { return ScopeKey{Owner: OwnerUser, ID: id} }

func (k ScopeKey) String() string { return string(k.Owner) + ":" + k.ID }

// ParseScopeKey parses the "owner:id" form produced by String.
func ParseScopeKey(s string) (ScopeKey, bool) {
	owner, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ScopeKey{}, false
	}
	switch ScopeOwner(owner) {
	case OwnerBusiness, OwnerUser:
		return ScopeKey{Owner: ScopeOwner(owner), ID: id}, true
	}
	return ScopeKey{}, false
}

// EntityKind names a remote collection a dashboard can watch.
type EntityKind string

const (
	KindOrders   EntityKind = "orders"
	KindMessages EntityKind = "messages"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAccepted  OrderStatus = "accepted"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Active reports whether the order is accepted but not finished.
func (s OrderStatus) Active() bool {
	return s == OrderAccepted || s == OrderPreparing || s == OrderReady
}

// Order is the record submitted on checkout.
type Order struct {
	ID              string      `json:"id" bson:"_id"`
	CustomerID      string      `json:"customer_id" bson:"customer_id"`
	BusinessID      string      `json:"business_id" bson:"business_id"`
	Items           []LineItem  `json:"items" bson:"items"`
	Totals          Totals      `json:"totals" bson:"totals"`
	PromotionCode   string      `json:"promotion_code,omitempty" bson:"promotion_code,omitempty"`
	Status          OrderStatus `json:"status" bson:"status"`
	DeliveryAddress string      `json:"delivery_address,omitempty" bson:"delivery_address,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	Notes           string      `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at" bson:"created_at"`
}

// Message is a chat message between a customer and a business.
type Message struct {
	ID          string    `json:"id" bson:"_id"`
	BusinessID  string    `json:"business_id" bson:"business_id"`
	SenderID    string    `json:"sender_id" bson:"sender_id"`
	RecipientID string    `json:"recipient_id" bson:"recipient_id"`
	Body        string    `json:"body" bson:"body"`
	Read        bool      `json:"read" bson:"read"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Snapshot is the full contents of one watched collection for one scope,
// as re-fetched after a change notification.
type Snapshot struct {
	Scope     ScopeKey
	Kind      EntityKind
	Orders    []Order
	Messages  []Message
	FetchedAt time.Time
}

// DerivedStats is the dashboard read model. It is always recomputed from the
// latest snapshots, never patched.
type DerivedStats struct {
	Scope               ScopeKey  `json:"-"`
	PendingOrderCount   int       `json:"pending_order_count"`
	ActiveOrderCount    int       `json:"active_order_count"`
	CompletedOrderCount int       `json:"completed_order_count"`
	TodayRevenue        Money     `json:"today_revenue"`
	UnreadMessageCount  int       `json:"unread_message_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ComputeStats rebuilds DerivedStats from the latest order and message
// snapshots. "Today" is the calendar day of now in now's location. Messages
// count as unread only when addressed to the scope's ID (a user id, or a
// business id for messages sent to a business).
func ComputeStats(scope ScopeKey, orders []Order, messages []Message, now time.Time) DerivedStats {
	st := DerivedStats{Scope: scope, UpdatedAt: now}

	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	for _, o := range orders {
		switch {
		case o.Status == OrderPending:
			st.PendingOrderCount++
		case o.Status.Active():
			st.ActiveOrderCount++
		case o.Status == OrderDelivered:
			st.CompletedOrderCount++
		}
		created := o.CreatedAt.In(now.Location())
		if o.Status != OrderCancelled && !created.Before(dayStart) && created.Before(dayEnd) {
			st.TodayRevenue += o.Totals.Total
		}
	}

	for _, msg := range messages {
		if msg.Read {
			continue
		}
		if msg.RecipientID != scope.ID {
			continue
		}
		st.UnreadMessageCount++
	}
	return st
}
