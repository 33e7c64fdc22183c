package ports

import (
	"context"

	"github.com/localmart/marketplace-client/internal/core/domain"
)

// SubscriptionKey identifies a (scope, entity kind) pair. At most one live
// subscription exists per key.
type SubscriptionKey struct {
	Scope domain.ScopeKey
	Kind  domain.EntityKind
}

func (k SubscriptionKey) String() string { return k.Scope.String() + "/" + string(k.Kind) }

// SubscriptionHandle is returned by Subscribe.
type SubscriptionHandle interface {
	Key() SubscriptionKey
	// Cancel stops all future deliveries. Idempotent.
	Cancel()
	Done() <-chan struct{}
}

// Reconciler keeps read-model caches consistent with the remote data service
// through full-refresh reconciliation.
type Reconciler interface {
	ScopeReleaser
	Subscribe(ctx context.Context, scope domain.ScopeKey, kind domain.EntityKind, onChange func(domain.Snapshot)) (SubscriptionHandle, error)
}

// RefreshRequest asks for a full refresh of one subscription.
type RefreshRequest struct {
	Key    SubscriptionKey
	Notice ChangeNotice
}

// RefreshProcessor performs refreshes handed out by the dispatcher.
type RefreshProcessor interface {
	Process(ctx context.Context, req RefreshRequest) error
}

// DashboardService is the per-scope read-model cache used by dashboards.
type DashboardService interface {
	Mount(ctx context.Context, scope domain.ScopeKey) error
	Unmount(scope domain.ScopeKey)
	Stats(scope domain.ScopeKey) (domain.DerivedStats, bool)
	Orders(scope domain.ScopeKey) []domain.Order
}

// PayoutInput carries a business payout request.
type PayoutInput struct {
	BusinessID    string
	Amount        domain.Money
	BankAccountID string
}

// PayoutService lets a business owner request a payout.
type PayoutService interface {
	RequestPayout(ctx context.Context, in PayoutInput) error
}
