package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

// dashboardKinds are the collections every dashboard watches.
var dashboardKinds = []domain.EntityKind{domain.KindOrders, domain.KindMessages}

type dashboardScope struct {
	orders   []domain.Order
	messages []domain.Message
	stats    domain.DerivedStats
	handles  []ports.SubscriptionHandle
}

// DashboardStore is the read-model cache behind dashboards: per scope, the
// latest order and message snapshots and the stats derived from them.
type DashboardStore struct {
	reconciler ports.Reconciler
	now        func() time.Time
	log        zerolog.Logger

	mu        sync.Mutex
	scopes    map[domain.ScopeKey]*dashboardScope
	observers observers[domain.DerivedStats]
}

func NewDashboardStore(reconciler ports.Reconciler, log zerolog.Logger) *DashboardStore {
	return &DashboardStore{
		reconciler: reconciler,
		now:        time.Now,
		log:        log,
		scopes:     make(map[domain.ScopeKey]*dashboardScope),
	}
}

// Mount subscribes the dashboard collections for scope. ctx bounds the
// subscriptions; pass the session's scope context so sign-out tears them
// down. Mounting a mounted scope is a no-op. On failure nothing stays
// subscribed and the cache is unchanged.
func (d *DashboardStore) Mount(ctx context.Context, scope domain.ScopeKey) error {
	d.mu.Lock()
	if _, ok := d.scopes[scope]; ok {
		d.mu.Unlock()
		return nil
	}
	entry := &dashboardScope{stats: domain.DerivedStats{Scope: scope}}
	d.scopes[scope] = entry
	d.mu.Unlock()

	handles := make([]ports.SubscriptionHandle, 0, len(dashboardKinds))
	for _, kind := range dashboardKinds {
		h, err := d.reconciler.Subscribe(ctx, scope, kind, d.onSnapshot(entry))
		if err != nil {
			for _, prev := range handles {
				prev.Cancel()
			}
			d.mu.Lock()
			if d.scopes[scope] == entry {
				delete(d.scopes, scope)
			}
			d.mu.Unlock()
			return fmt.Errorf("mount dashboard %s: %w", scope, err)
		}
		handles = append(handles, h)
		go d.evictOnDone(scope, entry, h)
	}

	d.mu.Lock()
	entry.handles = handles
	d.mu.Unlock()

	d.log.Info().Str("scope", scope.String()).Msg("dashboard mounted")
	return nil
}

// Unmount cancels the scope's subscriptions and drops its cache.
func (d *DashboardStore) Unmount(scope domain.ScopeKey) {
	d.mu.Lock()
	entry, ok := d.scopes[scope]
	delete(d.scopes, scope)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, h := range entry.handles {
		h.Cancel()
	}
	d.log.Info().Str("scope", scope.String()).Msg("dashboard unmounted")
}

// Stats returns the derived stats of a mounted scope.
func (d *DashboardStore) Stats(scope domain.ScopeKey) (domain.DerivedStats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.scopes[scope]
	if !ok {
		return domain.DerivedStats{}, false
	}
	return entry.stats, true
}

// Orders returns the latest order snapshot of a mounted scope.
func (d *DashboardStore) Orders(scope domain.ScopeKey) []domain.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.scopes[scope]
	if !ok {
		return nil
	}
	return append([]domain.Order(nil), entry.orders...)
}

// OnStats registers fn to receive every recomputed DerivedStats.
func (d *DashboardStore) OnStats(fn func(domain.DerivedStats)) (cancel func()) {
	return d.observers.add(fn)
}

// onSnapshot stores the snapshot for its kind and recomputes stats from the
// latest snapshots of every kind.
func (d *DashboardStore) onSnapshot(entry *dashboardScope) func(domain.Snapshot) {
	return func(snap domain.Snapshot) {
		d.mu.Lock()
		if d.scopes[snap.Scope] != entry {
			d.mu.Unlock()
			return
		}
		switch snap.Kind {
		case domain.KindOrders:
			entry.orders = snap.Orders
		case domain.KindMessages:
			entry.messages = snap.Messages
		}
		entry.stats = domain.ComputeStats(snap.Scope, entry.orders, entry.messages, d.now())
		stats := entry.stats
		d.mu.Unlock()

		d.observers.notify(stats)
	}
}

// evictOnDone drops the cache entry once any of its subscriptions ends, which
// happens on sign-out through the scope context or ReleaseScope.
func (d *DashboardStore) evictOnDone(scope domain.ScopeKey, entry *dashboardScope, h ports.SubscriptionHandle) {
	<-h.Done()
	d.mu.Lock()
	if d.scopes[scope] != entry {
		d.mu.Unlock()
		return
	}
	delete(d.scopes, scope)
	handles := entry.handles
	d.mu.Unlock()

	for _, other := range handles {
		other.Cancel()
	}
	d.log.Debug().Str("scope", scope.String()).Msg("dashboard evicted")
}
