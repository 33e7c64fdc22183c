package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

// RefreshQueue hands refresh requests to background workers.
type RefreshQueue interface {
	Enqueue(req ports.RefreshRequest)
}

// Reconciler maintains at most one subscription per (scope, kind) and keeps
// each subscriber consistent by re-fetching the whole collection on every
// change notice.
type Reconciler struct {
	feed  ports.ChangeFeed
	data  ports.DataService
	queue RefreshQueue
	now   func() time.Time
	log   zerolog.Logger

	mu   sync.Mutex
	subs map[ports.SubscriptionKey]*subscription
}

// NewReconciler returns a Reconciler. Until UseQueue is called, refreshes
// run on the goroutine that delivered the notice.
func NewReconciler(feed ports.ChangeFeed, data ports.DataService, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		feed: feed,
		data: data,
		now:  time.Now,
		log:  log,
		subs: make(map[ports.SubscriptionKey]*subscription),
	}
}

// UseQueue routes refreshes through q.
func (r *Reconciler) UseQueue(q RefreshQueue) {
	r.mu.Lock()
	r.queue = q
	r.mu.Unlock()
}

// Subscribe registers onChange for (scope, kind). Any live subscription for
// the same pair is cancelled first and its in-flight delivery drained, so it
// never sees another snapshot. The subscription is registered before its
// watch opens, so a change landing during setup triggers a refresh instead
// of being dropped. An initial snapshot is delivered before Subscribe
// returns; a failed watch or fetch leaves nothing behind. The subscription
// is cancelled when ctx is done.
//
// Subscribe must not be called from within the onChange of the subscription
// it replaces.
func (r *Reconciler) Subscribe(ctx context.Context, scope domain.ScopeKey, kind domain.EntityKind, onChange func(domain.Snapshot)) (ports.SubscriptionHandle, error) {
	key := ports.SubscriptionKey{Scope: scope, Kind: kind}
	q, err := collectionQuery(key)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	if prior := r.detach(key); prior != nil {
		prior.Cancel()
		prior.drain()
	}

	sub := &subscription{key: key, onChange: onChange, owner: r, done: make(chan struct{})}
	r.register(sub)
	sub.stopOn(ctx)

	watch, err := r.feed.Watch(ctx, ports.WatchSpec{Collection: q.Collection, Filter: q.Filter}, func(n ports.ChangeNotice) {
		if sub.canceled.Load() {
			return
		}
		r.enqueue(ports.RefreshRequest{Key: key, Notice: n})
	})
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("subscribe %s: watch: %w", key, err)
	}
	sub.attach(watch)

	seq := sub.nextSeq()
	snap, err := r.fetch(ctx, key)
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("subscribe %s: initial fetch: %w", key, err)
	}

	sub.deliver(seq, snap)

	r.log.Info().Str("scope", scope.String()).Str("kind", string(kind)).Msg("subscribed")
	return sub, nil
}

// ReleaseScope cancels every subscription of scope and returns how many were
// live.
func (r *Reconciler) ReleaseScope(scope domain.ScopeKey) int {
	r.mu.Lock()
	var victims []*subscription
	for key, sub := range r.subs {
		if key.Scope == scope {
			victims = append(victims, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range victims {
		sub.Cancel()
	}
	if len(victims) > 0 {
		r.log.Info().Str("scope", scope.String()).Int("subscriptions", len(victims)).Msg("scope released")
	}
	return len(victims)
}

// Active reports how many subscriptions are live.
func (r *Reconciler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Process performs one full refresh. It implements ports.RefreshProcessor.
// A failed fetch leaves the subscriber's last snapshot in place, and a
// snapshot whose fetch started before an already delivered one is dropped.
func (r *Reconciler) Process(ctx context.Context, req ports.RefreshRequest) error {
	kind := string(req.Key.Kind)

	r.mu.Lock()
	sub := r.subs[req.Key]
	r.mu.Unlock()
	if sub == nil || sub.canceled.Load() {
		metrics.RealtimeRefreshTotal.WithLabelValues(kind, "skipped").Inc()
		return nil
	}

	start := time.Now()
	seq := sub.nextSeq()
	snap, err := r.fetch(ctx, req.Key)
	if err != nil {
		metrics.RealtimeRefreshTotal.WithLabelValues(kind, "error").Inc()
		r.log.Warn().Err(err).Str("subscription", req.Key.String()).Msg("refresh failed, keeping last snapshot")
		return fmt.Errorf("refresh %s: %w", req.Key, err)
	}
	sub.deliver(seq, snap)

	metrics.RealtimeRefreshTotal.WithLabelValues(kind, "ok").Inc()
	metrics.RealtimeRefreshDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	r.log.Debug().
		Str("subscription", req.Key.String()).
		Str("op", req.Notice.Operation).
		Bool("resync", req.Notice.Resync).
		Msg("refreshed")
	return nil
}

func (r *Reconciler) enqueue(req ports.RefreshRequest) {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q != nil {
		q.Enqueue(req)
		return
	}
	_ = r.Process(context.Background(), req)
}

// register makes sub the live subscription for its key, cancelling one that
// raced in since detach.
func (r *Reconciler) register(sub *subscription) {
	r.mu.Lock()
	raced := r.subs[sub.key]
	r.subs[sub.key] = sub
	r.mu.Unlock()
	if raced != nil {
		raced.Cancel()
	}
	metrics.RealtimeActiveSubscriptions.WithLabelValues(string(sub.key.Kind)).Inc()
}

func (r *Reconciler) detach(key ports.SubscriptionKey) *subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.subs[key]
	delete(r.subs, key)
	return sub
}

func (r *Reconciler) forget(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.key] == sub {
		delete(r.subs, sub.key)
	}
}

// fetch re-reads the whole collection for key.
func (r *Reconciler) fetch(ctx context.Context, key ports.SubscriptionKey) (domain.Snapshot, error) {
	q, err := collectionQuery(key)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Scope: key.Scope, Kind: key.Kind}
	switch key.Kind {
	case domain.KindOrders:
		var orders []domain.Order
		if err := r.data.Find(ctx, q, &orders); err != nil {
			return domain.Snapshot{}, err
		}
		snap.Orders = orders
	case domain.KindMessages:
		var msgs []domain.Message
		if err := r.data.Find(ctx, q, &msgs); err != nil {
			return domain.Snapshot{}, err
		}
		snap.Messages = msgs
	}
	snap.FetchedAt = r.now()
	return snap, nil
}

// collectionQuery maps a subscription to the remote query whose result is
// the subscriber's snapshot. The same filter scopes the change feed.
func collectionQuery(key ports.SubscriptionKey) (ports.Query, error) {
	var field string
	switch {
	case key.Kind == domain.KindOrders && key.Scope.Owner == domain.OwnerBusiness:
		field = "business_id"
	case key.Kind == domain.KindOrders && key.Scope.Owner == domain.OwnerUser:
		field = "customer_id"
	case key.Kind == domain.KindMessages && key.Scope.Owner == domain.OwnerBusiness:
		field = "business_id"
	case key.Kind == domain.KindMessages && key.Scope.Owner == domain.OwnerUser:
		field = "recipient_id"
	default:
		return ports.Query{}, fmt.Errorf("unsupported subscription %s", key)
	}
	if key.Scope.ID == "" {
		return ports.Query{}, fmt.Errorf("empty scope id for %s", key)
	}
	return ports.Query{
		Collection: string(key.Kind),
		Filter:     map[string]any{field: key.Scope.ID},
		SortBy:     "created_at",
		Descending: true,
	}, nil
}

// subscription implements ports.SubscriptionHandle.
type subscription struct {
	key      ports.SubscriptionKey
	onChange func(domain.Snapshot)
	owner    *Reconciler

	// mu guards watch and stopAfter.
	mu        sync.Mutex
	watch     ports.Watch
	stopAfter func() bool

	canceled atomic.Bool
	// seq numbers fetches in the order they start.
	seq atomic.Uint64

	deliverMu sync.Mutex
	delivered uint64

	done chan struct{}
}

func (s *subscription) Key() ports.SubscriptionKey { return s.key }

func (s *subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the watch and all future deliveries. Idempotent.
func (s *subscription) Cancel() {
	if !s.canceled.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	s.mu.Lock()
	w, stop := s.watch, s.stopAfter
	s.watch, s.stopAfter = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if w != nil {
		if err := w.Close(); err != nil {
			s.owner.log.Warn().Err(err).Str("subscription", s.key.String()).Msg("closing watch failed")
		}
	}

	s.owner.forget(s)
	metrics.RealtimeActiveSubscriptions.WithLabelValues(string(s.key.Kind)).Dec()
	s.owner.log.Debug().Str("subscription", s.key.String()).Msg("subscription cancelled")
}

// attach stores w, or closes it straight away when the subscription was
// cancelled while the watch was opening.
func (s *subscription) attach(w ports.Watch) {
	s.mu.Lock()
	if !s.canceled.Load() {
		s.watch = w
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := w.Close(); err != nil {
		s.owner.log.Warn().Err(err).Str("subscription", s.key.String()).Msg("closing watch failed")
	}
}

// stopOn cancels the subscription once ctx is done.
func (s *subscription) stopOn(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Cancel)
	s.mu.Lock()
	if !s.canceled.Load() {
		s.stopAfter = stop
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	stop()
}

func (s *subscription) nextSeq() uint64 { return s.seq.Add(1) }

// deliver hands snap to onChange unless a snapshot from a later fetch got
// there first.
func (s *subscription) deliver(seq uint64, snap domain.Snapshot) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.canceled.Load() || seq <= s.delivered {
		return
	}
	s.delivered = seq
	s.onChange(snap)
}

// drain waits for an in-flight delivery to return.
func (s *subscription) drain() {
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}
