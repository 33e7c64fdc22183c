package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localmart/marketplace-client/internal/core/ports"
	"github.com/localmart/marketplace-client/internal/pkg/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Dispatcher routes refresh requests to a fixed set of workers using
// consistent hashing on the subscription key, so refreshes of one
// subscription never run concurrently or out of order.
//
// A request for a key that is already waiting is dropped: the queued refresh
// re-reads the whole collection and covers it.
type Dispatcher struct {
	workers   []chan ports.RefreshRequest
	processor ports.RefreshProcessor
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[ports.SubscriptionKey]struct{}
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, processor ports.RefreshProcessor, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:   make([]chan ports.RefreshRequest, numWorkers),
		processor: processor,
		log:       log,
		pending:   make(map[ports.SubscriptionKey]struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.RefreshRequest, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands req to the worker responsible for its subscription, unless a
// refresh for the same subscription is already waiting.
func (d *Dispatcher) Enqueue(req ports.RefreshRequest) {
	d.mu.Lock()
	if _, ok := d.pending[req.Key]; ok {
		d.mu.Unlock()
		d.log.Debug().Str("subscription", req.Key.String()).Msg("refresh coalesced")
		return
	}
	d.pending[req.Key] = struct{}{}
	d.mu.Unlock()

	idx := d.shardIndex(req.Key)
	metrics.RealtimeQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
	d.workers[idx] <- req
}

// Pending reports how many subscriptions are waiting for a refresh.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// shardIndex maps a subscription key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key ports.SubscriptionKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.RefreshRequest) {
	depth := metrics.RealtimeQueueDepth.WithLabelValues(strconv.Itoa(id))
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			depth.Dec()
			// Cleared before processing so a change landing mid-fetch queues
			// another refresh.
			d.mu.Lock()
			delete(d.pending, req.Key)
			d.mu.Unlock()

			if err := d.processor.Process(ctx, req); err != nil {
				d.log.Error().Err(err).
					Str("subscription", req.Key.String()).
					Int("worker_id", id).
					Msg("refresh processing failed")
			}
		}
	}
}
