// Package metrics defines and registers all custom Prometheus metrics for the
// marketplace client stores. It is the single source of truth for metric
// names, labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation (promauto) and exposed by the companion API on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketplace"

// ── Cart metrics ──────────────────────────────────────────────────────────────

// CartMutationsTotal counts committed cart mutations.
// Labels:
//   - op: add, remove, update_quantity, update_customizations, promotion, clear
//   - result: "ok", "rejected" (invalid input) or "error" (persistence failed)
var CartMutationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_mutations_total",
		Help:      "Total number of cart mutations, by operation and result.",
	},
	[]string{"op", "result"},
)

// CartMerchantSwitchesTotal counts carts replaced because an item from a
// different merchant was added.
var CartMerchantSwitchesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_merchant_switches_total",
		Help:      "Total number of carts replaced by a merchant switch.",
	},
)

// OrdersPlacedTotal counts checkout attempts.
// Label:
//   - result: "ok" or "error"
var OrdersPlacedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_placed_total",
		Help:      "Total number of checkout attempts, by result.",
	},
	[]string{"result"},
)

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionTransitionsTotal counts session state machine transitions.
// Labels:
//   - to: the status entered (e.g. "authenticated")
//   - trigger: "call" for explicit operations, "event" for provider pushes
var SessionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Total number of session state transitions.",
	},
	[]string{"to", "trigger"},
)

// ── Realtime metrics ──────────────────────────────────────────────────────────

// RealtimeActiveSubscriptions tracks live subscriptions per entity kind.
var RealtimeActiveSubscriptions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_active_subscriptions",
		Help:      "Current number of live realtime subscriptions.",
	},
	[]string{"kind"},
)

// RealtimeRefreshTotal counts full-refresh reconciliations.
// Labels:
//   - kind: orders, messages
//   - result: "ok", "error", or "skipped" (subscription gone)
var RealtimeRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_refresh_total",
		Help:      "Total number of full refreshes triggered by change notifications.",
	},
	[]string{"kind", "result"},
)

// RealtimeRefreshDuration measures re-fetch plus delivery of one refresh.
var RealtimeRefreshDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "realtime_refresh_duration_seconds",
		Help:      "Duration of a full refresh from dequeue to delivery.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// RealtimeQueueDepth tracks pending refreshes in each dispatcher worker channel.
var RealtimeQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_queue_depth",
		Help:      "Current number of refreshes pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// RealtimeReconnectsTotal counts change-feed transport reconnects.
var RealtimeReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_reconnects_total",
		Help:      "Total number of change-feed reconnect attempts, by driver and result.",
	},
	[]string{"driver", "result"},
)
