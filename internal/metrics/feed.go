// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DedupOutcomesTotal counts ingestion results of the event deduplicator.
	DedupOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_dedup_outcomes_total",
		Help: "Ingested content events by outcome",
	}, []string{"surface", "outcome"})

	// CanonicalItems tracks the size of each surface's canonical set.
	CanonicalItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipfeed_canonical_items",
		Help: "Number of items in the canonical set",
	}, []string{"surface"})

	// GateTransitionsTotal counts readiness gate value changes.
	GateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_gate_transitions_total",
		Help: "Readiness gate value changes",
	}, []string{"gate", "value"})

	// SubscriptionActive is 1 while a surface's subscription is open.
	SubscriptionActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipfeed_subscription_active",
		Help: "Whether the surface subscription is active (1) or inactive (0)",
	}, []string{"surface"})

	// SubscriptionErrorsTotal counts stream-level failures.
	SubscriptionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_subscription_errors_total",
		Help: "Stream-level subscription failures",
	}, []string{"surface", "stage"})

	// SubscriptionReconnectsTotal counts resubscribe attempts after backoff.
	SubscriptionReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_subscription_reconnects_total",
		Help: "Resubscribe attempts after a stream failure",
	}, []string{"surface"})

	// LoadMoreTotal counts loadMore results.
	LoadMoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_load_more_total",
		Help: "Backfill page requests by result",
	}, []string{"surface", "result"})

	// LoadMoreDuration tracks the latency of backfill fetches against the event source.
	LoadMoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipfeed_load_more_duration_seconds",
		Help:    "Duration of backfill fetches",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 12),
	}, []string{"surface"})

	// PoolResident tracks initialized playback handles per surface.
	PoolResident = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipfeed_pool_resident_handles",
		Help: "Playback handles currently held by the pool",
	}, []string{"surface"})

	// PoolEvictionsTotal counts LRU evictions and cancellations.
	PoolEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_pool_evictions_total",
		Help: "Playback handles reclaimed by the pool",
	}, []string{"surface", "reason"})

	// PoolDiscardedTotal counts preload completions that arrived after release.
	PoolDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_pool_discarded_total",
		Help: "Preload completions discarded because the slot was released",
	}, []string{"surface"})

	// ItemTransitionsTotal counts item lifecycle transitions.
	ItemTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_item_transitions_total",
		Help: "Item lifecycle state transitions",
	}, []string{"state_from", "state_to"})

	// InvalidTransitionsTotal counts rejected lifecycle events.
	InvalidTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_invalid_transitions_total",
		Help: "Rejected item lifecycle events",
	}, []string{"state", "event"})

	// SnapshotEmissionsTotal counts snapshots delivered to consumers.
	SnapshotEmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_snapshot_emissions_total",
		Help: "Feed snapshots emitted to consumers",
	}, []string{"surface"})

	// SnapshotTriggersCoalescedTotal counts recompute triggers absorbed by the debouncer.
	SnapshotTriggersCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipfeed_snapshot_triggers_coalesced_total",
		Help: "Recompute triggers coalesced into a pending emission",
	}, []string{"surface"})
)

// RecordDedupOutcome increments the deduplicator outcome counter.
func RecordDedupOutcome(surface, outcome string) {
	DedupOutcomesTotal.WithLabelValues(surface, outcome).Inc()
}

// RecordGateTransition increments the gate transition counter.
func RecordGateTransition(gate string, value bool) {
	v := "false"
	if value {
		v = "true"
	}
	GateTransitionsTotal.WithLabelValues(gate, v).Inc()
}

// SetSubscriptionActive updates the subscription state gauge.
func SetSubscriptionActive(surface string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	SubscriptionActive.WithLabelValues(surface).Set(v)
}

// RecordItemTransition increments the lifecycle transition counter.
func RecordItemTransition(from, to string) {
	ItemTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordInvalidTransition increments the rejected lifecycle event counter.
func RecordInvalidTransition(state, event string) {
	InvalidTransitionsTotal.WithLabelValues(state, event).Inc()
}
