// Package metrics defines the Prometheus collectors of the reconciliation
// engine and the mutation scheduler. A nil *Metrics is valid and records
// nothing, so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "replicad"

// Sync kinds used as the "kind" label.
const (
	SyncFull        = "full"
	SyncIncremental = "incremental"
	SyncDeletion    = "deletion"
)

// Mutation outcomes used as the "outcome" label.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

// Inventory actions used as the "action" label.
const (
	ActionAdded   = "added"
	ActionUpdated = "updated"
	ActionRemoved = "removed"
)

// Metrics holds every collector.
type Metrics struct {
	SyncDuration     *prometheus.HistogramVec // replicad_sync_duration_seconds{kind}
	SyncReplicas     *prometheus.CounterVec   // replicad_sync_block_replicas_total{kind}
	SkippedRecords   *prometheus.CounterVec   // replicad_sync_skipped_records_total{reason}
	FileFetches      prometheus.Counter       // replicad_sync_file_fetches_total
	FileFetchSkips   prometheus.Counter       // replicad_sync_file_fetch_skips_total
	StarvedReplicas  prometheus.Counter       // replicad_sync_starved_replicas_total
	InventoryActions *prometheus.CounterVec   // replicad_inventory_changes_total{action}

	Requests       *prometheus.CounterVec   // replicad_mutation_requests_total{operation,outcome}
	RequestedBytes *prometheus.CounterVec   // replicad_mutation_bytes_total{operation}
	DroppedItems   *prometheus.CounterVec   // replicad_mutation_dropped_items_total{operation}
	BisectDepth    *prometheus.HistogramVec // replicad_mutation_bisect_depth{operation}
}

// New registers the collectors with reg. A nil reg uses a private registry
// so repeated calls never collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)

	return &Metrics{
		SyncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of reconciliation syncs by kind",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),

		SyncReplicas: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_block_replicas_total",
			Help:      "Block replicas produced by reconciliation syncs",
		}, []string{"kind"}),

		SkippedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_skipped_records_total",
			Help:      "Catalog records skipped during reconciliation by reason",
		}, []string{"reason"}),

		FileFetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_file_fetches_total",
			Help:      "File-level detail fetches issued",
		}),

		FileFetchSkips: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_file_fetch_skips_total",
			Help:      "File-level fetches avoided because the local replica already matched",
		}),

		StarvedReplicas: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_starved_replicas_total",
			Help:      "Incomplete block replicas for which the catalog returned no file detail",
		}),

		InventoryActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_changes_total",
			Help:      "Block replica changes applied to the shared inventory",
		}, []string{"action"}),

		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_requests_total",
			Help:      "Mutation submissions by operation and outcome",
		}, []string{"operation", "outcome"}),

		RequestedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_bytes_total",
			Help:      "Bytes covered by accepted mutation requests",
		}, []string{"operation"}),

		DroppedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_dropped_items_total",
			Help:      "Items dropped after bisection isolated them",
		}, []string{"operation"}),

		BisectDepth: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_bisect_depth",
			Help:      "Deepest bisection level reached per chunk",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}, []string{"operation"}),
	}
}

// ObserveSync records a finished sync.
func (m *Metrics) ObserveSync(kind string, elapsed time.Duration, replicas int) {
	if m == nil {
		return
	}

	m.SyncDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.SyncReplicas.WithLabelValues(kind).Add(float64(replicas))
}

// SkipRecord counts a record skipped for reason.
func (m *Metrics) SkipRecord(reason string) {
	if m == nil {
		return
	}

	m.SkippedRecords.WithLabelValues(reason).Inc()
}

// FileFetch counts a file-level detail fetch.
func (m *Metrics) FileFetch() {
	if m == nil {
		return
	}

	m.FileFetches.Inc()
}

// FileFetchSkip counts a file-level fetch that was not needed.
func (m *Metrics) FileFetchSkip() {
	if m == nil {
		return
	}

	m.FileFetchSkips.Inc()
}

// Starved counts a replica left in the explicit-empty state.
func (m *Metrics) Starved() {
	if m == nil {
		return
	}

	m.StarvedReplicas.Inc()
}

// InventoryChange counts n changes of the given action (added, updated,
// removed).
func (m *Metrics) InventoryChange(action string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.InventoryActions.WithLabelValues(action).Add(float64(n))
}

// Request counts one mutation submission.
func (m *Metrics) Request(operation, outcome string) {
	if m == nil {
		return
	}

	m.Requests.WithLabelValues(operation, outcome).Inc()
}

// Accepted counts bytes covered by an accepted request.
func (m *Metrics) Accepted(operation string, bytes int64) {
	if m == nil {
		return
	}

	m.RequestedBytes.WithLabelValues(operation).Add(float64(bytes))
}

// Bisected records a chunk's bisection outcome.
func (m *Metrics) Bisected(operation string, depth, dropped int) {
	if m == nil {
		return
	}

	m.BisectDepth.WithLabelValues(operation).Observe(float64(depth))

	if dropped > 0 {
		m.DroppedItems.WithLabelValues(operation).Add(float64(dropped))
	}
}
