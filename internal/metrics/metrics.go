// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// Collectors register with the default registry at init via promauto, so a
// process serving /metrics picks them up without wiring. Recording helpers
// keep label values to a closed set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	guardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_guard_decisions_total",
		Help: "Reconciliation guard decisions by outcome and reason",
	}, []string{"outcome", "reason"})

	mergeSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_merge_suppressed_total",
		Help: "Server entities held back by a tombstone or creation lock",
	}, []string{"reason"})

	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optisync_merge_duration_seconds",
		Help:    "Duration of snapshot merges",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	mergeBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "optisync_merge_batch_size",
		Help:    "Number of entities per merged server batch",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	})

	mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_mutations_total",
		Help: "Mutations by kind (update, create, delete) and result (ack, rollback, superseded)",
	}, []string{"kind", "result"})

	mutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optisync_mutation_remote_seconds",
		Help:    "Latency of the remote call behind a mutation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"kind"})

	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_refreshes_total",
		Help: "Collection refreshes by result (ok, error, shared)",
	}, []string{"result"})

	cacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_cache_operations_total",
		Help: "Durable cache operations by op and result (hit, miss, expired, ok, failure)",
	}, []string{"op", "result"})

	registrySwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optisync_registry_swept_total",
		Help: "Lapsed registry records dropped by sweeps",
	}, []string{"registry"})
)

// Outcome labels.
const (
	OutcomeAccept = "accept"
	OutcomeReject = "reject"
)

// Mutation result labels.
const (
	ResultAck        = "ack"
	ResultRollback   = "rollback"
	ResultSuperseded = "superseded"
)

// Cache result labels.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheOK      = "ok"
	CacheFailure = "failure"
)

// RecordGuardDecision counts one guard verdict.
func RecordGuardDecision(accepted bool, reason string) {
	outcome := OutcomeReject
	if accepted {
		outcome = OutcomeAccept
	}
	guardDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordSuppressed counts one entity held back by a gate.
func RecordSuppressed(reason string) {
	mergeSuppressed.WithLabelValues(reason).Inc()
}

// ObserveMerge records the size and duration of one merge.
func ObserveMerge(batchSize int, d time.Duration) {
	mergeBatchSize.Observe(float64(batchSize))
	mergeDuration.Observe(d.Seconds())
}

// RecordMutation counts one finished mutation.
func RecordMutation(kind, result string) {
	mutations.WithLabelValues(kind, result).Inc()
}

// ObserveMutationLatency records how long the remote call took.
func ObserveMutationLatency(kind string, d time.Duration) {
	mutationLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordRefresh counts one refresh attempt.
func RecordRefresh(result string) {
	refreshes.WithLabelValues(result).Inc()
}

// RecordCache counts one cache operation.
func RecordCache(op, result string) {
	cacheOps.WithLabelValues(op, result).Inc()
}

// RecordSwept counts lapsed records dropped from a registry.
func RecordSwept(registry string, n int) {
	if n > 0 {
		registrySwept.WithLabelValues(registry).Add(float64(n))
	}
}
