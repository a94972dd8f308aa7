// Package metrics defines the prometheus collectors exposed by the
// conductor and shard processes, grouped the same way warren's pkg/metrics
// groups cluster/raft/api metrics: one var block per subsystem, registered
// once from Register.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query path
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_queries_total",
			Help: "Total number of queries processed, by statement kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_query_duration_seconds",
			Help:    "End-to-end query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ShardFanoutSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conductor_shard_fanout_size",
			Help:    "Number of shards targeted by a single query",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"kind"},
	)

	ShardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_shard_requests_total",
			Help: "Total shard-level requests issued by the executor, by outcome",
		},
		[]string{"outcome"},
	)

	// Cache
	PlanCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_plan_cache_hits_total",
			Help: "Total plan cache hits",
		},
	)
	PlanCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_plan_cache_misses_total",
			Help: "Total plan cache misses",
		},
	)

	// Index maintenance
	MaintenanceJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_maintenance_jobs_total",
			Help: "Total index maintenance jobs processed, by job kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	MaintenanceQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_maintenance_queue_depth",
			Help: "Current depth of the index maintenance queue",
		},
	)
	MaintenanceDLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conductor_maintenance_dlq_total",
			Help: "Total maintenance jobs moved to the dead-letter queue after exhausting retries",
		},
	)

	// Topology
	TopologyNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_topology_nodes_total",
			Help: "Total storage nodes known to the topology, by status",
		},
		[]string{"status"},
	)
	TopologyShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_topology_shards_total",
			Help: "Total table shards tracked in the topology",
		},
	)

	// Shard node
	ShardQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shard_query_duration_seconds",
			Help:    "Duration of a single shard-local query execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Register registers every collector in this package with the default
// prometheus registry. Call once at process startup.
func Register() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		ShardFanoutSize,
		ShardRequestsTotal,
		PlanCacheHits,
		PlanCacheMisses,
		MaintenanceJobsTotal,
		MaintenanceQueueDepth,
		MaintenanceDLQTotal,
		TopologyNodesTotal,
		TopologyShardsTotal,
		ShardQueryDuration,
	)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
