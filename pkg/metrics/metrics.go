package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the migration hot paths.
// One instance is shared by the reader, loader, reconciliation engine and
// orchestrator; tests construct their own against a private registry.
type Metrics struct {
	PagesFetched    *prometheus.CounterVec
	PageFailures    *prometheus.CounterVec
	ChunksCommitted *prometheus.CounterVec
	ChunksFailed    *prometheus.CounterVec
	RecordsInserted *prometheus.CounterVec
	OracleCacheHits prometheus.Counter
	OracleCalls     prometheus.Counter
	RunDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers the migration collectors on the given
// registry. Pass prometheus.NewRegistry() in tests for isolation.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "pages_fetched_total",
			Help:      "Source pages fetched successfully.",
		}, []string{"endpoint"}),
		PageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "page_failures_total",
			Help:      "Source pages skipped after a transport failure.",
		}, []string{"endpoint"}),
		ChunksCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "chunks_committed_total",
			Help:      "Chunk transactions committed, by target table.",
		}, []string{"target"}),
		ChunksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "chunks_failed_total",
			Help:      "Chunk transactions rolled back, by target table.",
		}, []string{"target"}),
		RecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "records_inserted_total",
			Help:      "Records inserted, by target table.",
		}, []string{"target"}),
		OracleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "oracle_cache_hits_total",
			Help:      "Reconciliation results served from the cache.",
		}),
		OracleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "oracle_calls_total",
			Help:      "Reconciliation requests sent to the oracle.",
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicsay",
			Subsystem: "migration",
			Name:      "run_duration_seconds",
			Help:      "Wall time of orchestrated runs, by entity.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"entity"}),
		registry: registry,
	}

	registry.MustRegister(
		m.PagesFetched,
		m.PageFailures,
		m.ChunksCommitted,
		m.ChunksFailed,
		m.RecordsInserted,
		m.OracleCacheHits,
		m.OracleCalls,
		m.RunDuration,
	)
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
