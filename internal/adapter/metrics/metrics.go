// Package metrics exposes Prometheus instrumentation for ingestion, retrieval
// and synthesis. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docbot"

type Metrics struct {
	registry *prometheus.Registry

	ingests        *prometheus.CounterVec
	chunksIndexed  prometheus.Counter
	ingestDuration prometheus.Histogram
	queries        *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	syntheses      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{registry: reg}

	m.ingests = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Document ingestions by outcome",
		},
		[]string{"outcome"},
	)

	m.chunksIndexed = promauto.With(reg).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks committed to the index",
		},
	)

	m.ingestDuration = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent embedding and committing one document",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	m.queries = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by scope and status",
		},
		[]string{"scope", "status"},
	)

	m.queryDuration = promauto.With(reg).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency including synthesis",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	m.syntheses = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Theme syntheses by outcome (ok, fallback, empty)",
		},
		[]string{"outcome"},
	)

	m.cacheLookups = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups by result",
		},
		[]string{"result"},
	)

	return m
}

// TrackIndexSize exposes the number of searchable chunks as a gauge.
func (m *Metrics) TrackIndexSize(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks currently searchable",
		},
		func() float64 { return float64(count()) },
	)
}

func (m *Metrics) ObserveIngest(outcome string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.chunksIndexed.Add(float64(chunks))
		m.ingestDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveQuery(scoped bool, status string, d time.Duration) {
	if m == nil {
		return
	}
	scope := "all"
	if scoped {
		scope = "document"
	}
	m.queries.WithLabelValues(scope, status).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSynthesis(outcome string) {
	if m == nil {
		return
	}
	m.syntheses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
