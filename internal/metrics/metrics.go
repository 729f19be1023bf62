// Package metrics exposes Prometheus metrics for the imagesearch service:
// cache effectiveness per class, session lifecycle, and indexing health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all imagesearch Prometheus metrics.
type Metrics struct {
	// Cache metrics, labeled by cache class (content, query, embedding).
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	CacheLatency *prometheus.HistogramVec
	CacheBytes   *prometheus.GaugeVec

	// Session lifecycle.
	SessionsActive    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionsRejected  prometheus.Counter

	// Indexing health.
	CandidatesIndexed  prometheus.Counter
	IndexBatchFailures prometheus.Counter
}

// New initializes and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_cache_hits_total",
			Help: "Cache hits by cache class",
		}, []string{"class"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesearch_cache_misses_total",
			Help: "Cache misses by cache class",
		}, []string{"class"}),
		CacheLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesearch_cache_latency_seconds",
			Help:    "Cache read latency by cache class",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		CacheBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imagesearch_cache_bytes",
			Help: "Cumulative bytes written by cache class",
		}, []string{"class"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imagesearch_sessions_active",
			Help: "Sessions currently in an active pipeline phase",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_sessions_started_total",
			Help: "Sessions admitted",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_sessions_completed_total",
			Help: "Sessions that reached the completed state",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_sessions_failed_total",
			Help: "Sessions that reached the error state",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_sessions_rejected_total",
			Help: "Session admissions refused by capacity control",
		}),
		CandidatesIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_candidates_indexed_total",
			Help: "Candidates successfully indexed",
		}),
		IndexBatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagesearch_index_batch_failures_total",
			Help: "Index batches that failed and were skipped",
		}),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
