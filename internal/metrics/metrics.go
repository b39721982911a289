// Package metrics exposes Prometheus collectors for the resolution
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	mentionsResolved  *prometheus.CounterVec
	resolutionErrors  prometheus.Counter
	conflictRetries   prometheus.Counter
	resolutionLatency prometheus.Histogram
	matchScores       prometheus.Histogram
	historyAppends    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector creates a collector backed by its own registry so that
// independent instances never collide on registration.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		mentionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldledger_mentions_resolved_total",
			Help: "Total number of mentions resolved, by resolution path",
		}, []string{"path"}),

		resolutionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldledger_resolution_errors_total",
			Help: "Total number of mention resolutions that failed",
		}),

		conflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldledger_creation_conflicts_total",
			Help: "Total number of lost creation races retried as updates",
		}),

		resolutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldledger_resolution_duration_seconds",
			Help:    "End-to-end mention resolution latency",
			Buckets: prometheus.DefBuckets,
		}),

		matchScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldledger_match_score",
			Help:    "Similarity scores of accepted fuzzy matches",
			Buckets: prometheus.LinearBuckets(60, 5, 9),
		}),

		historyAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldledger_history_appends_total",
			Help: "Total number of occurrence history records appended",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldledger_http_requests_total",
			Help: "Total number of HTTP requests, by route and status code",
		}, []string{"route", "method", "code"}),

		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldledger_http_request_duration_seconds",
			Help:    "HTTP request latency, by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// RecordResolved records one successful resolution. Fuzzy scores land
// in the score histogram; exact and created paths carry no meaningful
// score and are skipped there.
func (c *Collector) RecordResolved(path string, score float64, duration time.Duration) {
	c.mentionsResolved.WithLabelValues(path).Inc()
	c.resolutionLatency.Observe(duration.Seconds())
	if path == "fuzzy" {
		c.matchScores.Observe(score)
	}
}

// RecordHistoryAppend records one occurrence history record reaching
// the store.
func (c *Collector) RecordHistoryAppend() {
	c.historyAppends.Inc()
}

// RecordConflictRetry records one creation race lost and retried as an
// update.
func (c *Collector) RecordConflictRetry() {
	c.conflictRetries.Inc()
}

// RecordResolutionError records one failed resolution.
func (c *Collector) RecordResolutionError() {
	c.resolutionErrors.Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(route, method, code string, seconds float64) {
	c.httpRequests.WithLabelValues(route, method, code).Inc()
	c.httpLatency.WithLabelValues(route, method).Observe(seconds)
}

// Handler returns the HTTP handler serving this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
