// Package metrics exposes classification counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raaihank/logsort/internal/batch"
	"github.com/raaihank/logsort/internal/classifier"
)

const namespace = "logsort"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry        *prometheus.Registry
	classifications *prometheus.CounterVec
	unclassified    prometheus.Counter
	duration        prometheus.Histogram
	batchDuration   prometheus.Histogram
	batchRecords    prometheus.Counter
	batches         *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Log lines classified, by label.",
		}, []string{"label"}),
		unclassified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unclassified_total",
			Help:      "Log lines no rule matched.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent classifying a single line.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent classifying a whole upload.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		batchRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_records_total",
			Help:      "Records processed by batch uploads.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch uploads, by outcome.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.classifications,
		m.unclassified,
		m.duration,
		m.batchDuration,
		m.batchRecords,
		m.batches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveResult records a single classification
func (m *Metrics) ObserveResult(result classifier.Result, elapsed time.Duration) {
	if result.IsMatch() {
		m.classifications.WithLabelValues(result.Label).Inc()
	} else {
		m.unclassified.Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}

// ObserveBatch records a finished batch. Unmatched records are taken from
// summary.Unmatched and removed from the unclassifiedLabel bucket, so a rule
// that happens to share that label is still counted as a classification.
func (m *Metrics) ObserveBatch(summary batch.Summary, unclassifiedLabel string, elapsed time.Duration) {
	m.unclassified.Add(float64(summary.Unmatched))
	for label, count := range summary.Counts {
		if label == unclassifiedLabel {
			count -= summary.Unmatched
		}
		if count > 0 {
			m.classifications.WithLabelValues(label).Add(float64(count))
		}
	}
	m.batchRecords.Add(float64(summary.Total))
	m.batches.WithLabelValues("ok").Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

// ObserveBatchFailure counts a rejected or failed batch
func (m *Metrics) ObserveBatchFailure() {
	m.batches.WithLabelValues("failed").Inc()
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
