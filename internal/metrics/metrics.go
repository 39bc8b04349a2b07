// Package metrics exposes Prometheus counters and timers for the pipeline.
// Purely observational: a nil *Metrics is valid and every method is a
// no-op on it, so metrics can never change processing outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	messagesTotal      *prometheus.CounterVec
	quarantinesTotal   *prometheus.CounterVec
	dedupHitsTotal     prometheus.Counter
	processingDuration *prometheus.HistogramVec
}

// New registers the pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_messages_total",
			Help: "Messages handled, by final disposition.",
		}, []string{"disposition"}),
		quarantinesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_quarantines_total",
			Help: "Quarantined uploads, by reason category.",
		}, []string{"category"}),
		dedupHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "etl_dedup_hits_total",
			Help: "Messages short-circuited by a completed ledger entry.",
		}),
		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_processing_duration_seconds",
			Help:    "End-to-end per-message processing time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"record_type"}),
	}
}

func (m *Metrics) ObserveDisposition(disposition string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(disposition).Inc()
}

func (m *Metrics) ObserveQuarantine(category string) {
	if m == nil {
		return
	}
	m.quarantinesTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveDedupHit() {
	if m == nil {
		return
	}
	m.dedupHitsTotal.Inc()
}

func (m *Metrics) ObserveProcessing(recordType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.processingDuration.WithLabelValues(recordType).Observe(elapsed.Seconds())
}
