// Package metrics holds the Prometheus instrumentation for the
// proctoring analytical engine, grounded on the teacher's
// internal/escrow/metrics.go pattern (promauto-registered vectors plus
// thin Record* helper methods) but scoped to this service's own
// concerns: consumer throughput, violations emitted, and publish health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector this service registers.
type Metrics struct {
	MessagesConsumed *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec

	ViolationsEmitted *prometheus.CounterVec
	RiskScore         *prometheus.HistogramVec

	PublishTotal   *prometheus.CounterVec
	PublishRetries prometheus.Counter

	ModelReady *prometheus.GaugeVec

	BehaviorSessionsActive prometheus.Gauge
}

// NewMetrics builds and registers every collector. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctoring_messages_consumed_total",
				Help: "Total inbound messages consumed, by queue and outcome",
			},
			[]string{"queue", "outcome"}, // outcome: ack, nack
		),
		MessagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctoring_messages_dropped_total",
				Help: "Total inbound messages dropped as poison payloads, by queue",
			},
			[]string{"queue"},
		),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proctoring_handler_duration_seconds",
				Help:    "Time spent inside one consumer handler invocation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ViolationsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctoring_violations_emitted_total",
				Help: "Total violations published, by event type and severity",
			},
			[]string{"event_type", "severity"},
		),
		RiskScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proctoring_risk_score",
				Help:    "Distribution of composite risk scores, by modality",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"modality"}, // frame, audio, behavior
		),
		PublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proctoring_publish_total",
				Help: "Total outbound publish attempts, by outcome",
			},
			[]string{"outcome"}, // success, dropped
		),
		PublishRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "proctoring_publish_retries_total",
				Help: "Total publish attempts that required a retry",
			},
		),
		ModelReady: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proctoring_model_ready",
				Help: "Whether a model registry capability is ready (1) or unavailable (0)",
			},
			[]string{"capability"},
		),
		BehaviorSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "proctoring_behavior_sessions_active",
				Help: "Number of sessions currently tracked in the behavior rolling window",
			},
		),
	}
}

// RecordConsumed tags one inbound message with its queue and ack/nack outcome.
func (m *Metrics) RecordConsumed(queue, outcome string) {
	m.MessagesConsumed.WithLabelValues(queue, outcome).Inc()
}

// RecordDropped counts one poison-payload drop for queue.
func (m *Metrics) RecordDropped(queue string) {
	m.MessagesDropped.WithLabelValues(queue).Inc()
}

// RecordViolation tags one published violation by type and severity.
func (m *Metrics) RecordViolation(eventType, severity string) {
	m.ViolationsEmitted.WithLabelValues(eventType, severity).Inc()
}

// RecordPublish tags one publish attempt outcome ("success" or "dropped").
func (m *Metrics) RecordPublish(outcome string, retried bool) {
	m.PublishTotal.WithLabelValues(outcome).Inc()
	if retried {
		m.PublishRetries.Inc()
	}
}

// SetModelReady reflects the registry's readiness flags into gauges.
func (m *Metrics) SetModelReady(capability string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	m.ModelReady.WithLabelValues(capability).Set(v)
}
