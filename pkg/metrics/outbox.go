package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics covers the outbox publisher.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	lag          *prometheus.HistogramVec
	batch        prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker.",
		}, []string{"event_type", "broker"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Retryable publish failures.",
		}, []string{"event_type", "broker"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dead_lettered_total",
			Help: "Events moved to the DLQ by reason.",
		}, []string{"event_type", "reason"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_publish_lag_seconds",
			Help:    "Time between the event commit and its publish.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 15, 60, 300, 900},
		}, []string{"event_type"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_size",
			Help:    "Rows claimed per publisher batch.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.published, m.failed, m.deadLettered, m.lag, m.batch)
	return m
}

// ObservePublished records a successful publish and how long the event
// waited in the table.
func (m *OutboxMetrics) ObservePublished(eventType, broker string, createdAt time.Time) {
	if m == nil || m.published == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.published.WithLabelValues(eventType, normalizeLabel(broker)).Inc()
	if !createdAt.IsZero() {
		m.lag.WithLabelValues(eventType).Observe(time.Since(createdAt).Seconds())
	}
}

func (m *OutboxMetrics) IncFailed(eventType, broker string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(broker)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(eventType, reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(size))
}
