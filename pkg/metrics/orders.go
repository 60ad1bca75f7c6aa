package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics covers the order state machine, the payment gateways and the
// realtime dispatcher.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
	gatewayCall *prometheus.HistogramVec
	reconciled  *prometheus.CounterVec
	dispatched  *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on reg. A nil registerer yields
// a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Applied order status transitions.",
		}, []string{"from", "to", "cause"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_rejected_total",
			Help: "Rejected order status transitions by error code.",
		}, []string{"code"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Inbound payment outcomes by gateway and result.",
		}, []string{"gateway", "result"}),
		gatewayCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_query_seconds",
			Help:    "Latency of outbound gateway status queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Reconciliation attempts by outcome.",
		}, []string{"outcome"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_dispatch_total",
			Help: "Status updates handed to the realtime fan-out.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.transitions, m.rejected, m.callbacks, m.gatewayCall, m.reconciled, m.dispatched)
	return m
}

func (m *OrderMetrics) IncTransition(from, to, cause string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(cause)).Inc()
}

func (m *OrderMetrics) IncRejected(code string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *OrderMetrics) IncCallback(gateway, result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}

func (m *OrderMetrics) ObserveGatewayQuery(gateway, outcome string, d time.Duration) {
	if m == nil || m.gatewayCall == nil {
		return
	}
	m.gatewayCall.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Observe(d.Seconds())
}

func (m *OrderMetrics) IncReconciled(outcome string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *OrderMetrics) IncDispatch(result string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(result)).Inc()
}
