package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestOutboxMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObserveBatch(3)
	m.ObservePublished("order_status_changed", "kafka", time.Now().Add(-2*time.Second))
	m.ObservePublished("order_status_changed", "kafka", time.Time{})
	m.IncFailed("payment_settled", "pubsub")
	m.IncDeadLettered("payment_settled", "max_attempts")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "outbox_events_published_total", "event_type", "order_status_changed")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	lag, err := findMetric(mfs, "outbox_publish_lag_seconds", "event_type", "order_status_changed")
	require.NoError(t, err)
	require.Equal(t, uint64(1), lag.GetHistogram().GetSampleCount())
	require.GreaterOrEqual(t, lag.GetHistogram().GetSampleSum(), 2.0)

	got, err = fetchCounterValue(mfs, "outbox_events_dead_lettered_total", "reason", "max_attempts")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.ObserveBatch(1)
	m.ObservePublished("x", "y", time.Now())
	m.IncFailed("x", "y")
	m.IncDeadLettered("x", "y")
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry(), nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics listener did not stop")
	}
}
