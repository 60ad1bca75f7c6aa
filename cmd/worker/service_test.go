package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func blockingWorkload(name string, started *atomic.Int32) workload {
	return workload{name: name, run: func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}}
}

func TestNewServiceRequiresWorkloads(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatalf("expected error without workloads")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger(), Workloads: []workload{{name: "x"}}}); err == nil {
		t.Fatalf("expected error for workload without runner")
	}
}

func TestRunFailsWhenDependencyIsDown(t *testing.T) {
	var started atomic.Int32
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: []dependency{{name: "redis", p: stubPinger{err: errors.New("refused")}}},
		Workloads:    []workload{blockingWorkload("relay", &started)},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Run(context.Background()); err == nil {
		t.Fatalf("expected readiness error")
	}
	if started.Load() != 0 {
		t.Fatalf("consumers must not start before dependencies are ready")
	}
}

func TestRunStopsAllConsumersWhenOneFails(t *testing.T) {
	var started atomic.Int32
	boom := errors.New("subscription deleted")
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Workloads: []workload{
			blockingWorkload("relay", &started),
			{name: "email", run: func(context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return boom
			}},
		},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected consumer error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after a consumer failed")
	}
}

func TestRunReturnsCanceledOnShutdown(t *testing.T) {
	var started atomic.Int32
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: []dependency{{name: "redis", p: stubPinger{}}},
		Workloads:    []workload{blockingWorkload("relay", &started), blockingWorkload("email", &started)},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for started.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPubSubWorkloadWithoutSubscriptionErrors(t *testing.T) {
	w := pubsubWorkload(mustRunner(t), nil)
	if err := w.run(context.Background()); err == nil {
		t.Fatalf("expected error for missing subscription")
	}
}

type noopHandler struct{}

func (noopHandler) Name() string { return "noop" }

func (noopHandler) Handle(context.Context, consumers.Event) error { return nil }

type noopManager struct{}

func (noopManager) Claim(context.Context, string, uuid.UUID) (idempotency.State, error) {
	return idempotency.Claimed, nil
}

func (noopManager) Complete(context.Context, string, uuid.UUID) error { return nil }

func (noopManager) Release(context.Context, string, uuid.UUID) error { return nil }

func mustRunner(t *testing.T) *consumers.Runner {
	t.Helper()
	runner, err := consumers.NewRunner(noopHandler{}, noopManager{}, testLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner
}

func TestMetricsWorkloadStopsWithRun(t *testing.T) {
	var started atomic.Int32
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		Workloads: []workload{blockingWorkload("relay", &started), metricsWorkload("127.0.0.1:0", testLogger())},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	for started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
