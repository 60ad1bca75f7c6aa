package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (func(context.Context) error, bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.held = true
	return func(context.Context) error {
		f.held = false
		f.releases++
		return nil
	}, true, nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunCycleRunsEveryJobAndCombinesFailures(t *testing.T) {
	ok := &testJob{name: "ok"}
	failA := &testJob{name: "fail-a", err: errors.New("boom")}
	failB := &testJob{name: "fail-b", err: errors.New("bang")}
	lock := &fakeLock{}
	service := newTestService(t, lock, failA, ok, failB)

	err := service.runCycle(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	for _, want := range []string{"fail-a: boom", "fail-b: bang"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
	for _, job := range []*testJob{ok, failA, failB} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if lock.held || lock.releases != 1 {
		t.Fatalf("expected lock released once, held=%v releases=%d", lock.held, lock.releases)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	service := newTestService(t, &fakeLock{held: true}, job)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
}

type memoryLockStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] != token {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func TestRedisLockReleasesOnlyOwnLease(t *testing.T) {
	store := &memoryLockStore{keys: map[string]string{}}
	lock, err := NewRedisLock(store, "of:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.Acquire(ctx); ok {
		t.Fatal("second acquire must fail while held")
	}

	// simulate the lease expiring and another worker taking it
	store.keys["of:lock:cron"] = "someone-else"
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.keys["of:lock:cron"] != "someone-else" {
		t.Fatal("release removed a lease it did not own")
	}

	delete(store.keys, "of:lock:cron")
	release, ok, err = lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("reacquire: ok=%v err=%v", ok, err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.keys["of:lock:cron"]; held {
		t.Fatal("expected lease deleted")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}
