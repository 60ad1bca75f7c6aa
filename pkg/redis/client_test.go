package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCommands()
	client := &Client{store: mock}

	for want := int64(1); want <= 3; want++ {
		count, err := client.IncrWithTTL(ctx, "of:rate_limit:ip", 2*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != want {
			t.Fatalf("expected counter %d got %d", want, count)
		}
	}
	if got := mock.ttls["of:rate_limit:ip"]; got != 2000 {
		t.Fatalf("expected window of 2000ms got %d", got)
	}
	if mock.expires != 1 {
		t.Fatalf("expected a single expire, got %d", mock.expires)
	}
}

func TestReleaseLockOnlyDropsOwnToken(t *testing.T) {
	ctx := context.Background()
	mock := newMockCommands()
	client := &Client{store: mock}
	key := client.LockKey("cron-worker:test")

	if ok, _ := client.SetNX(ctx, key, "token-a", time.Minute); !ok {
		t.Fatal("expected lease acquired")
	}
	released, err := client.ReleaseLock(ctx, key, "token-b")
	if err != nil || released {
		t.Fatalf("foreign token must not release, released=%v err=%v", released, err)
	}
	released, err = client.ReleaseLock(ctx, key, "token-a")
	if err != nil || !released {
		t.Fatalf("owner should release, released=%v err=%v", released, err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected lease gone, got %v", err)
	}
}

func TestPublishUsesOrderChannel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCommands()
	client := &Client{store: mock}

	if err := client.Publish(ctx, client.OrderChannel("o-1"), "payload"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(mock.published) != 1 || mock.published[0].channel != "of:orders:o-1" {
		t.Fatalf("unexpected published messages %+v", mock.published)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCommands()
	client := &Client{store: mock}

	ok, err := client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	if err := client.Set(ctx, "k", "2", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got, _ := client.Get(ctx, "k"); got != "2" {
		t.Fatalf("expected overwrite, got %q", got)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); err != redis.Nil {
		t.Fatalf("expected redis.Nil after del, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if err := client.Ping(ctx); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.PSubscribe(ctx, "x"); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.IncrWithTTL(ctx, "x", time.Second); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on an unopened client should be a no-op: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("payment-callback", "wallet:ref:PAID"): "of:idempotency:payment-callback:wallet:ref:PAID",
		client.RateLimitKey("place-order:ip:1.2.3.4"):                "of:rate_limit:place-order:ip:1.2.3.4",
		client.LockKey("cron-worker:prod"):                           "of:lock:cron-worker:prod",
		client.ThrottleKey("payment_poll", ""):                       "of:throttle:payment_poll",
		client.OrderChannel("o-1"):                                   "of:orders:o-1",
		client.OrderChannelPattern():                                 "of:orders:*",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
}

func TestSlowLogReportsSlowCommands(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "redis-test", Output: &buf})
	hook := slowLog{logg: logg, threshold: 5 * time.Millisecond}

	fast := hook.ProcessHook(func(context.Context, redis.Cmder) error { return nil })
	if err := fast(context.Background(), redis.NewStatusCmd(context.Background(), "ping")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("fast command should not log: %s", buf.String())
	}

	slow := hook.ProcessHook(func(context.Context, redis.Cmder) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if err := slow(context.Background(), redis.NewStatusCmd(context.Background(), "ping")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "slow redis command") || !strings.Contains(buf.String(), `"command":"ping"`) {
		t.Fatalf("expected slow command log, got %s", buf.String())
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/2", PoolSize: 20, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("url not honored: %+v", opts)
	}
	if opts.PoolSize != 20 || opts.DialTimeout != time.Second {
		t.Fatalf("explicit settings should fill gaps: pool=%d dial=%v", opts.PoolSize, opts.DialTimeout)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 3 {
		t.Fatalf("address not honored: %+v", opts)
	}
}

type mockCommands struct {
	data      map[string]string
	counters  map[string]int64
	ttls      map[string]int64
	expires   int
	published []publishCall
}

type publishCall struct {
	channel string
	payload any
}

func newMockCommands() *mockCommands {
	return &mockCommands{
		data:     make(map[string]string),
		counters: make(map[string]int64),
		ttls:     make(map[string]int64),
	}
}

func (m *mockCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCommands) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCommands) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCommands) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	m.published = append(m.published, publishCall{channel: channel, payload: message})
	return redis.NewIntResult(1, nil)
}

// Eval emulates the two scripts the client ships.
func (m *mockCommands) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	switch script {
	case incrWithTTLScript:
		m.counters[keys[0]]++
		n := m.counters[keys[0]]
		if ttl := args[0].(int64); n == 1 && ttl > 0 {
			m.ttls[keys[0]] = ttl
			m.expires++
		}
		return redis.NewCmdResult(n, nil)
	case releaseLockScript:
		if m.data[keys[0]] == args[0].(string) {
			delete(m.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}
