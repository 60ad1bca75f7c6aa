package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const slowCommand = 50 * time.Millisecond

var errNotInitialized = errors.New("redis client not initialized")

// commands is the part of go-redis the client calls; tests swap in a fake.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Publish(context.Context, string, any) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client is the Redis surface shared by the API, the workers and cron:
// idempotency records, rate-limit windows, the cron lease, the webhook
// guard and the per-order realtime channels.
type Client struct {
	store commands
	conn  *redis.Client
}

type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is what webhook and request idempotency need.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New connects and pings once. Commands slower than slowCommand are logged.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if logg != nil {
		conn.AddHook(slowLog{logg: logg, threshold: slowCommand})
	}
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Addr, err)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"addr":      opts.Addr,
		"db":        opts.DB,
		"pool_size": opts.PoolSize,
	}), "redis connected")
	return &Client{store: conn, conn: conn}, nil
}

// optionsFromConfig starts from ORDERFLOW_REDIS_URL, or the bare address,
// and lets explicit settings fill whatever the URL left at zero.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts = parsed
	}
	if opts.Addr == "" {
		return nil, errors.New("redis url or address is required")
	}
	opts.DB = cmp.Or(opts.DB, cfg.DB)
	opts.PoolSize = cmp.Or(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = cmp.Or(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = cmp.Or(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = cmp.Or(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = cmp.Or(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func (c *Client) cmds() (commands, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s, err := c.cmds()
	if err != nil {
		return err
	}
	return s.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.cmds()
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s, err := c.cmds()
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	s, err := c.cmds()
	if err != nil {
		return err
	}
	return s.Del(ctx, keys...).Err()
}

// Publish fans payload out to the channel's subscribers. Redis pub/sub is
// fire and forget; nobody listening is not an error.
func (c *Client) Publish(ctx context.Context, channel string, payload any) error {
	s, err := c.cmds()
	if err != nil {
		return err
	}
	return s.Publish(ctx, channel, payload).Err()
}

// PSubscribe waits for the server to confirm the subscription before
// returning. Callers must Close the result.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) (*redis.PubSub, error) {
	if c == nil || c.conn == nil {
		return nil, errNotInitialized
	}
	sub := c.conn.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("psubscribe %v: %w", patterns, err)
	}
	return sub, nil
}

func (c *Client) Ping(ctx context.Context) error {
	s, err := c.cmds()
	if err != nil {
		return err
	}
	return s.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// slowLog reports commands that took longer than threshold. Blocking
// commands are not used by this service, so any slow command is a symptom.
type slowLog struct {
	logg      *logger.Logger
	threshold time.Duration
}

func (h slowLog) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h slowLog) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if elapsed := time.Since(start); elapsed >= h.threshold {
			h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
				"command":     cmd.Name(),
				"duration_ms": elapsed.Milliseconds(),
			}), "slow redis command")
		}
		return err
	}
}

func (h slowLog) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
