package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/env"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

// Runtime is the scaffolding each binary starts from: environment, config,
// logger and the resources that must be closed on the way out.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

type closer struct {
	name string
	fn   func() error
}

// MustBoot loads .env and the config for a service kind, exiting on error.
func MustBoot(kind string) *Runtime {
	rt, err := boot(kind, config.Load, nil)
	if err != nil {
		rt.Fatal(context.Background(), "failed to load config", err)
	}
	return rt
}

// boot always returns a usable Runtime so the caller can log the error.
func boot(kind string, load func() (*config.Config, error), out io.Writer) (*Runtime, error) {
	rt := &Runtime{Kind: kind, Logger: logger.New(logger.Options{ServiceName: kind, Output: out}), exit: os.Exit}
	if err := godotenv.Load(); err != nil {
		rt.Logger.Debug(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := load()
	if err != nil {
		return rt, err
	}
	cfg.Service.Kind = kind
	rt.Config = cfg
	rt.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      out,
	})
	return rt, nil
}

// Check exits through Fatal when err is set. what names the step, as in
// "failed to <what>".
func (rt *Runtime) Check(ctx context.Context, what string, err error) {
	if err != nil {
		rt.Fatal(ctx, "failed to "+what, err)
	}
}

// Fatal logs, releases what was opened so far and exits with status 1.
func (rt *Runtime) Fatal(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	rt.Close()
	rt.exit(1)
}

// OnClose registers fn to run at Close, newest first.
func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			rt.Logger.Error(rt.Logger.WithField(context.Background(), "resource", c.name), "close failed", err)
		}
	}
	rt.closers = nil
}

// MustDatabase opens the pool and applies dev migrations when enabled.
func (rt *Runtime) MustDatabase(ctx context.Context) *db.Client {
	client, err := db.New(ctx, rt.Config.DB, rt.Logger)
	rt.Check(ctx, "connect to database", err)
	rt.OnClose("database", client.Close)
	rt.Check(ctx, "run dev migrations", migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, client))
	return client
}

func (rt *Runtime) MustRedis(ctx context.Context) *redis.Client {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	rt.Check(ctx, "connect to redis", err)
	rt.OnClose("redis", client.Close)
	return client
}

// SignalContext is canceled on SIGINT or SIGTERM and carries the process
// fields every log line of the run should have.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":         rt.Config.App.Env,
		"instance":    env.InstanceID(),
		"serviceKind": rt.Kind,
	})
	return ctx, stop
}

// ServeMetrics exposes /metrics on ORDERFLOW_METRICS_ADDR for binaries with
// no HTTP server of their own. It is a no-op when the address is unset.
func (rt *Runtime) ServeMetrics(ctx context.Context) {
	addr := rt.Config.App.MetricsAddr
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, nil, rt.Logger); err != nil && !errors.Is(err, context.Canceled) {
			rt.Logger.Error(ctx, "metrics listener stopped", err)
		}
	}()
}
