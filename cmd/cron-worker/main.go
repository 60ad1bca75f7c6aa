package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/app"
	"github.com/angelmondragon/orderflow-backend/internal/cron"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

func main() {
	rt := app.MustBoot("cron-worker")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	dbClient := rt.MustDatabase(ctx)
	redisClient := rt.MustRedis(ctx)

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	stack, err := app.Build(app.Params{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Metrics: orderMetrics,
	})
	rt.Check(ctx, "build order services", err)

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:   logg,
		Payments: stack.Payments,
		Metrics:  orderMetrics,
		Config:   cfg.Reconciliation,
	})
	rt.Check(ctx, "create payment reconcile job", err)
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Outbox:    outbox.NewRepository(dbClient.DB()),
		DLQ:       outbox.NewDLQRepository(dbClient.DB()),
		Retention: cfg.Outbox.Retention,
	})
	rt.Check(ctx, "create outbox retention job", err)
	jobs, err := cron.NewRegistry(reconcileJob, retentionJob)
	rt.Check(ctx, "register cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Reconciliation.LockTTL)
	rt.Check(ctx, "create cron lock", err)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Reconciliation.Interval(),
		JobTimeout: cfg.Reconciliation.LockTTL,
	})
	rt.Check(ctx, "create cron service", err)

	logg.Info(ctx, "starting cron worker")
	rt.ServeMetrics(ctx)
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// lockName keeps environments sharing a Redis instance from blocking each
// other.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
