package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/app"
	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/internal/consumers/analytics"
	"github.com/angelmondragon/orderflow-backend/internal/consumers/email"
	"github.com/angelmondragon/orderflow-backend/internal/consumers/realtime"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/kafka"
	"github.com/angelmondragon/orderflow-backend/pkg/mailer"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

func main() {
	rt := app.MustBoot("worker")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithField(ctx, "broker", cfg.Eventing.Broker)

	redisClient := rt.MustRedis(ctx)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL,
		idempotency.WithLease(cfg.Eventing.ConsumerLease))
	rt.Check(ctx, "build idempotency manager", err)

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Store:       redisClient,
		DedupWindow: cfg.Realtime.DispatchDedup,
		Metrics:     orderMetrics,
		Logger:      logg,
	})
	rt.Check(ctx, "build notification dispatcher", err)

	relay, err := realtime.NewRelay(dispatcher, logg)
	rt.Check(ctx, "build realtime relay", err)

	sender, err := mailer.NewSMTPSender(cfg.Mail, logg)
	rt.Check(ctx, "build mail sender", err)
	notifier, err := email.NewNotifier(sender, logg)
	rt.Check(ctx, "build email notifier", err)

	handlers := []consumers.Handler{relay, notifier}
	deps := []dependency{{name: "redis", p: redisClient}}

	if cfg.BigQuery.Enabled {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		rt.Check(ctx, "connect to bigquery", err)
		rt.OnClose("bigquery", bqClient.Close)
		timeline, err := analytics.NewConsumer(bqClient, cfg.BigQuery.OrderEventsTable, logg)
		rt.Check(ctx, "build order timeline consumer", err)
		handlers = append(handlers, timeline)
		deps = append(deps, dependency{name: "bigquery", p: bqClient})
	}

	runners := make([]*consumers.Runner, 0, len(handlers))
	for _, h := range handlers {
		runner, err := consumers.NewRunner(h, manager, logg)
		rt.Check(ctx, "build "+h.Name()+" runner", err)
		runners = append(runners, runner)
	}

	var workloads []workload
	switch cfg.Eventing.Broker {
	case config.BrokerKafka:
		for _, runner := range runners {
			consumer, err := kafka.NewConsumer(cfg.Kafka, runner.Name(), logg)
			rt.Check(ctx, "build "+runner.Name()+" kafka consumer", err)
			workloads = append(workloads, kafkaWorkload(runner, consumer))
		}
	default:
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		rt.Check(ctx, "connect to pubsub", err)
		rt.OnClose("pubsub", pubsubClient.Close)
		deps = append(deps, dependency{name: "pubsub", p: pubsubClient})
		subscriptions := map[string]subscriptionSource{
			relay.Name():    pubsubClient.RealtimeSubscription,
			notifier.Name(): pubsubClient.NotificationSubscription,
		}
		if cfg.BigQuery.Enabled {
			subscriptions[handlers[len(handlers)-1].Name()] = pubsubClient.AnalyticsSubscription
		}
		for _, runner := range runners {
			workloads = append(workloads, pubsubWorkload(runner, subscriptions[runner.Name()]))
		}
	}

	if cfg.App.MetricsAddr != "" {
		workloads = append(workloads, metricsWorkload(cfg.App.MetricsAddr, logg))
	}

	service, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: deps,
		Workloads:    workloads,
	})
	rt.Check(ctx, "build worker service", err)

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
