package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderflow-backend/internal/app"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/kafka"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/orderflow-backend/pkg/pubsub"
)

func main() {
	rt := app.MustBoot("outbox-publisher")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	dbClient := rt.MustDatabase(ctx)

	var (
		sink  broker
		topic string
	)
	switch cfg.Eventing.Broker {
	case config.BrokerKafka:
		producer, err := kafka.NewProducer(cfg.Kafka, logg)
		rt.Check(ctx, "create kafka producer", err)
		rt.OnClose("kafka producer", producer.Close)
		sink, topic = &kafkaBroker{producer: producer}, cfg.Kafka.OrdersTopic
	default:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		rt.Check(ctx, "connect to pubsub", err)
		rt.OnClose("pubsub", client.Close)
		sink, topic = &pubsubBroker{client: client}, cfg.PubSub.OrdersTopic
	}
	ctx = logg.WithField(ctx, "broker", sink.Name())

	events, err := registry.New(topic)
	rt.Check(ctx, "build event registry", err)
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Broker:        sink,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	rt.Check(ctx, "create outbox publisher", err)

	logg.Info(ctx, "starting outbox publisher")
	rt.ServeMetrics(ctx)
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
