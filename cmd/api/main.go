package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/api/routes"
	"github.com/angelmondragon/orderflow-backend/internal/app"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt := app.MustBoot("api")
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

	hub, err := notifications.NewHub(notifications.HubParams{
		Source:           redisClient,
		SubscriberBuffer: cfg.Realtime.SubscriberBuf,
		Metrics:          orderMetrics,
		Logger:           logg,
	})
	rt.Check(ctx, "create realtime hub", err)
	rooms, err := notifications.NewRoomServer(notifications.RoomServerParams{
		Hub:            hub,
		Orders:         stack.Orders,
		PingInterval:   cfg.Realtime.PingInterval,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		Logger:         logg,
	})
	rt.Check(ctx, "create websocket server", err)

	// PORT is set by the platform and wins over config.
	addr := ":" + listenPort(os.Getenv("PORT"), cfg.App.Port)
	ctx = logg.WithField(ctx, "addr", addr)

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Orders:      stack.Orders,
			Payments:    stack.Payments,
			Rooms:       rooms,
			DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "api server stopped unexpectedly", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func listenPort(platform, configured string) string {
	if platform != "" {
		return platform
	}
	return configured
}
