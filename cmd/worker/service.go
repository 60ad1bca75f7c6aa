package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/kafka"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

type pinger interface {
	Ping(context.Context) error
}

// dependency is something the worker must reach before it starts consuming.
type dependency struct {
	name string
	p    pinger
}

// workload binds one consumer runner to its broker subscription.
type workload struct {
	name string
	run  func(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Workloads    []workload
}

// Service runs every consumer side by side. The first consumer to fail stops
// the rest so the process restarts as a whole.
type Service struct {
	logg      *logger.Logger
	deps      []dependency
	workloads []workload
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Workloads) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, w := range params.Workloads {
		if w.run == nil {
			return nil, fmt.Errorf("consumer %s has no runner", w.name)
		}
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, workloads: params.Workloads}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if dep.p == nil {
			continue
		}
		if err := dep.p.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workloads {
		g.Go(func() error {
			runCtx := s.logg.WithField(gctx, "consumer", w.name)
			s.logg.Info(runCtx, "consumer started")
			err := w.run(runCtx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				s.logg.Error(runCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", w.name, err)
			case gctx.Err() == nil:
				return fmt.Errorf("%s: consumer exited", w.name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type subscriptionSource func() *gcppubsub.Subscriber

type kafkaRunner interface {
	Run(ctx context.Context, h kafka.Handler) error
}

func pubsubWorkload(runner *consumers.Runner, sub subscriptionSource) workload {
	return workload{
		name: runner.Name(),
		run: func(ctx context.Context) error {
			var s *gcppubsub.Subscriber
			if sub != nil {
				s = sub()
			}
			if s == nil {
				return fmt.Errorf("subscription for %s not configured", runner.Name())
			}
			return runner.RunPubSub(ctx, s)
		},
	}
}

func metricsWorkload(addr string, logg *logger.Logger) workload {
	return workload{
		name: "metrics",
		run: func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, nil, logg)
		},
	}
}

func kafkaWorkload(runner *consumers.Runner, consumer kafkaRunner) workload {
	return workload{
		name: runner.Name(),
		run: func(ctx context.Context) error {
			return runner.RunKafka(ctx, consumer)
		},
	}
}
