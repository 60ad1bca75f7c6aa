package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

type paymentReconciler interface {
	ListReconcilable(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	Reconcile(ctx context.Context, paymentID uuid.UUID, opts payments.ReconcileOptions) (*payments.ReconcileResult, error)
	Expire(ctx context.Context, paymentID uuid.UUID) (*payments.ReconcileResult, error)
}

type PaymentReconcileJobParams struct {
	Logger   *logger.Logger
	Payments paymentReconciler
	Metrics  *metrics.OrderMetrics
	Config   config.ReconciliationConfig
	Now      func() time.Time
}

// NewPaymentReconcileJob builds the poller that resolves prepaid payments the
// gateways never reported, and expires the ones whose window closed.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		payments: params.Payments,
		metrics:  params.Metrics,
		cfg:      cfg,
		now:      now,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	payments paymentReconciler
	metrics  *metrics.OrderMetrics
	cfg      config.ReconciliationConfig
	now      func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.payments.ListReconcilable(ctx, now.Add(-j.cfg.GracePeriod), j.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list reconcilable payments: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(j.cfg.Concurrency)
	for _, p := range rows {
		p := p
		g.Go(func() error {
			if err := j.resolve(ctx, p, now); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned": len(rows),
		"failed":  len(multierr.Errors(errs)),
	}), "payment reconciliation pass complete")
	return errs
}

func (j *paymentReconcileJob) resolve(ctx context.Context, p models.Payment, now time.Time) error {
	ctx = j.logg.WithOrderID(j.logg.WithPaymentID(ctx, p.ID.String()), p.OrderID.String())

	if p.Expired(now) {
		if _, err := j.payments.Expire(ctx, p.ID); err != nil {
			j.metrics.IncReconciled("error")
			return err
		}
		j.metrics.IncReconciled("expired")
		return nil
	}

	var res *payments.ReconcileResult
	err := retry.Do(ctx, j.backoff(p, now), func(ctx context.Context) error {
		out, err := j.payments.Reconcile(ctx, p.ID, payments.ReconcileOptions{AllowExpire: true})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = out
		return nil
	})
	switch {
	case err == nil:
		j.metrics.IncReconciled(strings.ToLower(string(res.Status)))
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable):
		// The TTL still decides; a later cycle picks the payment up again.
		j.metrics.IncReconciled("unavailable")
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "gateway unavailable; payment left pending")
		return nil
	default:
		j.metrics.IncReconciled("error")
		return err
	}
}

// backoff retries GATEWAY_UNAVAILABLE exponentially, never past the payment
// expiry.
func (j *paymentReconcileJob) backoff(p models.Payment, now time.Time) retry.Backoff {
	b := retry.NewExponential(j.cfg.BaseBackoff)
	b = retry.WithMaxRetries(j.cfg.MaxAttempts-1, b)
	if p.ExpiresAt != nil {
		if remaining := p.ExpiresAt.Sub(now); remaining > 0 {
			b = retry.WithMaxDuration(remaining, b)
		}
	}
	return b
}
