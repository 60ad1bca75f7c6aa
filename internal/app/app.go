// Package app wires the order and payment services shared by the API and the
// cron worker.
package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/carrier"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/internal/notifications"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/redis"
)

type dbClient interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// redisStore is the subset of the Redis client the order stack touches.
type redisStore interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	ThrottleKey(scope, id string) string
	OrderChannel(orderID string) string
	Publish(ctx context.Context, channel string, payload any) error
}

type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      dbClient
	Redis   redisStore
	Metrics *metrics.OrderMetrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Stack holds the composed services.
type Stack struct {
	Orders     orders.Service
	Payments   payments.Service
	Machine    *orders.Machine
	Dispatcher *notifications.Dispatcher
	Registry   *payments.Registry
}

func Build(p Params) (*Stack, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if p.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	cfg := p.Config
	conn := p.DB.DB()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Store:       p.Redis,
		DedupWindow: cfg.Realtime.DispatchDedup,
		Metrics:     p.Metrics,
		Logger:      p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	inv := inventory.NewService(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), p.Logger)
	orderRepo := orders.NewRepository(conn)

	machine, err := orders.NewMachine(orders.MachineParams{
		Repo:       orderRepo,
		Tx:         p.DB,
		Inventory:  inv,
		Outbox:     outboxSvc,
		Ledger:     ledgerSvc,
		Dispatcher: dispatcher,
		Metrics:    p.Metrics,
		Logger:     p.Logger,
		Now:        p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("state machine: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orderRepo,
		Tx:        p.DB,
		Machine:   machine,
		Inventory: inv,
		Outbox:    outboxSvc,
		Quoter:    carrier.NewTableQuoter(cfg.Carrier),
		Payments:  registry,
		TTLs:      cfg.Payments,
		Logger:    p.Logger,
		Now:       p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	guard, err := payments.NewCallbackGuard(p.Redis, cfg.Payments.CallbackGuardTTL, cfg.Payments.CallbackGuardLease, "payment-callback")
	if err != nil {
		return nil, fmt.Errorf("callback guard: %w", err)
	}
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Registry:   registry,
		Repo:       payments.NewRepository(conn),
		Settler:    machine,
		Guard:      guard,
		Throttle:   p.Redis,
		PollWindow: cfg.Payments.StatusPollWindow,
		Metrics:    p.Metrics,
		Logger:     p.Logger,
		Now:        p.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Stack{
		Orders:     orderSvc,
		Payments:   paymentSvc,
		Machine:    machine,
		Dispatcher: dispatcher,
		Registry:   registry,
	}, nil
}

// buildRegistry registers COD plus every enabled gateway.
func buildRegistry(cfg *config.Config) (*payments.Registry, error) {
	adapters := []payments.Adapter{payments.NewCODAdapter()}
	if cfg.Wallet.Enabled {
		wallet, err := payments.NewWalletAdapter(cfg.Wallet, cfg.Payments)
		if err != nil {
			return nil, fmt.Errorf("wallet adapter: %w", err)
		}
		adapters = append(adapters, wallet)
	}
	if cfg.BankQR.Enabled {
		bankQR, err := payments.NewBankQRAdapter(cfg.BankQR, cfg.Payments)
		if err != nil {
			return nil, fmt.Errorf("bank qr adapter: %w", err)
		}
		adapters = append(adapters, bankQR)
	}
	if cfg.BankWebhook.Enabled {
		bankWebhook, err := payments.NewBankWebhookAdapter(cfg.BankWebhook, cfg.Payments)
		if err != nil {
			return nil, fmt.Errorf("bank webhook adapter: %w", err)
		}
		adapters = append(adapters, bankWebhook)
	}
	return payments.NewRegistry(adapters...)
}
