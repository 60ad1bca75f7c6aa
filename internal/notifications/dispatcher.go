package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const (
	// EventStatusUpdated is the realtime event name clients subscribe to.
	EventStatusUpdated = "order:status:updated"
	// EventSnapshot is sent once when a client joins a room.
	EventSnapshot = "order:snapshot"

	dispatchScope      = "order-dispatch"
	defaultDedupWindow = 24 * time.Hour
)

type publishStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	OrderChannel(orderID string) string
	Publish(ctx context.Context, channel string, payload any) error
}

// StatusUpdate is the body of an order:status:updated message.
type StatusUpdate struct {
	OrderID    uuid.UUID         `json:"orderId"`
	Status     enums.OrderStatus `json:"status"`
	FromStatus enums.OrderStatus `json:"fromStatus,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Sequence   int64             `json:"sequence"`
}

// Message is the frame written to websocket clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newStatusUpdate(event payloads.OrderStatusChangedEvent) StatusUpdate {
	return StatusUpdate{
		OrderID:    event.OrderID,
		Status:     event.ToStatus,
		FromStatus: event.FromStatus,
		OccurredAt: event.OccurredAt.UTC(),
		Sequence:   event.Sequence,
	}
}

// Dispatcher fans applied transitions out to the per-order Redis channel that
// every API instance's Hub listens on.
type Dispatcher struct {
	store   publishStore
	dedup   time.Duration
	metrics *metrics.OrderMetrics
	logg    *logger.Logger
}

type DispatcherParams struct {
	Store       publishStore
	DedupWindow time.Duration
	Metrics     *metrics.OrderMetrics
	Logger      *logger.Logger
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("redis store required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	window := p.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Dispatcher{
		store:   p.Store,
		dedup:   window,
		metrics: p.Metrics,
		logg:    p.Logger,
	}, nil
}

// Dispatch is the best-effort hook the state machine calls after commit.
// Failures are logged by Publish and never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, event payloads.OrderStatusChangedEvent) {
	_ = d.Publish(ctx, event)
}

// Publish delivers one transition at most once per orderId+toStatus+sequence.
// A failed publish drops the dedup key so a redelivery can retry.
func (d *Dispatcher) Publish(ctx context.Context, event payloads.OrderStatusChangedEvent) error {
	if event.OrderID == uuid.Nil {
		return fmt.Errorf("order id missing")
	}
	ctx = d.logg.WithFields(d.logg.WithOrderID(ctx, event.OrderID.String()), map[string]any{
		"to_status": event.ToStatus,
		"sequence":  event.Sequence,
	})

	key := d.store.IdempotencyKey(dispatchScope, dedupID(event))
	fresh, err := d.store.SetNX(ctx, key, "1", d.dedup)
	if err != nil {
		// Clients discard stale sequences, so publishing without the dedup
		// key only risks a harmless repeat.
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "dispatch dedup unavailable")
		key = ""
	} else if !fresh {
		d.metrics.IncDispatch("duplicate")
		d.logg.Debug(ctx, "status change already dispatched")
		return nil
	}

	body, err := json.Marshal(newStatusUpdate(event))
	if err != nil {
		d.release(ctx, key)
		d.metrics.IncDispatch("failed")
		return fmt.Errorf("encode status update: %w", err)
	}
	if err := d.store.Publish(ctx, d.store.OrderChannel(event.OrderID.String()), body); err != nil {
		d.logg.Error(ctx, "status change dispatch failed", err)
		d.release(ctx, key)
		d.metrics.IncDispatch("failed")
		return fmt.Errorf("publish status update: %w", err)
	}
	d.metrics.IncDispatch("published")
	return nil
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := d.store.Del(context.WithoutCancel(ctx), key); err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "failed to drop dispatch dedup key")
	}
}

func dedupID(event payloads.OrderStatusChangedEvent) string {
	return fmt.Sprintf("%s:%s:%d", event.OrderID, event.ToStatus, event.Sequence)
}
