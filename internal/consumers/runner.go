package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/kafka"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
)

// Event is a broker-neutral outbox event as seen by a worker consumer.
type Event struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	OccurredAt    time.Time
	// Version is the envelope version the payload was written with.
	Version int
	Payload json.RawMessage
}

// Handler processes one event. Returning an error redelivers it.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.State, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type kafkaConsumer interface {
	Run(ctx context.Context, h kafka.Handler) error
}

var errRedeliver = errors.New("event handling failed")

// Runner feeds one handler from a broker subscription. Each event is claimed
// in Redis before the handler runs, so a redelivery of a handled event is
// acknowledged without side effects and one being handled elsewhere waits.
type Runner struct {
	handler Handler
	manager idempotencyChecker
	logg    *logger.Logger
}

func NewRunner(handler Handler, manager idempotencyChecker, logg *logger.Logger) (*Runner, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Runner{handler: handler, manager: manager, logg: logg}, nil
}

func (r *Runner) Name() string { return r.handler.Name() }

// RunPubSub consumes until ctx is canceled.
func (r *Runner) RunPubSub(ctx context.Context, subscription *gcppubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("%s: subscription is required", r.Name())
	}
	return subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		logCtx := r.logg.WithField(innerCtx, "message_id", msg.ID)
		if r.process(logCtx, msg.Data, msg.Attributes).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// RunKafka consumes until ctx is canceled. The kafka consumer retries a
// failed record a few times before committing past it.
func (r *Runner) RunKafka(ctx context.Context, consumer kafkaConsumer) error {
	if consumer == nil {
		return fmt.Errorf("%s: kafka consumer is required", r.Name())
	}
	return consumer.Run(ctx, func(innerCtx context.Context, msg kafka.Message) error {
		logCtx := r.logg.WithFields(innerCtx, map[string]any{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})
		if r.process(logCtx, msg.Value, msg.Headers).nack {
			return errRedeliver
		}
		return nil
	})
}

type processResult struct {
	nack bool
}

func (r *Runner) process(ctx context.Context, data []byte, attrs map[string]string) processResult {
	ctx = r.logg.WithField(ctx, "consumer", r.Name())

	event, err := decodeEvent(data, attrs)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "invalid outbox message")
		return processResult{}
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id":     event.EventID.String(),
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID.String(),
	})

	state, err := r.manager.Claim(ctx, r.Name(), event.EventID)
	if err != nil {
		r.logg.Error(ctx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	switch state {
	case idempotency.Done:
		r.logg.Debug(ctx, "event already processed")
		return processResult{}
	case idempotency.InFlight:
		r.logg.Debug(ctx, "event claimed by another worker")
		return processResult{nack: true}
	}

	if err := r.handler.Handle(ctx, event); err != nil {
		r.logg.Error(ctx, "handler error", err)
		if relErr := r.manager.Release(context.WithoutCancel(ctx), r.Name(), event.EventID); relErr != nil {
			r.logg.Error(ctx, "failed to release idempotency claim", relErr)
		}
		return processResult{nack: true}
	}
	if err := r.manager.Complete(context.WithoutCancel(ctx), r.Name(), event.EventID); err != nil {
		// the claim lapses after its lease; a later redelivery may repeat the handler
		r.logg.Error(ctx, "failed to mark event done", err)
	}
	return processResult{}
}

// decodeEvent reads the stored envelope plus the attributes or headers the
// outbox publisher attaches to every message.
func decodeEvent(data []byte, attrs map[string]string) (Event, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &stored); err != nil {
		return Event{}, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(attribute(attrs, "event_type"))
	if err != nil {
		return Event{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(attrs, "aggregate_type"))
	if err != nil {
		return Event{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID, err := uuid.Parse(attribute(attrs, "aggregate_id"))
	if err != nil {
		return Event{}, fmt.Errorf("aggregate_id: %w", err)
	}

	rawID := strings.TrimSpace(stored.EventID)
	if rawID == "" {
		rawID = attribute(attrs, "event_id")
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return Event{}, fmt.Errorf("event_id: %w", err)
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := attribute(attrs, "created_at"); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	return Event{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Version:       stored.Version,
		Payload:       stored.Data,
	}, nil
}

func attribute(attrs map[string]string, key string) string {
	if attrs == nil {
		return ""
	}
	return strings.TrimSpace(attrs[key])
}
