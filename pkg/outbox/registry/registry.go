// Package registry knows every event the outbox carries: which aggregate
// owns it, which topic it goes to and how to decode each payload version.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// CurrentVersion is the envelope version producers write today.
const CurrentVersion = 1

// PermanentError marks an event that can never be published or consumed as
// stored. Retrying it only delays the dead letter.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent outbox error"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	return PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p)
}

// Descriptor is what the publisher needs to route one event type.
type Descriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor Descriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type schema struct {
	aggregate enums.OutboxAggregateType
	decoders  map[int]func(json.RawMessage) (any, error)
	// owner returns the id the row's aggregate_id must equal.
	owner func(any) uuid.UUID
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	topic   string
	schemas map[enums.OutboxEventType]schema
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func owner[T any](id func(*T) uuid.UUID) func(any) uuid.UUID {
	return func(v any) uuid.UUID {
		if typed, ok := v.(*T); ok {
			return id(typed)
		}
		return uuid.Nil
	}
}

// Payloads returns the decoding side only, for consumers that never publish.
func Payloads() *Registry {
	return build("")
}

// New returns a registry routing every order and payment event to topic.
// One topic keeps an aggregate's events in publish order for consumers.
func New(topic string) (*Registry, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("orders topic is required")
	}
	return build(strings.TrimSpace(topic)), nil
}

func build(topic string) *Registry {
	return &Registry{topic: topic, schemas: map[enums.OutboxEventType]schema{
		enums.EventOrderCreated: {
			aggregate: enums.AggregateOrder,
			decoders:  map[int]func(json.RawMessage) (any, error){1: decodeInto[payloads.OrderCreatedEvent]},
			owner:     owner(func(p *payloads.OrderCreatedEvent) uuid.UUID { return p.OrderID }),
		},
		enums.EventOrderStatusChanged: {
			aggregate: enums.AggregateOrder,
			decoders:  map[int]func(json.RawMessage) (any, error){1: decodeInto[payloads.OrderStatusChangedEvent]},
			owner:     owner(func(p *payloads.OrderStatusChangedEvent) uuid.UUID { return p.OrderID }),
		},
		enums.EventPaymentSettled: {
			aggregate: enums.AggregatePayment,
			decoders:  map[int]func(json.RawMessage) (any, error){1: decodeInto[payloads.PaymentSettledEvent]},
			owner:     owner(func(p *payloads.PaymentSettledEvent) uuid.UUID { return p.PaymentID }),
		},
		enums.EventPaymentFlagged: {
			aggregate: enums.AggregatePayment,
			decoders:  map[int]func(json.RawMessage) (any, error){1: decodeInto[payloads.PaymentFlaggedEvent]},
			owner:     owner(func(p *payloads.PaymentFlaggedEvent) uuid.UUID { return p.PaymentID }),
		},
	}}
}

// Decode returns a pointer to the typed payload. A zero version is read as
// version 1, which predates the field.
func (r *Registry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	s, ok := r.schemas[eventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unknown event type %q", eventType))
	}
	if version == 0 {
		version = 1
	}
	decode, ok := s.decoders[version]
	if !ok {
		return nil, Permanent(fmt.Errorf("%s has no decoder for version %d", eventType, version))
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s payload is empty", eventType))
	}
	payload, err := decode(data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode %s v%d: %w", eventType, version, err))
	}
	return payload, nil
}

// Resolve checks a pending outbox row before it is published. Every failure
// is permanent.
func (r *Registry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	s, ok := r.schemas[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unknown event type %q", event.EventType))
	case s.aggregate != event.AggregateType:
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row says %s", event.EventType, s.aggregate, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(fmt.Errorf("%s row has no aggregate id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := r.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}
	if id := s.owner(payload); id != event.AggregateID {
		return nil, Permanent(fmt.Errorf("%s payload names aggregate %s, row says %s", event.EventType, id, event.AggregateID))
	}
	return &ResolvedEvent{
		Descriptor: Descriptor{EventType: event.EventType, AggregateType: s.aggregate, Topic: r.topic},
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}
