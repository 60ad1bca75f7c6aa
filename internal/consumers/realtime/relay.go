package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const relayConsumerName = "realtime-relay"

type statusPublisher interface {
	Publish(ctx context.Context, event payloads.OrderStatusChangedEvent) error
}

// Relay is the at-least-once path into the notification dispatcher. The
// state machine already dispatches after commit; the dispatcher's dedup turns
// this second delivery into a no-op unless the first one was lost.
type Relay struct {
	dispatcher statusPublisher
	logg       *logger.Logger
}

func NewRelay(dispatcher statusPublisher, logg *logger.Logger) (*Relay, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Relay{dispatcher: dispatcher, logg: logg}, nil
}

func (r *Relay) Name() string { return relayConsumerName }

func (r *Relay) Handle(ctx context.Context, event consumers.Event) error {
	if event.EventType != enums.EventOrderStatusChanged {
		return nil
	}
	var payload payloads.OrderStatusChangedEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		r.logg.Error(ctx, "failed to decode status change", err)
		return nil
	}
	return r.dispatcher.Publish(ctx, payload)
}
