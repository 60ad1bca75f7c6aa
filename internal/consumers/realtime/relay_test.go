package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type fakePublisher struct {
	events []payloads.OrderStatusChangedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event payloads.OrderStatusChangedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newRelay(t *testing.T, pub *fakePublisher) *Relay {
	t.Helper()
	relay, err := NewRelay(pub, logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewRelay() error: %v", err)
	}
	return relay
}

func statusChanged(t *testing.T, seq int64) consumers.Event {
	t.Helper()
	body, err := json.Marshal(payloads.OrderStatusChangedEvent{
		OrderID:  uuid.New(),
		ToStatus: enums.OrderStatusCancelled,
		Sequence: seq,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return consumers.Event{EventID: uuid.New(), EventType: enums.EventOrderStatusChanged, Payload: body}
}

func TestRelayForwardsStatusChanges(t *testing.T) {
	pub := &fakePublisher{}
	relay := newRelay(t, pub)

	if err := relay.Handle(context.Background(), statusChanged(t, 3)); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Sequence != 3 {
		t.Fatalf("expected sequence 3 forwarded, got %+v", pub.events)
	}
}

func TestRelayIgnoresOtherEvents(t *testing.T) {
	pub := &fakePublisher{}
	relay := newRelay(t, pub)

	event := consumers.Event{EventID: uuid.New(), EventType: enums.EventPaymentSettled, Payload: []byte(`{}`)}
	if err := relay.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected nothing forwarded")
	}
}

func TestRelaySurfacesPublishFailure(t *testing.T) {
	relay := newRelay(t, &fakePublisher{err: errors.New("redis down")})
	if err := relay.Handle(context.Background(), statusChanged(t, 2)); err == nil {
		t.Fatalf("expected publish failure to be returned for redelivery")
	}
}
