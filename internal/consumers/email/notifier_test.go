package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/mailer"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type recordingSender struct {
	sent []mailer.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func newNotifier(t *testing.T, sender mailer.Sender) *Notifier {
	t.Helper()
	n, err := NewNotifier(sender, logger.New(logger.Options{ServiceName: "email-test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewNotifier() error: %v", err)
	}
	return n
}

func event(t *testing.T, eventType enums.OutboxEventType, payload any) consumers.Event {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return consumers.Event{EventID: uuid.New(), EventType: eventType, Payload: body}
}

func TestNotifierMailsPlacedOrder(t *testing.T) {
	sender := &recordingSender{}
	n := newNotifier(t, sender)

	err := n.Handle(context.Background(), event(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{
		OrderID:       uuid.New(),
		OrderNumber:   "261018000001",
		PaymentMethod: enums.PaymentMethodCOD,
		Total:         115000,
		ContactEmail:  "buyer@example.com",
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "buyer@example.com" || !strings.Contains(msg.Subject, "261018000001") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.TextBody, "115000") {
		t.Fatalf("total missing from body: %q", msg.TextBody)
	}
}

func TestNotifierMailsCancellationWithNote(t *testing.T) {
	sender := &recordingSender{}
	n := newNotifier(t, sender)

	err := n.Handle(context.Background(), event(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:      uuid.New(),
		OrderNumber:  "261018000002",
		FromStatus:   enums.OrderStatusPending,
		ToStatus:     enums.OrderStatusCancelled,
		ContactEmail: "buyer@example.com",
		Note:         "payment window elapsed",
	}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].Subject, "cancelled") {
		t.Fatalf("expected cancellation email, got %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[0].TextBody, "payment window elapsed") {
		t.Fatalf("note missing from body")
	}
}

func TestNotifierSkipsCreationEventAndMissingContact(t *testing.T) {
	sender := &recordingSender{}
	n := newNotifier(t, sender)

	creation := event(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:      uuid.New(),
		ToStatus:     enums.OrderStatusPending,
		ContactEmail: "buyer@example.com",
	})
	noContact := event(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:    uuid.New(),
		FromStatus: enums.OrderStatusPending,
		ToStatus:   enums.OrderStatusConfirmed,
	})
	for _, ev := range []consumers.Event{creation, noContact} {
		if err := n.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle() error: %v", err)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(sender.sent))
	}
}

func TestNotifierReturnsSendFailure(t *testing.T) {
	n := newNotifier(t, &recordingSender{err: errors.New("smtp timeout")})
	err := n.Handle(context.Background(), event(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{
		OrderID:      uuid.New(),
		ContactEmail: "buyer@example.com",
	}))
	if err == nil {
		t.Fatalf("expected send failure to be returned")
	}
}
