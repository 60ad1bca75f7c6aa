package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

func TestTimelineConsumerWritesStatusChange(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	orderID := uuid.New()
	event := buildEvent(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:     orderID,
		OrderNumber: "261018123456",
		FromStatus:  enums.OrderStatusPending,
		ToStatus:    enums.OrderStatusConfirmed,
		Cause:       enums.CauseGatewayWebhook,
		Sequence:    2,
	})

	if err := consumer.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(inserter.rows) != 1 {
		t.Fatalf("expected 1 row inserted, got %d", len(inserter.rows))
	}
	row, ok := inserter.rows[0].Value.(*timelineRow)
	if !ok {
		t.Fatalf("expected timelineRow, got %T", inserter.rows[0].Value)
	}
	if inserter.rows[0].InsertID != event.EventID.String() {
		t.Fatalf("insert id should be the event id, got %q", inserter.rows[0].InsertID)
	}
	if row.OrderID != orderID.String() {
		t.Fatalf("order id mismatch: %s", row.OrderID)
	}
	if row.FromStatus == nil || *row.FromStatus != "PENDING" || row.ToStatus == nil || *row.ToStatus != "CONFIRMED" {
		t.Fatalf("unexpected statuses: %v -> %v", row.FromStatus, row.ToStatus)
	}
	if row.Sequence == nil || *row.Sequence != 2 {
		t.Fatalf("sequence not carried")
	}
	if !row.Payload.Valid {
		t.Fatalf("payload should be valid json")
	}
	if inserter.table != "order_status_events" {
		t.Fatalf("unexpected table %q", inserter.table)
	}
}

func TestTimelineConsumerWritesPaymentSettled(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	paymentID := uuid.New()
	event := buildEvent(t, enums.EventPaymentSettled, payloads.PaymentSettledEvent{
		PaymentID: paymentID,
		OrderID:   uuid.New(),
		Method:    enums.PaymentMethodBankWebhook,
		Status:    enums.PaymentStatusPaid,
		Amount:    115000,
	})

	if err := consumer.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	row := inserter.rows[0].Value.(*timelineRow)
	if row.PaymentID == nil || *row.PaymentID != paymentID.String() {
		t.Fatalf("payment id mismatch")
	}
	if row.Amount == nil || *row.Amount != 115000 {
		t.Fatalf("amount mismatch")
	}
}

func TestTimelineConsumerRetriesInsert(t *testing.T) {
	inserter := &fakeInserter{failures: 2, err: errors.New("bigquery busy")}
	consumer := mustConsumer(t, inserter)

	event := buildEvent(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New(), Total: 115000})
	if err := consumer.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if inserter.calls != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", inserter.calls)
	}
}

func TestTimelineConsumerReturnsErrorWhenInsertKeepsFailing(t *testing.T) {
	inserter := &fakeInserter{failures: 10, err: errors.New("bigquery down")}
	consumer := mustConsumer(t, inserter)

	event := buildEvent(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{OrderID: uuid.New()})
	if err := consumer.Handle(context.Background(), event); err == nil {
		t.Fatalf("expected error when insert fails")
	}
	if inserter.calls != insertAttempts {
		t.Fatalf("expected %d attempts, got %d", insertAttempts, inserter.calls)
	}
}

func TestTimelineConsumerSkipsUndecodablePayload(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter)

	event := consumers.Event{
		EventID:    uuid.New(),
		EventType:  enums.EventOrderCreated,
		OccurredAt: time.Now(),
		Payload:    []byte("{invalid json"),
	}
	if err := consumer.Handle(context.Background(), event); err != nil {
		t.Fatalf("expected poison payload to be skipped, got %v", err)
	}
	if len(inserter.rows) != 0 {
		t.Fatalf("expected no rows inserted on payload failure")
	}
}

type fakeInserter struct {
	rows     []bigquery.Row
	table    string
	calls    int
	failures int
	err      error
}

func (f *fakeInserter) InsertRows(ctx context.Context, table string, rows []bigquery.Row) error {
	f.calls++
	f.table = table
	if f.calls <= f.failures {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func mustConsumer(t *testing.T, inserter *fakeInserter) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(inserter, "order_status_events", logger.New(logger.Options{
		ServiceName: "analytics-test",
		Level:       logger.ParseLevel("debug"),
		Output:      io.Discard,
	}))
	if err != nil {
		t.Fatalf("failed to build consumer: %v", err)
	}
	consumer.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(insertAttempts-1, retry.NewConstant(time.Millisecond))
	}
	return consumer
}

func buildEvent(t *testing.T, eventType enums.OutboxEventType, payload any) consumers.Event {
	t.Helper()
	bytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return consumers.Event{
		EventID:    uuid.New(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    bytes,
	}
}
