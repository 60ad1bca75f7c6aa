package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/registry"
)

const (
	timelineConsumerName = "order-timeline"
	insertAttempts       = 3
	insertBackoff        = 250 * time.Millisecond
)

var payloadRegistry = registry.Payloads()

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []bigquery.Row) error
}

// Consumer appends every order and payment event to the BigQuery order
// timeline table.
type Consumer struct {
	client  tableInserter
	table   string
	logg    *logger.Logger
	backoff func() retry.Backoff
}

// NewConsumer builds the timeline writer.
func NewConsumer(client tableInserter, table string, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client: client,
		table:  strings.TrimSpace(table),
		logg:   logg,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(insertAttempts-1, retry.NewExponential(insertBackoff))
		},
	}, nil
}

func (c *Consumer) Name() string { return timelineConsumerName }

// Handle writes one row. Undecodable payloads are logged and skipped since a
// redelivery cannot fix them.
func (c *Consumer) Handle(ctx context.Context, event consumers.Event) error {
	row, err := buildRow(event)
	if err != nil {
		c.logg.Error(ctx, "failed to build timeline row", err)
		return nil
	}
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		if err := c.client.InsertRows(ctx, c.table, []bigquery.Row{{InsertID: row.EventID, Value: row}}); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert timeline row: %w", err)
	}
	c.logg.Debug(ctx, "order timeline row written")
	return nil
}

type timelineRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       string             `bigquery:"order_id"`
	OrderNumber   *string            `bigquery:"order_number"`
	PaymentID     *string            `bigquery:"payment_id"`
	FromStatus    *string            `bigquery:"from_status"`
	ToStatus      *string            `bigquery:"to_status"`
	Cause         *string            `bigquery:"cause"`
	PaymentMethod *string            `bigquery:"payment_method"`
	Amount        *int64             `bigquery:"amount"`
	Sequence      *int64             `bigquery:"sequence"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

func buildRow(event consumers.Event) (*timelineRow, error) {
	decoded, err := payloadRegistry.Decode(event.EventType, event.Version, event.Payload)
	if err != nil {
		return nil, err
	}
	row := &timelineRow{
		EventID:    event.EventID.String(),
		EventType:  string(event.EventType),
		OccurredAt: event.OccurredAt,
		Payload:    cbigquery.NullJSON{JSONVal: string(event.Payload), Valid: true},
	}

	switch p := decoded.(type) {
	case *payloads.OrderCreatedEvent:
		row.OrderID = p.OrderID.String()
		row.OrderNumber = stringPtr(p.OrderNumber)
		row.ToStatus = stringPtr(string(enums.OrderStatusPending))
		row.PaymentMethod = stringPtr(string(p.PaymentMethod))
		row.Amount = &p.Total
	case *payloads.OrderStatusChangedEvent:
		row.OrderID = p.OrderID.String()
		row.OrderNumber = stringPtr(p.OrderNumber)
		row.FromStatus = stringPtr(string(p.FromStatus))
		row.ToStatus = stringPtr(string(p.ToStatus))
		row.Cause = stringPtr(string(p.Cause))
		row.Sequence = &p.Sequence
	case *payloads.PaymentSettledEvent:
		row.OrderID = p.OrderID.String()
		row.OrderNumber = stringPtr(p.OrderNumber)
		row.PaymentID = stringPtr(p.PaymentID.String())
		row.ToStatus = stringPtr(string(p.Status))
		row.PaymentMethod = stringPtr(string(p.Method))
		row.Amount = &p.Amount
	case *payloads.PaymentFlaggedEvent:
		row.OrderID = p.OrderID.String()
		row.OrderNumber = stringPtr(p.OrderNumber)
		row.PaymentID = stringPtr(p.PaymentID.String())
		row.Cause = stringPtr(string(p.Result))
		row.PaymentMethod = stringPtr(string(p.Gateway))
		row.Amount = &p.ReportedAmount
	default:
		return nil, fmt.Errorf("no timeline mapping for %s", event.EventType)
	}
	return row, nil
}

func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
