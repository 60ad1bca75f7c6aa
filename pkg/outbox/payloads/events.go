package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once per placed order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	CustomerID    uuid.UUID           `json:"customerId"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	Total         int64               `json:"total"`
	ContactEmail  string              `json:"contactEmail,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// OrderStatusChangedEvent describes one applied status transition. Sequence is
// the per-order monotonic counter that clients use to discard stale updates.
type OrderStatusChangedEvent struct {
	OrderID      uuid.UUID             `json:"orderId"`
	OrderNumber  string                `json:"orderNumber"`
	CustomerID   uuid.UUID             `json:"customerId"`
	FromStatus   enums.OrderStatus     `json:"fromStatus"`
	ToStatus     enums.OrderStatus     `json:"toStatus"`
	Cause        enums.TransitionCause `json:"cause"`
	ActorID      *uuid.UUID            `json:"actorId,omitempty"`
	Sequence     int64                 `json:"sequence"`
	OccurredAt   time.Time             `json:"occurredAt"`
	ContactEmail string                `json:"contactEmail,omitempty"`
	Note         string                `json:"note,omitempty"`
}

// PaymentSettledEvent is emitted when a payment reaches a final status.
type PaymentSettledEvent struct {
	PaymentID         uuid.UUID           `json:"paymentId"`
	OrderID           uuid.UUID           `json:"orderId"`
	OrderNumber       string              `json:"orderNumber"`
	Method            enums.PaymentMethod `json:"method"`
	Status            enums.PaymentStatus `json:"status"`
	Amount            int64               `json:"amount"`
	ProviderReference string              `json:"providerReference,omitempty"`
	SettledAt         time.Time           `json:"settledAt"`
}

// PaymentFlaggedEvent marks a callback that needs manual review.
type PaymentFlaggedEvent struct {
	PaymentID         uuid.UUID            `json:"paymentId"`
	OrderID           uuid.UUID            `json:"orderId"`
	OrderNumber       string               `json:"orderNumber"`
	Gateway           enums.PaymentMethod  `json:"gateway"`
	Result            enums.CallbackResult `json:"result"`
	ProviderReference string               `json:"providerReference,omitempty"`
	ReportedAmount    int64                `json:"reportedAmount"`
	ExpectedAmount    int64                `json:"expectedAmount"`
	Detail            string               `json:"detail,omitempty"`
	FlaggedAt         time.Time            `json:"flaggedAt"`
}
