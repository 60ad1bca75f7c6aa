package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID   uuid.UUID
	Role enums.ActorRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

// PlaceOrderItem is one requested line of a checkout.
type PlaceOrderItem struct {
	SKUID    uuid.UUID `json:"skuId" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1"`
}

// PlaceOrderInput carries a validated checkout request.
type PlaceOrderInput struct {
	CustomerID    uuid.UUID
	ContactEmail  *string
	PaymentMethod enums.PaymentMethod
	Address       types.Address
	Items         []PlaceOrderItem
	CustomerNote  *string
}

// PlaceOrderResult is returned once the order is committed. PaymentHint is
// nil when the adapter could not build one; the client can fall back to the
// payment status endpoint.
type PlaceOrderResult struct {
	OrderID     uuid.UUID          `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	Status      enums.OrderStatus  `json:"status"`
	TotalAmount int64              `json:"totalAmount"`
	PaymentID   uuid.UUID          `json:"paymentId"`
	PaymentHint *types.PaymentHint `json:"paymentHint,omitempty"`
}

// AdminStatusInput is a manual override request.
type AdminStatusInput struct {
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Note    *string
}

type OrderItemView struct {
	ID                  uuid.UUID  `json:"id"`
	ProductID           uuid.UUID  `json:"productId"`
	VariantID           *uuid.UUID `json:"variantId,omitempty"`
	SKUID               uuid.UUID  `json:"skuId"`
	Name                string     `json:"name"`
	Quantity            int        `json:"quantity"`
	UnitPrice           int64      `json:"unitPrice"`
	SalePriceAtPurchase int64      `json:"salePriceAtPurchase"`
	LineTotal           int64      `json:"lineTotal"`
}

type PaymentSummary struct {
	ID                uuid.UUID           `json:"id"`
	Gateway           enums.PaymentMethod `json:"gateway"`
	Status            enums.PaymentStatus `json:"status"`
	Amount            int64               `json:"amount"`
	ProviderReference *string             `json:"providerReference,omitempty"`
	Memo              *string             `json:"memo,omitempty"`
	ExpiresAt         *time.Time          `json:"expiresAt,omitempty"`
	PaidAt            *time.Time          `json:"paidAt,omitempty"`
	FailureReason     *string             `json:"failureReason,omitempty"`
}

type TimelineEntry struct {
	Sequence   int                   `json:"sequence"`
	FromStatus *enums.OrderStatus    `json:"fromStatus"`
	ToStatus   enums.OrderStatus     `json:"toStatus"`
	Cause      enums.TransitionCause `json:"cause"`
	ActorID    *uuid.UUID            `json:"actorId,omitempty"`
	Note       *string               `json:"note,omitempty"`
	OccurredAt time.Time             `json:"occurredAt"`
}

// OrderDetail is the read model behind GET /orders/{id}.
type OrderDetail struct {
	ID             uuid.UUID           `json:"id"`
	OrderNumber    string              `json:"orderNumber"`
	CustomerID     uuid.UUID           `json:"customerId"`
	Status         enums.OrderStatus   `json:"status"`
	PaymentMethod  enums.PaymentMethod `json:"paymentMethod"`
	Subtotal       int64               `json:"subtotal"`
	ShippingFee    int64               `json:"shippingFee"`
	DiscountAmount int64               `json:"discountAmount"`
	TotalAmount    int64               `json:"totalAmount"`
	Address        types.Address       `json:"address"`
	CustomerNote   *string             `json:"customerNote,omitempty"`
	AdminNote      *string             `json:"adminNote,omitempty"`
	Version        int                 `json:"version"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Items          []OrderItemView     `json:"items"`
	Payment        *PaymentSummary     `json:"payment,omitempty"`
	Timeline       []TimelineEntry     `json:"timeline"`
}

func newOrderDetail(order *models.Order, actor Actor) *OrderDetail {
	detail := &OrderDetail{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Status:         order.Status,
		PaymentMethod:  order.PaymentMethod,
		Subtotal:       order.Subtotal,
		ShippingFee:    order.ShippingFee,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		Address:        order.AddressSnapshot,
		CustomerNote:   order.CustomerNote,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		Items:          make([]OrderItemView, 0, len(order.Items)),
		Timeline:       make([]TimelineEntry, 0, len(order.StatusEvents)),
	}
	if actor.IsAdmin() {
		detail.AdminNote = order.AdminNote
	}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, OrderItemView{
			ID:                  item.ID,
			ProductID:           item.ProductID,
			VariantID:           item.VariantID,
			SKUID:               item.SKUID,
			Name:                item.Name,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			SalePriceAtPurchase: item.SalePriceAtPurchase,
			LineTotal:           item.LineTotal,
		})
	}
	if p := order.LatestPayment(); p != nil {
		detail.Payment = &PaymentSummary{
			ID:                p.ID,
			Gateway:           p.Gateway,
			Status:            p.Status,
			Amount:            p.Amount,
			ProviderReference: p.ProviderReference,
			Memo:              p.Memo,
			ExpiresAt:         p.ExpiresAt,
			PaidAt:            p.PaidAt,
			FailureReason:     p.FailureReason,
		}
	}
	for _, ev := range order.StatusEvents {
		detail.Timeline = append(detail.Timeline, TimelineEntry{
			Sequence:   ev.Sequence,
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Cause:      ev.Cause,
			ActorID:    ev.ActorID,
			Note:       ev.Note,
			OccurredAt: ev.OccurredAt,
		})
	}
	return detail
}

// ListParams filters the order list. Customers only ever see their own
// orders; CustomerID is ignored for them.
type ListParams struct {
	CustomerID *uuid.UUID
	Status     *enums.OrderStatus
	pagination.Params
}

type ListResult struct {
	Items  []ListItem `json:"items"`
	Cursor string     `json:"cursor"`
}

type ListItem struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	CustomerID    uuid.UUID           `json:"customerId"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	TotalAmount   int64               `json:"totalAmount"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type listQuery struct {
	customerID *uuid.UUID
	status     *enums.OrderStatus
	limit      int
	cursor     *pagination.Cursor
}

func toListItem(m models.Order) ListItem {
	return ListItem{
		ID:            m.ID,
		OrderNumber:   m.OrderNumber,
		CustomerID:    m.CustomerID,
		Status:        m.Status,
		PaymentMethod: m.PaymentMethod,
		TotalAmount:   m.TotalAmount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
