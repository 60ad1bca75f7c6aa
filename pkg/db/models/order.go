package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Order is the aggregate root of the lifecycle engine. Money columns and the
// address snapshot are written once at checkout.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string              `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	ContactEmail    *string             `gorm:"column:contact_email"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status;not null"`
	PaymentMethod   enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Subtotal        int64               `gorm:"column:subtotal;not null"`
	ShippingFee     int64               `gorm:"column:shipping_fee;not null"`
	DiscountAmount  int64               `gorm:"column:discount_amount;not null;default:0"`
	TotalAmount     int64               `gorm:"column:total_amount;not null"`
	AddressSnapshot types.Address       `gorm:"column:address_snapshot;type:jsonb;not null"`
	AdminNote       *string             `gorm:"column:admin_note"`
	CustomerNote    *string             `gorm:"column:customer_note"`
	Version         int                 `gorm:"column:version;not null;default:1"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Items        []OrderItem            `gorm:"foreignKey:OrderID"`
	Payments     []Payment              `gorm:"foreignKey:OrderID"`
	Reservations []InventoryReservation `gorm:"foreignKey:OrderID"`
	StatusEvents []StatusEvent          `gorm:"foreignKey:OrderID"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// LatestPayment returns the most recently created payment, if any.
func (o *Order) LatestPayment() *Payment {
	var latest *Payment
	for i := range o.Payments {
		p := &o.Payments[i]
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest
}
