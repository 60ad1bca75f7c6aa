package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// InventoryReservation is the stock hold for one order item.
type InventoryReservation struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	OrderItemID      uuid.UUID              `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex"`
	SKUID            uuid.UUID              `gorm:"column:sku_id;type:uuid;not null"`
	ReservedQuantity int                    `gorm:"column:reserved_quantity;not null"`
	State            enums.ReservationState `gorm:"column:state;type:reservation_state;not null"`
	CommittedAt      *time.Time             `gorm:"column:committed_at"`
	ReleasedAt       *time.Time             `gorm:"column:released_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *InventoryReservation) BeforeCreate(tx *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
