package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem snapshots what was bought and at which price.
type OrderItem struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ProductID           uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID           *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	SKUID               uuid.UUID  `gorm:"column:sku_id;type:uuid;not null"`
	Name                string     `gorm:"column:name;not null"`
	Quantity            int        `gorm:"column:quantity;not null"`
	UnitPrice           int64      `gorm:"column:unit_price;not null"`
	SalePriceAtPurchase int64      `gorm:"column:sale_price_at_purchase;not null"`
	LineTotal           int64      `gorm:"column:line_total;not null"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
