package models

import (
	"time"

	"github.com/google/uuid"
)

// CatalogItem is the read-only price and parcel data of one sellable SKU.
// The catalog service owns the rows; checkout only reads them.
type CatalogItem struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID   uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID   *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Name        string     `gorm:"column:name;not null"`
	UnitPrice   int64      `gorm:"column:unit_price;not null"`
	SalePrice   *int64     `gorm:"column:sale_price"`
	WeightGrams int        `gorm:"column:weight_grams;not null;default:0"`
	LengthCm    int        `gorm:"column:length_cm;not null;default:0"`
	WidthCm     int        `gorm:"column:width_cm;not null;default:0"`
	HeightCm    int        `gorm:"column:height_cm;not null;default:0"`
	Active      bool       `gorm:"column:active;not null;default:true"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectivePrice is the price charged at checkout.
func (c CatalogItem) EffectivePrice() int64 {
	if c.SalePrice != nil && *c.SalePrice >= 0 && *c.SalePrice < c.UnitPrice {
		return *c.SalePrice
	}
	return c.UnitPrice
}
