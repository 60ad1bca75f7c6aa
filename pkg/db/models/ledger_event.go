package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to a payment.
type LedgerEvent struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	PaymentID uuid.UUID             `gorm:"column:payment_id;type:uuid;not null"`
	ActorID   *uuid.UUID            `gorm:"column:actor_id;type:uuid"`
	Type      enums.LedgerEventType `gorm:"column:type;type:ledger_event_type;not null"`
	Amount    int64                 `gorm:"column:amount;not null"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
