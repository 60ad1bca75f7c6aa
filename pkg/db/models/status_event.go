package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// StatusEvent is one append-only row of an order's timeline.
type StatusEvent struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Sequence   int                   `gorm:"column:sequence;not null"`
	FromStatus *enums.OrderStatus    `gorm:"column:from_status;type:order_status"`
	ToStatus   enums.OrderStatus     `gorm:"column:to_status;type:order_status;not null"`
	Cause      enums.TransitionCause `gorm:"column:cause;type:transition_cause;not null"`
	ActorID    *uuid.UUID            `gorm:"column:actor_id;type:uuid"`
	Note       *string               `gorm:"column:note"`
	OccurredAt time.Time             `gorm:"column:occurred_at;not null"`
}

func (e *StatusEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
