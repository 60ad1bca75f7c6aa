package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// PaymentCallback keeps every verified outcome a gateway reported, including
// the ones that were rejected, for dispute handling.
type PaymentCallback struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID         *uuid.UUID            `gorm:"column:payment_id;type:uuid"`
	OrderID           *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	Gateway           enums.PaymentMethod   `gorm:"column:gateway;type:payment_method;not null"`
	Cause             enums.TransitionCause `gorm:"column:cause;type:transition_cause;not null"`
	ProviderReference *string               `gorm:"column:provider_reference"`
	ReportedStatus    enums.PaymentStatus   `gorm:"column:reported_status;type:payment_status;not null"`
	ReportedAmount    int64                 `gorm:"column:reported_amount;not null"`
	Result            enums.CallbackResult  `gorm:"column:result;not null"`
	NeedsReview       bool                  `gorm:"column:needs_review;not null;default:false"`
	Detail            *string               `gorm:"column:detail"`
	Payload           json.RawMessage       `gorm:"column:payload;type:jsonb"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (c *PaymentCallback) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
