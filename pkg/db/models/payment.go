package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment tracks settlement of an order through one gateway.
type Payment struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	Gateway            enums.PaymentMethod `gorm:"column:gateway;type:payment_method;not null"`
	ProviderReference  *string             `gorm:"column:provider_reference"`
	Status             enums.PaymentStatus `gorm:"column:status;type:payment_status;not null"`
	Amount             int64               `gorm:"column:amount;not null"`
	Memo               *string             `gorm:"column:memo"`
	ExpiresAt          *time.Time          `gorm:"column:expires_at"`
	PaidAt             *time.Time          `gorm:"column:paid_at"`
	RawCallbackPayload json.RawMessage     `gorm:"column:raw_callback_payload;type:jsonb"`
	FailureReason      *string             `gorm:"column:failure_reason"`
	LastCheckedAt      *time.Time          `gorm:"column:last_checked_at"`
	CheckAttempts      int                 `gorm:"column:check_attempts;not null;default:0"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Expired reports whether the payment TTL has passed at now.
func (p *Payment) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}
