package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Service defines operations that record ledger events.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID   uuid.UUID             `json:"order_id"`
	PaymentID uuid.UUID             `json:"payment_id"`
	ActorID   *uuid.UUID            `json:"actor_id,omitempty"`
	Type      enums.LedgerEventType `json:"type"`
	Amount    int64                 `json:"amount"`
	Metadata  json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

// RecordEvent appends one entry per (payment, type). Recording the same pair
// again returns the existing row.
func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.PaymentID == uuid.Nil {
		return nil, fmt.Errorf("payment id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.Amount < 0 {
		return nil, fmt.Errorf("ledger amount must be non-negative")
	}

	existing, err := s.repo.FindByPayment(ctx, input.PaymentID, input.Type)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	event := &models.LedgerEvent{
		OrderID:   input.OrderID,
		PaymentID: input.PaymentID,
		ActorID:   input.ActorID,
		Type:      input.Type,
		Amount:    input.Amount,
		Metadata:  input.Metadata,
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, fmt.Errorf("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}

	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}
