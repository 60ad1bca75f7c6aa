package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and the rows they own.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindDetail(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, opts listQuery) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, version int, status enums.OrderStatus, adminNote *string) (bool, error)
	NextSequence(ctx context.Context, orderID uuid.UUID) (int, error)
	AppendStatusEvent(ctx context.Context, event *models.StatusEvent) error
	ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]models.StatusEvent, error)
	FindCatalogItems(ctx context.Context, ids []uuid.UUID) ([]models.CatalogItem, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindPaymentByReference(ctx context.Context, gateway enums.PaymentMethod, reference string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, id uuid.UUID, fromStatus enums.PaymentStatus, updates map[string]any) (bool, error)
	FailPendingPayments(ctx context.Context, orderID uuid.UUID, reason string, at time.Time) error
	CreateCallback(ctx context.Context, callback *models.PaymentCallback) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID loads the order with a row lock on dialects that support one.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns orders newest first using cursor pagination.
func (r *repository) List(ctx context.Context, opts listQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if opts.customerID != nil {
		query = query.Where("customer_id = ?", *opts.customerID)
	}
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	query = query.Scopes(pagination.Scope(opts.cursor, opts.limit))

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindDetail(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC, id ASC") }).
		Preload("Payments", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("StatusEvents", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus writes the new status only if version still matches. Money
// columns and the address snapshot are never part of the update.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, version int, status enums.OrderStatus, adminNote *string) (bool, error) {
	updates := map[string]any{
		"status":     status,
		"version":    version + 1,
		"updated_at": time.Now().UTC(),
	}
	if adminNote != nil {
		updates["admin_note"] = *adminNote
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) NextSequence(ctx context.Context, orderID uuid.UUID) (int, error) {
	var current int
	err := r.db.WithContext(ctx).
		Model(&models.StatusEvent{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (r *repository) AppendStatusEvent(ctx context.Context, event *models.StatusEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]models.StatusEvent, error) {
	var events []models.StatusEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

func (r *repository) FindCatalogItems(ctx context.Context, ids []uuid.UUID) ([]models.CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.CatalogItem
	err := r.db.WithContext(ctx).
		Where("id IN ? AND active = ?", ids, true).
		Find(&items).Error
	return items, err
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByReference(ctx context.Context, gateway enums.PaymentMethod, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND provider_reference = ?", gateway, reference).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment applies updates while the payment is still in fromStatus.
func (r *repository) UpdatePayment(ctx context.Context, id uuid.UUID, fromStatus enums.PaymentStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FailPendingPayments(ctx context.Context, orderID uuid.UUID, reason string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     at,
		}).Error
}

func (r *repository) CreateCallback(ctx context.Context, callback *models.PaymentCallback) error {
	return r.db.WithContext(ctx).Create(callback).Error
}
