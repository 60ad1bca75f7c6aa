package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Repository is the read side the payment service needs. Writes go through
// the order state machine.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, gateway enums.PaymentMethod, orderNumber string) (*models.Payment, error)
	FindByMemo(ctx context.Context, memo string) (*models.Payment, error)
	ListReconcilable(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, notFound(err, "payment not found")
	}
	return &payment, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err, "order not found")
	}
	return &order, nil
}

// FindByOrderNumber returns the newest payment of the order on a gateway.
func (r *repository) FindByOrderNumber(ctx context.Context, gateway enums.PaymentMethod, orderNumber string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("orders.order_number = ? AND payments.gateway = ?", orderNumber, gateway).
		Order("payments.created_at DESC").
		First(&payment).Error
	if err != nil {
		return nil, notFound(err, "payment not found for order number")
	}
	return &payment, nil
}

func (r *repository) FindByMemo(ctx context.Context, memo string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("memo = ? AND gateway = ?", memo, enums.PaymentMethodBankQR).
		First(&payment).Error
	if err != nil {
		return nil, notFound(err, "payment not found for memo")
	}
	return &payment, nil
}

// ListReconcilable returns prepaid payments still PENDING on a PENDING order,
// created before cutoff, oldest first.
func (r *repository) ListReconcilable(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.status = ?", enums.PaymentStatusPending).
		Where("payments.gateway <> ?", enums.PaymentMethodCOD).
		Where("orders.status = ?", enums.OrderStatusPending).
		Where("payments.created_at < ?", cutoff).
		Order("payments.created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconcilable payments")
	}
	return rows, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
