package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// HoldLine asks for quantity units of a SKU on behalf of one order item.
type HoldLine struct {
	OrderItemID uuid.UUID
	SKUID       uuid.UUID
	Quantity    int
}

// ShortSKU reports a SKU that could not be held.
type ShortSKU struct {
	SKUID     uuid.UUID `json:"skuId"`
	Requested int       `json:"requested"`
}

// Service moves stock between available, reserved and shipped counts. Every
// mutating call takes the caller's transaction so stock and order state commit
// together.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Hold reserves every line or none. SKUs are decremented in sorted order so
// concurrent checkouts lock inventory rows in the same sequence.
func (s *Service) Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []HoldLine) ([]models.InventoryReservation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory hold")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	totals := map[uuid.UUID]int{}
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		if line.SKUID == uuid.Nil || line.OrderItemID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and order item are required")
		}
		totals[line.SKUID] += line.Quantity
	}

	skus := make([]uuid.UUID, 0, len(totals))
	for sku := range totals {
		skus = append(skus, sku)
	}
	sort.Slice(skus, func(i, j int) bool { return skus[i].String() < skus[j].String() })

	now := s.now()
	var short []ShortSKU
	for _, sku := range skus {
		qty := totals[sku]
		res := tx.WithContext(ctx).Exec(`
			UPDATE inventory_items
			SET available_qty = available_qty - ?,
				reserved_qty = reserved_qty + ?,
				updated_at = ?
			WHERE sku_id = ? AND available_qty >= ?
		`, qty, qty, now, sku, qty)
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "hold inventory")
		}
		if res.RowsAffected == 0 {
			short = append(short, ShortSKU{SKUID: sku, Requested: qty})
		}
	}
	if len(short) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeReservationConflict, "insufficient stock").
			WithDetails(map[string]any{"shortSkus": short})
	}

	reservations := make([]models.InventoryReservation, 0, len(lines))
	for _, line := range lines {
		reservations = append(reservations, models.InventoryReservation{
			OrderID:          orderID,
			OrderItemID:      line.OrderItemID,
			SKUID:            line.SKUID,
			ReservedQuantity: line.Quantity,
			State:            enums.ReservationStateHeld,
		})
	}
	if err := tx.WithContext(ctx).Create(&reservations).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservations")
	}
	return reservations, nil
}

// Commit moves HELD reservations to COMMITTED; the reserved units leave the
// warehouse count. Already committed rows are skipped.
func (s *Service) Commit(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	reservations, err := s.Reservations(ctx, tx, orderID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, r := range reservations {
		switch r.State {
		case enums.ReservationStateCommitted:
			continue
		case enums.ReservationStateReleased:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot commit a released reservation").
				WithDetails(map[string]any{"reservationId": r.ID})
		}
		if err := s.adjust(ctx, tx, r.SKUID, 0, -r.ReservedQuantity, now); err != nil {
			return err
		}
		if err := s.moveState(ctx, tx, r, enums.ReservationStateCommitted, "committed_at", now); err != nil {
			return err
		}
	}
	return nil
}

// Release returns held or committed units to available stock. Released rows
// are skipped.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	reservations, err := s.Reservations(ctx, tx, orderID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, r := range reservations {
		var reservedDelta int
		switch r.State {
		case enums.ReservationStateReleased:
			continue
		case enums.ReservationStateHeld:
			reservedDelta = -r.ReservedQuantity
		}
		if err := s.adjust(ctx, tx, r.SKUID, r.ReservedQuantity, reservedDelta, now); err != nil {
			return err
		}
		if err := s.moveState(ctx, tx, r, enums.ReservationStateReleased, "released_at", now); err != nil {
			return err
		}
	}
	return nil
}

// Reservations lists an order's reservations in creation order.
func (s *Service) Reservations(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.InventoryReservation, error) {
	if tx == nil {
		tx = s.db
	}
	var rows []models.InventoryReservation
	if err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservations")
	}
	return rows, nil
}

// Restock adds qty available units, creating the inventory row if needed.
func (s *Service) Restock(ctx context.Context, skuID uuid.UUID, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be at least 1")
	}
	row := models.InventoryItem{SKUID: skuID, AvailableQty: qty}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"available_qty": gorm.Expr("inventory_items.available_qty + ?", qty),
			"updated_at":    s.now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock inventory")
	}
	return nil
}

// Stock returns the current counts for a SKU.
func (s *Service) Stock(ctx context.Context, skuID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.WithContext(ctx).First(&item, "sku_id = ?", skuID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not stocked")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return &item, nil
}

func (s *Service) adjust(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, availableDelta, reservedDelta int, now time.Time) error {
	res := tx.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			reserved_qty = reserved_qty + ?,
			updated_at = ?
		WHERE sku_id = ? AND reserved_qty + ? >= 0
	`, availableDelta, reservedDelta, now, skuID, reservedDelta)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "adjust inventory")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "inventory counts out of sync").
			WithDetails(map[string]any{"skuId": skuID})
	}
	return nil
}

func (s *Service) moveState(ctx context.Context, tx *gorm.DB, r models.InventoryReservation, to enums.ReservationState, stampColumn string, now time.Time) error {
	res := tx.WithContext(ctx).Model(&models.InventoryReservation{}).
		Where("id = ? AND state = ?", r.ID, r.State).
		Updates(map[string]any{
			"state":      to,
			stampColumn:  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update reservation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation changed concurrently")
	}
	return nil
}
