package orders

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/carrier"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

const orderNumberAttempts = 5

// InventoryHolder reserves stock for a new order.
type InventoryHolder interface {
	Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.HoldLine) ([]models.InventoryReservation, error)
}

// DiscountRequest is what the promotions collaborator sees of a checkout.
type DiscountRequest struct {
	CustomerID uuid.UUID
	Subtotal   int64
	Items      []models.OrderItem
}

// Promotions computes an order-level discount in minor units.
type Promotions interface {
	Discount(ctx context.Context, req DiscountRequest) (int64, error)
}

// NoPromotions never discounts.
type NoPromotions struct{}

func (NoPromotions) Discount(context.Context, DiscountRequest) (int64, error) { return 0, nil }

// PaymentInitiator builds the client-facing payment hint for a new order.
type PaymentInitiator interface {
	Initiate(ctx context.Context, order *models.Order, payment *models.Payment) (*types.PaymentHint, error)
}

// Service defines the customer and admin order operations.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error)
	Detail(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error)
	List(ctx context.Context, params ListParams, actor Actor) (*ListResult, error)
	CancelByCustomer(ctx context.Context, orderID uuid.UUID, actor Actor) (TransitionResult, error)
	ConfirmReceived(ctx context.Context, orderID uuid.UUID, actor Actor) (TransitionResult, error)
	AdminSetStatus(ctx context.Context, input AdminStatusInput, actor Actor) (TransitionResult, error)
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Machine    *Machine
	Inventory  InventoryHolder
	Outbox     outboxPublisher
	Quoter     carrier.Quoter
	Promotions Promotions
	Payments   PaymentInitiator
	TTLs       config.PaymentsConfig
	Logger     *logger.Logger
	Now        func() time.Time
	Random     io.Reader
}

type service struct {
	repo       Repository
	tx         txRunner
	machine    *Machine
	inventory  InventoryHolder
	outbox     outboxPublisher
	quoter     carrier.Quoter
	promotions Promotions
	payments   PaymentInitiator
	ttls       config.PaymentsConfig
	logg       *logger.Logger
	now        func() time.Time
	random     io.Reader
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory holder required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.Quoter == nil {
		return nil, fmt.Errorf("carrier quoter required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	promotions := p.Promotions
	if promotions == nil {
		promotions = NoPromotions{}
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:       p.Repo,
		tx:         p.Tx,
		machine:    p.Machine,
		inventory:  p.Inventory,
		outbox:     p.Outbox,
		quoter:     p.Quoter,
		promotions: promotions,
		payments:   p.Payments,
		ttls:       p.TTLs,
		logg:       p.Logger,
		now:        now,
		random:     p.Random,
	}, nil
}

// PlaceOrder prices the cart, then writes the order, its items, the stock
// hold, the creation event, the pending payment and the outbox row in one
// transaction.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	if err := validatePlaceOrder(input); err != nil {
		return nil, err
	}

	items, err := s.snapshotItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotal
	}

	discount, err := s.promotions.Discount(ctx, DiscountRequest{CustomerID: input.CustomerID, Subtotal: subtotal, Items: items})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute discount")
	}
	if discount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount must be non-negative")
	}

	weight, dims, err := s.parcel(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	shippingFee, err := s.quoter.Quote(ctx, carrier.DestinationOf(input.Address), weight, dims)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "quote shipping")
	}

	total := subtotal + shippingFee - discount
	if total < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must not be negative")
	}

	var (
		order   *models.Order
		payment *models.Payment
	)
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		order, payment, err = s.createOrder(ctx, input, items, subtotal, shippingFee, discount, total)
		if err == nil {
			break
		}
		if !isOrderNumberCollision(err) {
			return nil, err
		}
		s.logg.Warn(ctx, fmt.Sprintf("order number collision, retrying (attempt %d)", attempt))
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate order number")
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	s.logg.Info(ctx, "order placed")

	result := &PlaceOrderResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		PaymentID:   payment.ID,
	}
	if s.payments != nil {
		hint, err := s.payments.Initiate(ctx, order, payment)
		if err != nil {
			s.logg.Error(ctx, "failed to build payment hint", err)
		} else {
			result.PaymentHint = hint
		}
	}
	return result, nil
}

func (s *service) createOrder(ctx context.Context, input PlaceOrderInput, items []models.OrderItem, subtotal, shippingFee, discount, total int64) (*models.Order, *models.Payment, error) {
	now := s.now()
	number, err := newOrderNumber(now, s.random)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
	}

	order := &models.Order{
		OrderNumber:     number,
		CustomerID:      input.CustomerID,
		ContactEmail:    input.ContactEmail,
		Status:          enums.OrderStatusPending,
		PaymentMethod:   input.PaymentMethod,
		Subtotal:        subtotal,
		ShippingFee:     shippingFee,
		DiscountAmount:  discount,
		TotalAmount:     total,
		AddressSnapshot: input.Address,
		CustomerNote:    input.CustomerNote,
		Version:         1,
		Items:           cloneItems(items),
	}
	payment := &models.Payment{
		Gateway: input.PaymentMethod,
		Status:  enums.PaymentStatusPending,
		Amount:  total,
	}
	if ttl := s.ttlFor(input.PaymentMethod); ttl > 0 {
		expires := now.Add(ttl)
		payment.ExpiresAt = &expires
	}
	if input.PaymentMethod == enums.PaymentMethodBankQR {
		memo := BankMemo(number)
		payment.Memo = &memo
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		lines := make([]inventory.HoldLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, inventory.HoldLine{OrderItemID: item.ID, SKUID: item.SKUID, Quantity: item.Quantity})
		}
		if _, err := s.inventory.Hold(ctx, tx, order.ID, lines); err != nil {
			return err
		}

		customer := input.CustomerID
		if err := repo.AppendStatusEvent(ctx, &models.StatusEvent{
			OrderID:    order.ID,
			Sequence:   1,
			ToStatus:   enums.OrderStatusPending,
			Cause:      enums.CauseCustomerAction,
			ActorID:    &customer,
			OccurredAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append creation event")
		}

		payment.OrderID = order.ID
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		data := payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CustomerID:    order.CustomerID,
			PaymentMethod: order.PaymentMethod,
			Total:         order.TotalAmount,
			CreatedAt:     now,
		}
		if order.ContactEmail != nil {
			data.ContactEmail = *order.ContactEmail
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ActorID: customer, Role: string(enums.ActorRoleCustomer)},
			Data:          data,
			OccurredAt:    now,
		})
	})
	if err != nil {
		if isOrderNumberCollision(err) || pkgerrors.As(err) != nil {
			return nil, nil, err
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, payment, nil
}

func (s *service) Detail(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error) {
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if !actor.IsAdmin() && order.CustomerID != actor.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return newOrderDetail(order, actor), nil
}

func (s *service) List(ctx context.Context, params ListParams, actor Actor) (*ListResult, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	customerID := params.CustomerID
	if !actor.IsAdmin() {
		customerID = &actor.ID
	}
	rows, err := s.repo.List(ctx, listQuery{
		customerID: customerID,
		status:     params.Status,
		limit:      pagination.LimitWithBuffer(params.Limit),
		cursor:     cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	result := &ListResult{Items: make([]ListItem, 0, len(page)), Cursor: next}
	for _, row := range page {
		result.Items = append(result.Items, toListItem(row))
	}
	return result, nil
}

func (s *service) CancelByCustomer(ctx context.Context, orderID uuid.UUID, actor Actor) (TransitionResult, error) {
	return s.customerAction(ctx, orderID, actor, enums.OrderStatusCancelled)
}

func (s *service) ConfirmReceived(ctx context.Context, orderID uuid.UUID, actor Actor) (TransitionResult, error) {
	return s.customerAction(ctx, orderID, actor, enums.OrderStatusDelivered)
}

func (s *service) customerAction(ctx context.Context, orderID uuid.UUID, actor Actor, to enums.OrderStatus) (TransitionResult, error) {
	if actor.ID == uuid.Nil {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return TransitionResult{}, notFoundOr(err, "order not found", "load order")
	}
	if order.CustomerID != actor.ID {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	actorID := actor.ID
	return s.machine.Apply(ctx, ApplyInput{
		OrderID: orderID,
		To:      to,
		Cause:   enums.CauseCustomerAction,
		ActorID: &actorID,
	})
}

func (s *service) AdminSetStatus(ctx context.Context, input AdminStatusInput, actor Actor) (TransitionResult, error) {
	if !actor.IsAdmin() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if actor.ID == uuid.Nil {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	if input.Note != nil {
		trimmed := strings.TrimSpace(*input.Note)
		if trimmed == "" {
			input.Note = nil
		} else {
			input.Note = &trimmed
		}
	}
	actorID := actor.ID
	return s.machine.Apply(ctx, ApplyInput{
		OrderID: input.OrderID,
		To:      input.Status,
		Cause:   enums.CauseAdminOverride,
		ActorID: &actorID,
		Note:    input.Note,
	})
}

func (s *service) snapshotItems(ctx context.Context, requested []PlaceOrderItem) ([]models.OrderItem, error) {
	catalog, err := s.catalog(ctx, requested)
	if err != nil {
		return nil, err
	}
	items := make([]models.OrderItem, 0, len(requested))
	for _, line := range requested {
		sku := catalog[line.SKUID]
		price := sku.EffectivePrice()
		items = append(items, models.OrderItem{
			ProductID:           sku.ProductID,
			VariantID:           sku.VariantID,
			SKUID:               sku.ID,
			Name:                sku.Name,
			Quantity:            line.Quantity,
			UnitPrice:           sku.UnitPrice,
			SalePriceAtPurchase: price,
			LineTotal:           price * int64(line.Quantity),
		})
	}
	return items, nil
}

// parcel sums the weight and keeps the dimensions of the bulkiest item.
func (s *service) parcel(ctx context.Context, requested []PlaceOrderItem) (int, carrier.Dims, error) {
	catalog, err := s.catalog(ctx, requested)
	if err != nil {
		return 0, carrier.Dims{}, err
	}
	var (
		weight  int
		largest carrier.Dims
		volume  int
	)
	for _, line := range requested {
		sku := catalog[line.SKUID]
		weight += sku.WeightGrams * line.Quantity
		if v := sku.LengthCm * sku.WidthCm * sku.HeightCm; v > volume {
			volume = v
			largest = carrier.Dims{LengthCm: sku.LengthCm, WidthCm: sku.WidthCm, HeightCm: sku.HeightCm}
		}
	}
	return weight, largest, nil
}

func (s *service) catalog(ctx context.Context, requested []PlaceOrderItem) (map[uuid.UUID]models.CatalogItem, error) {
	ids := make([]uuid.UUID, 0, len(requested))
	seen := map[uuid.UUID]struct{}{}
	for _, line := range requested {
		if _, ok := seen[line.SKUID]; ok {
			continue
		}
		seen[line.SKUID] = struct{}{}
		ids = append(ids, line.SKUID)
	}
	rows, err := s.repo.FindCatalogItems(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog items")
	}
	byID := make(map[uuid.UUID]models.CatalogItem, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown or inactive sku").
			WithDetails(map[string]any{"skuIds": missing})
	}
	return byID, nil
}

func (s *service) ttlFor(method enums.PaymentMethod) time.Duration {
	switch method {
	case enums.PaymentMethodWallet:
		return s.ttls.WalletTTL
	case enums.PaymentMethodBankQR:
		return s.ttls.BankQRTTL
	case enums.PaymentMethodBankWebhook:
		return s.ttls.BankWebhookTTL
	default:
		return 0
	}
}

// BankMemo is the transfer description a Bank-QR payer must use.
func BankMemo(orderNumber string) string {
	return "OF" + orderNumber
}

func validatePlaceOrder(input PlaceOrderInput) error {
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for _, item := range input.Items {
		if item.SKUID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
		}
		if item.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
	}
	if err := input.Address.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return nil
}

func cloneItems(items []models.OrderItem) []models.OrderItem {
	out := make([]models.OrderItem, len(items))
	copy(out, items)
	return out
}

func isOrderNumberCollision(err error) bool {
	return db.IsUniqueViolation(err, "orders_order_number_key") ||
		db.IsUniqueViolation(err, "orders.order_number") ||
		db.IsUniqueViolation(err, "payments_memo_uniq") ||
		db.IsUniqueViolation(err, "payments.memo")
}
