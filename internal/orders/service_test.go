package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/pagination"
)

func TestPlaceOrderSnapshotsTotalsAndHoldsStock(t *testing.T) {
	h := newHarness(t, withShipping(15000), withDiscount(5000))

	res, sku := h.place(t, enums.PaymentMethodBankQR, 40000, 5, 2)
	require.Equal(t, enums.OrderStatusPending, res.Status)
	require.EqualValues(t, 90000, res.TotalAmount)
	require.Len(t, res.OrderNumber, 12)
	require.Equal(t, "261018", res.OrderNumber[:6])
	require.NotNil(t, res.PaymentHint)
	require.Equal(t, "OF"+res.OrderNumber, res.PaymentHint.Memo)

	order := h.order(t, res.OrderID)
	require.EqualValues(t, 80000, order.Subtotal)
	require.EqualValues(t, 15000, order.ShippingFee)
	require.EqualValues(t, 5000, order.DiscountAmount)
	require.Equal(t, order.Subtotal+order.ShippingFee-order.DiscountAmount, order.TotalAmount)
	require.Equal(t, "Ho Chi Minh", order.AddressSnapshot.Province)

	var items []models.OrderItem
	require.NoError(t, h.conn.Where("order_id = ?", order.ID).Find(&items).Error)
	require.Len(t, items, 1)
	require.EqualValues(t, 40000, items[0].SalePriceAtPurchase)
	require.EqualValues(t, 80000, items[0].LineTotal)

	require.Equal(t, []enums.ReservationState{enums.ReservationStateHeld}, h.reservationStates(t, order.ID))
	stock, err := h.inventory.Stock(context.Background(), sku.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stock.AvailableQty)
	require.Equal(t, 2, stock.ReservedQty)

	payment := h.payment(t, res.PaymentID)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.EqualValues(t, 90000, payment.Amount)
	require.NotNil(t, payment.ExpiresAt)
	require.True(t, payment.ExpiresAt.Equal(h.now.Add(15*time.Minute)))

	events, err := NewRepository(h.conn).ListStatusEvents(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Nil(t, events[0].FromStatus)
	require.Equal(t, enums.CauseCustomerAction, events[0].Cause)
	require.Equal(t, order.CustomerID, *events[0].ActorID)

	require.EqualValues(t, 1, h.countOutbox(t, enums.EventOrderCreated))
}

func TestPlaceOrderCODHasNoExpiry(t *testing.T) {
	h := newHarness(t)
	res, _ := h.place(t, enums.PaymentMethodCOD, 10000, 1, 1)

	payment := h.payment(t, res.PaymentID)
	require.Nil(t, payment.ExpiresAt)
	require.Nil(t, payment.Memo)
}

func TestPlaceOrderReservationConflictWritesNothing(t *testing.T) {
	h := newHarness(t)
	sku := dbtest.SKU(t, h.conn, 10000, 1)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: enums.PaymentMethodWallet,
		Address:       dbtest.Address(),
		Items:         []PlaceOrderItem{{SKUID: sku.ID, Quantity: 2}},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeReservationConflict))

	for _, model := range []any{&models.Order{}, &models.Payment{}, &models.StatusEvent{}, &models.OutboxEvent{}} {
		var count int64
		require.NoError(t, h.conn.Model(model).Count(&count).Error)
		require.Zero(t, count)
	}
}

func TestPlaceOrderRejectsNegativeTotal(t *testing.T) {
	h := newHarness(t, withDiscount(50000))
	sku := dbtest.SKU(t, h.conn, 10000, 3)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: enums.PaymentMethodCOD,
		Address:       dbtest.Address(),
		Items:         []PlaceOrderItem{{SKUID: sku.ID, Quantity: 1}},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t)
	sku := dbtest.SKU(t, h.conn, 10000, 3)
	valid := PlaceOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: enums.PaymentMethodCOD,
		Address:       dbtest.Address(),
		Items:         []PlaceOrderItem{{SKUID: sku.ID, Quantity: 1}},
	}

	cases := map[string]func(in *PlaceOrderInput){
		"no items":       func(in *PlaceOrderInput) { in.Items = nil },
		"zero quantity":  func(in *PlaceOrderInput) { in.Items = []PlaceOrderItem{{SKUID: sku.ID}} },
		"unknown method": func(in *PlaceOrderInput) { in.PaymentMethod = "CARD" },
		"missing phone":  func(in *PlaceOrderInput) { in.Address.Phone = "" },
		"unknown sku":    func(in *PlaceOrderInput) { in.Items = []PlaceOrderItem{{SKUID: uuid.New(), Quantity: 1}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			in.Items = append([]PlaceOrderItem(nil), valid.Items...)
			mutate(&in)
			_, err := h.svc.PlaceOrder(context.Background(), in)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestDetailIsOwnerOrAdminOnly(t *testing.T) {
	h := newHarness(t)
	res, _ := h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)
	order := h.order(t, res.OrderID)

	detail, err := h.svc.Detail(context.Background(), order.ID, Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)
	require.Equal(t, order.OrderNumber, detail.OrderNumber)
	require.Len(t, detail.Items, 1)
	require.Len(t, detail.Timeline, 1)
	require.NotNil(t, detail.Payment)

	_, err = h.svc.Detail(context.Background(), order.ID, Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.Detail(context.Background(), order.ID, h.admin())
	require.NoError(t, err)
}

func TestListPagesCustomerOrders(t *testing.T) {
	h := newHarness(t)
	customer := uuid.New()
	sku := dbtest.SKU(t, h.conn, 10000, 10)
	for i := 0; i < 3; i++ {
		_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
			CustomerID:    customer,
			PaymentMethod: enums.PaymentMethodCOD,
			Address:       dbtest.Address(),
			Items:         []PlaceOrderItem{{SKUID: sku.ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}
	h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)

	actor := Actor{ID: customer, Role: enums.ActorRoleCustomer}
	first, err := h.svc.List(context.Background(), ListParams{Params: pagination.Params{Limit: 2}}, actor)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.Cursor)

	second, err := h.svc.List(context.Background(), ListParams{Params: pagination.Params{Limit: 2, Cursor: first.Cursor}}, actor)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Empty(t, second.Cursor)

	seen := map[uuid.UUID]bool{}
	for _, item := range append(first.Items, second.Items...) {
		require.Equal(t, customer, item.CustomerID)
		require.False(t, seen[item.ID])
		seen[item.ID] = true
	}

	// A customer cannot widen the scope to someone else's orders.
	other := uuid.New()
	scoped, err := h.svc.List(context.Background(), ListParams{CustomerID: &other}, actor)
	require.NoError(t, err)
	require.Len(t, scoped.Items, 3)
}

func TestListAdminFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	res, _ := h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)
	h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)

	order := h.order(t, res.OrderID)
	_, err := h.svc.CancelByCustomer(context.Background(), order.ID, Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)

	cancelled := enums.OrderStatusCancelled
	list, err := h.svc.List(context.Background(), ListParams{Status: &cancelled}, h.admin())
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, order.ID, list.Items[0].ID)

	all, err := h.svc.List(context.Background(), ListParams{}, h.admin())
	require.NoError(t, err)
	require.Len(t, all.Items, 2)

	_, err = h.svc.List(context.Background(), ListParams{Params: pagination.Params{Cursor: "not-a-cursor"}}, h.admin())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCustomerCancelReleasesStockAndFailsPayment(t *testing.T) {
	h := newHarness(t)
	res, sku := h.place(t, enums.PaymentMethodWallet, 10000, 2, 2)
	order := h.order(t, res.OrderID)
	ctx := context.Background()

	_, err := h.svc.CancelByCustomer(ctx, order.ID, Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	result, err := h.svc.CancelByCustomer(ctx, order.ID, Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, enums.OrderStatusCancelled, result.To)

	require.Equal(t, []enums.ReservationState{enums.ReservationStateReleased}, h.reservationStates(t, order.ID))
	stock, err := h.inventory.Stock(ctx, sku.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stock.AvailableQty)

	payment := h.payment(t, res.PaymentID)
	require.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.Equal(t, "order cancelled", *payment.FailureReason)

	// cancelling twice is a no-op
	again, err := h.svc.CancelByCustomer(ctx, order.ID, Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)
	require.False(t, again.Changed)
}

func TestConfirmReceivedRequiresProcessing(t *testing.T) {
	h := newHarness(t)
	res, _ := h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)
	order := h.order(t, res.OrderID)
	customer := Actor{ID: order.CustomerID, Role: enums.ActorRoleCustomer}
	ctx := context.Background()

	_, err := h.svc.ConfirmReceived(ctx, order.ID, customer)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	admin := h.admin()
	for _, status := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing} {
		_, err := h.svc.AdminSetStatus(ctx, AdminStatusInput{OrderID: order.ID, Status: status}, admin)
		require.NoError(t, err)
	}
	result, err := h.svc.ConfirmReceived(ctx, order.ID, customer)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, result.To)
	require.True(t, ValidWalk(h.walk(t, order.ID)))
}

func TestAdminSetStatusRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	res, _ := h.place(t, enums.PaymentMethodCOD, 10000, 2, 1)

	_, err := h.svc.AdminSetStatus(context.Background(), AdminStatusInput{OrderID: res.OrderID, Status: enums.OrderStatusConfirmed},
		Actor{ID: uuid.New(), Role: enums.ActorRoleCustomer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	note := "  called the customer  "
	admin := h.admin()
	_, err = h.svc.AdminSetStatus(context.Background(), AdminStatusInput{OrderID: res.OrderID, Status: enums.OrderStatusConfirmed, Note: &note}, admin)
	require.NoError(t, err)

	order := h.order(t, res.OrderID)
	require.Equal(t, "called the customer", *order.AdminNote)
	events, err := NewRepository(h.conn).ListStatusEvents(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CauseAdminOverride, events[1].Cause)
	require.Equal(t, admin.ID, *events[1].ActorID)
	require.Equal(t, "called the customer", *events[1].Note)
}

func TestNewOrderNumberFormat(t *testing.T) {
	number, err := newOrderNumber(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	require.Len(t, number, 12)
	require.Equal(t, "260105", number[:6])
}
