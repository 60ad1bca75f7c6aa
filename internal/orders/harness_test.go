package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/carrier"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []payloads.OrderStatusChangedEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event payloads.OrderStatusChangedEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) all() []payloads.OrderStatusChangedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]payloads.OrderStatusChangedEvent, len(d.events))
	copy(out, d.events)
	return out
}

type fixedQuoter struct{ fee int64 }

func (q fixedQuoter) Quote(context.Context, carrier.Destination, int, carrier.Dims) (int64, error) {
	return q.fee, nil
}

type fixedPromotions struct{ discount int64 }

func (p fixedPromotions) Discount(context.Context, DiscountRequest) (int64, error) {
	return p.discount, nil
}

type stubInitiator struct{}

func (stubInitiator) Initiate(_ context.Context, order *models.Order, payment *models.Payment) (*types.PaymentHint, error) {
	hint := &types.PaymentHint{Type: order.PaymentMethod.Slug(), Amount: payment.Amount, ExpiresAt: payment.ExpiresAt}
	if payment.Memo != nil {
		hint.Memo = *payment.Memo
	}
	return hint, nil
}

type harness struct {
	conn       *gorm.DB
	machine    *Machine
	svc        Service
	inventory  *inventory.Service
	dispatcher *recordingDispatcher
	now        time.Time
}

type harnessOption func(*ServiceParams)

func withShipping(fee int64) harnessOption {
	return func(p *ServiceParams) { p.Quoter = fixedQuoter{fee: fee} }
}

func withDiscount(discount int64) harnessOption {
	return func(p *ServiceParams) { p.Promotions = fixedPromotions{discount: discount} }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test"})
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	inv := inventory.NewService(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	dispatcher := &recordingDispatcher{}
	repo := NewRepository(conn)

	machine, err := NewMachine(MachineParams{
		Repo:       repo,
		Tx:         client,
		Inventory:  inv,
		Outbox:     outboxSvc,
		Ledger:     ledgerSvc,
		Dispatcher: dispatcher,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)

	params := ServiceParams{
		Repo:      repo,
		Tx:        client,
		Machine:   machine,
		Inventory: inv,
		Outbox:    outboxSvc,
		Quoter:    fixedQuoter{},
		Payments:  stubInitiator{},
		TTLs: config.PaymentsConfig{
			WalletTTL:      15 * time.Minute,
			BankQRTTL:      15 * time.Minute,
			BankWebhookTTL: 24 * time.Hour,
		},
		Logger: logg,
		Now:    clock,
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	return &harness{conn: conn, machine: machine, svc: svc, inventory: inv, dispatcher: dispatcher, now: now}
}

// place checks out qty units of a fresh SKU.
func (h *harness) place(t *testing.T, method enums.PaymentMethod, price int64, stock, qty int) (*PlaceOrderResult, models.CatalogItem) {
	t.Helper()
	sku := dbtest.SKU(t, h.conn, price, stock)
	res, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: method,
		Address:       dbtest.Address(),
		Items:         []PlaceOrderItem{{SKUID: sku.ID, Quantity: qty}},
	})
	require.NoError(t, err)
	return res, sku
}

func (h *harness) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.conn.First(&order, "id = ?", id).Error)
	return order
}

func (h *harness) payment(t *testing.T, id uuid.UUID) models.Payment {
	t.Helper()
	var payment models.Payment
	require.NoError(t, h.conn.First(&payment, "id = ?", id).Error)
	return payment
}

func (h *harness) reservationStates(t *testing.T, orderID uuid.UUID) []enums.ReservationState {
	t.Helper()
	rows, err := h.inventory.Reservations(context.Background(), nil, orderID)
	require.NoError(t, err)
	states := make([]enums.ReservationState, 0, len(rows))
	for _, r := range rows {
		states = append(states, r.State)
	}
	return states
}

func (h *harness) walk(t *testing.T, orderID uuid.UUID) []enums.OrderStatus {
	t.Helper()
	events, err := NewRepository(h.conn).ListStatusEvents(context.Background(), orderID)
	require.NoError(t, err)
	walk := make([]enums.OrderStatus, 0, len(events))
	for i, ev := range events {
		require.Equal(t, i+1, ev.Sequence)
		walk = append(walk, ev.ToStatus)
	}
	return walk
}

func (h *harness) countOutbox(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (h *harness) admin() Actor {
	return Actor{ID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func (h *harness) settle(t *testing.T, res *PlaceOrderResult, status enums.PaymentStatus, amount int64, ref string) (SettleResult, error) {
	t.Helper()
	payment := h.payment(t, res.PaymentID)
	return h.machine.SettlePayment(context.Background(), SettleInput{
		PaymentID:         res.PaymentID,
		Gateway:           payment.Gateway,
		Status:            status,
		Amount:            amount,
		ProviderReference: ref,
		Cause:             enums.CauseGatewayWebhook,
		RawPayload:        []byte(`{"source":"test"}`),
	})
}
