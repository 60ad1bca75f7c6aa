package payments

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/carrier"
	"github.com/angelmondragon/orderflow-backend/internal/inventory"
	"github.com/angelmondragon/orderflow-backend/internal/ledger"
	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
)

const (
	testWalletSecret = "wallet-secret"
	testBankSecret   = "bank-secret"
	testQRSecret     = "aggregator-secret"
)

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

// memoryStore is an in-process stand-in for the Redis keys used here.
// Expiry is driven by the test through expire.
type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
		delete(m.ttls, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "of:idempotency:" + scope + ":" + id
}
func (m *memoryStore) ThrottleKey(scope, id string) string { return "of:throttle:" + scope + ":" + id }

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func (m *memoryStore) ttl(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// expire drops key as Redis would once its TTL ran out.
func (m *memoryStore) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	delete(m.ttls, key)
}

// fakeProvider serves canned JSON for gateway query paths.
type fakeProvider struct {
	hits    atomic.Int64
	mu      sync.Mutex
	status  int
	body    string
	lastURL string
}

func (f *fakeProvider) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = body
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.mu.Lock()
	status, body := f.status, f.body
	f.lastURL = r.URL.String()
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

type harness struct {
	conn     *gorm.DB
	orders   orders.Service
	svc      Service
	store    *memoryStore
	guard    *CallbackGuard
	provider *fakeProvider
	clock    *testClock
	logs     *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// line returns the first log line containing msg.
func (b *lockedBuffer) line(msg string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(l, msg) {
			return l
		}
	}
	return ""
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func paymentsConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		WalletTTL:          15 * time.Minute,
		BankQRTTL:          15 * time.Minute,
		BankWebhookTTL:     24 * time.Hour,
		CallbackGuardTTL:   time.Hour,
		CallbackGuardLease: time.Minute,
		StatusPollWindow:   5 * time.Second,
		QueryTimeout:       2 * time.Second,
		SignatureMaxSkew:   5 * time.Minute,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	logs := &lockedBuffer{}
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: logs})
	clock := &testClock{now: testNow}

	provider := &fakeProvider{}
	server := httptest.NewServer(provider)
	t.Cleanup(server.Close)

	payCfg := paymentsConfig()
	opts := []Option{WithHTTPClient(server.Client()), WithClock(clock.Now)}
	wallet, err := NewWalletAdapter(config.WalletConfig{
		PartnerCode: "ORDERFLOW",
		SecretKey:   testWalletSecret,
		PayURL:      "https://wallet.test/v2/pay",
		APIBaseURL:  server.URL,
		ReturnURL:   "https://shop.test/return",
	}, payCfg, opts...)
	require.NoError(t, err)
	bankQR, err := NewBankQRAdapter(config.BankQRConfig{
		BankCode:      "970436",
		AccountNumber: "0011223344",
		AccountName:   "ORDERFLOW",
		AggregatorURL: server.URL,
		WebhookSecret: testQRSecret,
		QRSize:        128,
	}, payCfg, opts...)
	require.NoError(t, err)
	bankWebhook, err := NewBankWebhookAdapter(config.BankWebhookConfig{
		SigningSecret: testBankSecret,
		APIBaseURL:    server.URL,
		BeneficiaryID: "ORDERFLOW",
	}, payCfg, opts...)
	require.NoError(t, err)
	registry, err := NewRegistry(NewCODAdapter(), wallet, bankQR, bankWebhook)
	require.NoError(t, err)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	inv := inventory.NewService(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	orderRepo := orders.NewRepository(conn)
	machine, err := orders.NewMachine(orders.MachineParams{
		Repo:      orderRepo,
		Tx:        client,
		Inventory: inv,
		Outbox:    outboxSvc,
		Ledger:    ledgerSvc,
		Logger:    logg,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      orderRepo,
		Tx:        client,
		Machine:   machine,
		Inventory: inv,
		Outbox:    outboxSvc,
		Quoter:    carrier.NewTableQuoter(config.CarrierConfig{BaseFee: 15000, PerKgFee: 5000, VolumetricFactor: 5000}),
		Payments:  registry,
		TTLs:      payCfg,
		Logger:    logg,
		Now:       clock.Now,
	})
	require.NoError(t, err)

	store := newMemoryStore()
	guard, err := NewCallbackGuard(store, payCfg.CallbackGuardTTL, payCfg.CallbackGuardLease, "payment-callback")
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Registry:   registry,
		Repo:       NewRepository(conn),
		Settler:    machine,
		Guard:      guard,
		Throttle:   store,
		PollWindow: payCfg.StatusPollWindow,
		Logger:     logg,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	return &harness{conn: conn, orders: orderSvc, svc: svc, store: store, guard: guard, provider: provider, clock: clock, logs: logs}
}

// place checks out one unit of a fresh 100000 SKU; shipping is 15000.
func (h *harness) place(t *testing.T, method enums.PaymentMethod) *orders.PlaceOrderResult {
	t.Helper()
	sku := dbtest.SKU(t, h.conn, 100000, 5)
	res, err := h.orders.PlaceOrder(context.Background(), orders.PlaceOrderInput{
		CustomerID:    uuid.New(),
		PaymentMethod: method,
		Address:       dbtest.Address(),
		Items:         []orders.PlaceOrderItem{{SKUID: sku.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 115000, res.TotalAmount)
	return res
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

func (h *harness) callbacks(t *testing.T, paymentID uuid.UUID) []models.PaymentCallback {
	t.Helper()
	var rows []models.PaymentCallback
	require.NoError(t, h.conn.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func bankWebhookRequest(t *testing.T, body string, signedAt time.Time) CallbackRequest {
	t.Helper()
	header := http.Header{}
	header.Set(bankSignatureHeader, signTimestamped(testBankSecret, signedAt.Unix(), []byte(body)))
	return CallbackRequest{Body: []byte(body), Header: header}
}

func aggregatorRequest(body string) CallbackRequest {
	header := http.Header{}
	header.Set(aggregatorSignatureHeader, sign(testQRSecret, []byte(body)))
	return CallbackRequest{Body: []byte(body), Header: header}
}
