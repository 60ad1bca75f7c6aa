package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type published struct {
	channel string
	body    []byte
}

type fakePublishStore struct {
	mu         sync.Mutex
	keys       map[string]struct{}
	published  []published
	publishErr error
	setErr     error
}

func newFakePublishStore() *fakePublishStore {
	return &fakePublishStore{keys: map[string]struct{}{}}
}

func (f *fakePublishStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = struct{}{}
	return true, nil
}

func (f *fakePublishStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func (f *fakePublishStore) IdempotencyKey(scope, id string) string {
	return "of:idempotency:" + scope + ":" + id
}

func (f *fakePublishStore) OrderChannel(orderID string) string {
	return "of:orders:" + orderID
}

func (f *fakePublishStore) Publish(_ context.Context, channel string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{channel: channel, body: payload.([]byte)})
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notifications-test"})
}

func newTestDispatcher(t *testing.T, store *fakePublishStore) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherParams{Store: store, Logger: testLogger()})
	require.NoError(t, err)
	return d
}

func statusEvent(orderID uuid.UUID, seq int64, to enums.OrderStatus) payloads.OrderStatusChangedEvent {
	return payloads.OrderStatusChangedEvent{
		OrderID:    orderID,
		FromStatus: enums.OrderStatusPending,
		ToStatus:   to,
		Cause:      enums.CauseGatewayWebhook,
		Sequence:   seq,
		OccurredAt: time.Date(2026, 10, 18, 9, 31, 0, 0, time.UTC),
	}
}

func TestDispatcherPublishesToOrderChannelOnce(t *testing.T) {
	store := newFakePublishStore()
	d := newTestDispatcher(t, store)
	orderID := uuid.New()
	event := statusEvent(orderID, 2, enums.OrderStatusConfirmed)

	d.Dispatch(context.Background(), event)
	d.Dispatch(context.Background(), event)

	require.Len(t, store.published, 1)
	require.Equal(t, "of:orders:"+orderID.String(), store.published[0].channel)

	var update StatusUpdate
	require.NoError(t, json.Unmarshal(store.published[0].body, &update))
	require.Equal(t, orderID, update.OrderID)
	require.Equal(t, enums.OrderStatusConfirmed, update.Status)
	require.Equal(t, enums.OrderStatusPending, update.FromStatus)
	require.Equal(t, int64(2), update.Sequence)
}

func TestDispatcherDistinguishesSequences(t *testing.T) {
	store := newFakePublishStore()
	d := newTestDispatcher(t, store)
	orderID := uuid.New()

	require.NoError(t, d.Publish(context.Background(), statusEvent(orderID, 2, enums.OrderStatusConfirmed)))
	require.NoError(t, d.Publish(context.Background(), statusEvent(orderID, 3, enums.OrderStatusProcessing)))

	require.Len(t, store.published, 2)
}

func TestDispatcherDropsDedupKeyWhenPublishFails(t *testing.T) {
	store := newFakePublishStore()
	store.publishErr = errors.New("connection reset")
	d := newTestDispatcher(t, store)
	event := statusEvent(uuid.New(), 2, enums.OrderStatusConfirmed)

	err := d.Publish(context.Background(), event)
	require.Error(t, err)
	require.Empty(t, store.keys)

	store.publishErr = nil
	require.NoError(t, d.Publish(context.Background(), event))
	require.Len(t, store.published, 1)
}

func TestDispatcherPublishesWhenDedupStoreFails(t *testing.T) {
	store := newFakePublishStore()
	store.setErr = errors.New("redis down")
	d := newTestDispatcher(t, store)

	require.NoError(t, d.Publish(context.Background(), statusEvent(uuid.New(), 2, enums.OrderStatusCancelled)))
	require.Len(t, store.published, 1)
}

func TestDispatcherRejectsMissingOrder(t *testing.T) {
	d := newTestDispatcher(t, newFakePublishStore())
	require.Error(t, d.Publish(context.Background(), payloads.OrderStatusChangedEvent{}))
}
