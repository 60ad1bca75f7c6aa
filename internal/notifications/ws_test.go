package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

type fakeSnapshotter struct {
	owner  uuid.UUID
	detail *orders.OrderDetail
}

func (f *fakeSnapshotter) Detail(_ context.Context, orderID uuid.UUID, actor orders.Actor) (*orders.OrderDetail, error) {
	if orderID != f.detail.ID || (actor.ID != f.owner && !actor.IsAdmin()) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return f.detail, nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func roomServer(t *testing.T, snapshots Snapshotter) (*Hub, chan *goredis.Message, *httptest.Server) {
	t.Helper()
	hub := newTestHub(t, 8)
	messages := make(chan *goredis.Message, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.consume(ctx, messages)

	rs, err := NewRoomServer(RoomServerParams{Hub: hub, Orders: snapshots, PingInterval: time.Second, Logger: testLogger()})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orderID := uuid.MustParse(r.URL.Query().Get("order"))
		actor := orders.Actor{ID: uuid.MustParse(r.URL.Query().Get("actor")), Role: enums.ActorRoleCustomer}
		if err := rs.Serve(w, r, orderID, actor); err != nil {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return hub, messages, srv
}

func dialRoom(srv *httptest.Server, orderID, actorID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?order=" + orderID.String() + "&actor=" + actorID.String()
	return websocket.DefaultDialer.Dial(target, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestRoomServerSendsSnapshotThenFreshUpdates(t *testing.T) {
	owner := uuid.New()
	orderID := uuid.New()
	snapshots := &fakeSnapshotter{owner: owner, detail: &orders.OrderDetail{
		ID:     orderID,
		Status: enums.OrderStatusConfirmed,
		Timeline: []orders.TimelineEntry{
			{Sequence: 1, ToStatus: enums.OrderStatusPending},
			{Sequence: 2, ToStatus: enums.OrderStatusConfirmed},
		},
	}}
	hub, messages, srv := roomServer(t, snapshots)

	conn, _, err := dialRoom(srv, orderID, owner)
	require.NoError(t, err)
	defer conn.Close()

	snap := readFrame(t, conn)
	require.Equal(t, EventSnapshot, snap.Event)
	var detail orders.OrderDetail
	require.NoError(t, json.Unmarshal(snap.Data, &detail))
	require.Equal(t, enums.OrderStatusConfirmed, detail.Status)
	require.Equal(t, 1, hub.Members(orderID))

	messages <- redisMessage(t, update(orderID, 2, enums.OrderStatusConfirmed))
	messages <- redisMessage(t, update(orderID, 3, enums.OrderStatusProcessing))

	next := readFrame(t, conn)
	require.Equal(t, EventStatusUpdated, next.Event)
	var got StatusUpdate
	require.NoError(t, json.Unmarshal(next.Data, &got))
	require.Equal(t, int64(3), got.Sequence)
	require.Equal(t, enums.OrderStatusProcessing, got.Status)
}

func TestRoomServerRejectsForeignOrderBeforeUpgrade(t *testing.T) {
	orderID := uuid.New()
	snapshots := &fakeSnapshotter{owner: uuid.New(), detail: &orders.OrderDetail{ID: orderID}}
	hub, _, srv := roomServer(t, snapshots)

	_, resp, err := dialRoom(srv, orderID, uuid.New())
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Zero(t, hub.Members(orderID))
}

func TestRoomServerLeavesRoomWhenClientDisconnects(t *testing.T) {
	owner := uuid.New()
	orderID := uuid.New()
	snapshots := &fakeSnapshotter{owner: owner, detail: &orders.OrderDetail{ID: orderID}}
	hub, _, srv := roomServer(t, snapshots)

	conn, _, err := dialRoom(srv, orderID, owner)
	require.NoError(t, err)
	readFrame(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.Members(orderID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	require.Nil(t, originChecker(nil))

	check := originChecker([]string{"https://shop.example.com/"})
	req := httptest.NewRequest(http.MethodGet, "/ws/orders/x", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	require.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example.com")
	require.False(t, check(req))

	anyOrigin := originChecker([]string{"*"})
	require.True(t, anyOrigin(req))
}
