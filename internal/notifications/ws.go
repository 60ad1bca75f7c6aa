package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxClientFrame      = 512
)

// Snapshotter loads the ownership-checked order view sent on join.
type Snapshotter interface {
	Detail(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*orders.OrderDetail, error)
}

// RoomServer upgrades a request into a per-order websocket room.
type RoomServer struct {
	hub      *Hub
	orders   Snapshotter
	upgrader websocket.Upgrader
	ping     time.Duration
	logg     *logger.Logger
}

type RoomServerParams struct {
	Hub            *Hub
	Orders         Snapshotter
	PingInterval   time.Duration
	AllowedOrigins []string
	Logger         *logger.Logger
}

func NewRoomServer(p RoomServerParams) (*RoomServer, error) {
	if p.Hub == nil {
		return nil, fmt.Errorf("realtime hub required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("order snapshot source required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ping := p.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &RoomServer{
		hub:    p.Hub,
		orders: p.Orders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(p.AllowedOrigins),
		},
		ping: ping,
		logg: p.Logger,
	}, nil
}

// Serve joins the room before loading the snapshot so no update falls in the
// gap. Errors are returned only while the response is still plain HTTP.
func (s *RoomServer) Serve(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor orders.Actor) error {
	ctx := s.logg.WithOrderID(r.Context(), orderID.String())

	sub, err := s.hub.Join(orderID)
	if err != nil {
		return err
	}
	detail, err := s.orders.Detail(ctx, orderID, actor)
	if err != nil {
		s.hub.Close(sub)
		return err
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.hub.Close(sub)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "websocket upgrade failed")
		return nil
	}

	go s.pump(context.WithoutCancel(ctx), conn, sub, detail)
	return nil
}

func (s *RoomServer) pump(ctx context.Context, conn *websocket.Conn, sub *Subscription, detail *orders.OrderDetail) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.hub.Close(sub)
		_ = conn.Close()
	}()

	go s.readLoop(conn, cancel)

	seq := lastSequence(detail)
	sub.Seen(seq)
	if err := s.write(conn, Message{Event: EventSnapshot, Data: detail}); err != nil {
		return
	}

	updates := make(chan StatusUpdate)
	go func() {
		defer close(updates)
		for {
			update, ok := sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				s.closeFrame(conn, sub)
				return
			}
			if err := s.write(conn, Message{Event: EventStatusUpdated, Data: update}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pong handling runs, and ends the session
// when the peer goes away or stops answering pings.
func (s *RoomServer) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	pongWait := s.ping * 2
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *RoomServer) write(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (s *RoomServer) closeFrame(conn *websocket.Conn, sub *Subscription) {
	code, reason := websocket.CloseNormalClosure, "room closed"
	switch {
	case errors.Is(sub.Err(), ErrSlowSubscriber):
		code, reason = websocket.ClosePolicyViolation, ErrSlowSubscriber.Error()
	case errors.Is(sub.Err(), ErrHubClosed):
		code, reason = websocket.CloseGoingAway, ErrHubClosed.Error()
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func lastSequence(detail *orders.OrderDetail) int64 {
	if detail == nil || len(detail.Timeline) == 0 {
		return 0
	}
	return int64(detail.Timeline[len(detail.Timeline)-1].Sequence)
}

// originChecker allows the configured origins. With none configured the
// gorilla same-host check applies; "*" allows any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	if _, ok := set["*"]; ok {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
