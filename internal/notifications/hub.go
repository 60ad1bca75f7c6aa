package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

const defaultSubscriberBuffer = 16

var (
	// ErrHubClosed is returned by Join after the hub stopped.
	ErrHubClosed = errors.New("realtime hub closed")
	// ErrSlowSubscriber closes a subscription whose queue overflowed.
	ErrSlowSubscriber = errors.New("subscriber too slow")
)

type patternSubscriber interface {
	PSubscribe(ctx context.Context, patterns ...string) (*goredis.PubSub, error)
	OrderChannelPattern() string
}

// Subscription is one client's membership in an order room. Updates arrive in
// publish order; Close (or Hub.Close) ends it.
type Subscription struct {
	orderID uuid.UUID
	queue   chan StatusUpdate
	done    chan struct{}
	once    sync.Once
	err     error

	// floor is the highest sequence accepted by the hub for this subscriber.
	floor atomic.Int64
	// delivered is only touched by the consuming goroutine.
	delivered int64
}

func newSubscription(orderID uuid.UUID, buffer int) *Subscription {
	return &Subscription{
		orderID: orderID,
		queue:   make(chan StatusUpdate, buffer),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) OrderID() uuid.UUID { return s.orderID }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended. Only valid after Done is closed.
func (s *Subscription) Err() error { return s.err }

// Seen marks everything up to seq as already known to the client, typically
// the sequence of the snapshot it was sent on join.
func (s *Subscription) Seen(seq int64) {
	s.raise(seq)
	if seq > s.delivered {
		s.delivered = seq
	}
}

// Next blocks for the next fresh update. ok is false once the subscription or
// ctx ends.
func (s *Subscription) Next(ctx context.Context) (StatusUpdate, bool) {
	for {
		select {
		case <-ctx.Done():
			return StatusUpdate{}, false
		case <-s.done:
			return StatusUpdate{}, false
		case update := <-s.queue:
			if update.Sequence <= s.delivered {
				continue
			}
			s.delivered = update.Sequence
			return update, true
		}
	}
}

// raise moves floor up to seq and reports whether seq was newer.
func (s *Subscription) raise(seq int64) bool {
	for {
		current := s.floor.Load()
		if seq <= current {
			return false
		}
		if s.floor.CompareAndSwap(current, seq) {
			return true
		}
	}
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Hub owns this instance's single pattern subscription on the order channels
// and routes each update to the room of its order.
type Hub struct {
	source  patternSubscriber
	buffer  int
	metrics *metrics.OrderMetrics
	logg    *logger.Logger

	mu     sync.Mutex
	rooms  map[uuid.UUID]map[*Subscription]struct{}
	closed bool
}

type HubParams struct {
	Source           patternSubscriber
	SubscriberBuffer int
	Metrics          *metrics.OrderMetrics
	Logger           *logger.Logger
}

func NewHub(p HubParams) (*Hub, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("redis subscriber required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	buffer := p.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		source:  p.Source,
		buffer:  buffer,
		metrics: p.Metrics,
		logg:    p.Logger,
		rooms:   make(map[uuid.UUID]map[*Subscription]struct{}),
	}, nil
}

// Run listens until ctx is canceled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	pattern := h.source.OrderChannelPattern()
	sub, err := h.source.PSubscribe(ctx, pattern)
	if err != nil {
		h.shutdown()
		return err
	}
	defer sub.Close()
	h.logg.Info(h.logg.WithField(ctx, "pattern", pattern), "realtime hub listening")
	h.consume(ctx, sub.Channel())
	return ctx.Err()
}

func (h *Hub) consume(ctx context.Context, messages <-chan *goredis.Message) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var update StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
					"channel": msg.Channel,
					"error":   err.Error(),
				}), "discarding malformed realtime message")
				continue
			}
			h.broadcast(ctx, update)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, update StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[update.OrderID] {
		if !sub.raise(update.Sequence) {
			h.metrics.IncDispatch("stale")
			continue
		}
		select {
		case sub.queue <- update:
		default:
			h.removeLocked(sub)
			sub.end(ErrSlowSubscriber)
			h.metrics.IncDispatch("slow_subscriber")
			h.logg.Warn(h.logg.WithOrderID(ctx, update.OrderID.String()), "disconnecting slow realtime subscriber")
		}
	}
}

// Join adds a subscriber to the order's room.
func (h *Hub) Join(orderID uuid.UUID) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sub := newSubscription(orderID, h.buffer)
	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[orderID] = room
	}
	room[sub] = struct{}{}
	return sub, nil
}

// Close removes the subscriber. Safe to call more than once.
func (h *Hub) Close(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
	sub.end(nil)
}

// Members reports the room size for one order.
func (h *Hub) Members(orderID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[orderID])
}

func (h *Hub) removeLocked(sub *Subscription) {
	room, ok := h.rooms[sub.orderID]
	if !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.orderID)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for orderID, room := range h.rooms {
		for sub := range room {
			sub.end(ErrHubClosed)
		}
		delete(h.rooms, orderID)
	}
}
