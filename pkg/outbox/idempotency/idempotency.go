// Package idempotency keeps worker consumers from applying the same outbox
// event twice. A consumer first claims the event with a short lease, then
// marks it done once its side effects are committed.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultLease = 2 * time.Minute

	valueClaimed = "claimed"
	valueDone    = "done"
)

// State is the outcome of Claim.
type State int

const (
	// Claimed means the caller owns the event and should handle it.
	Claimed State = iota
	// Done means the event was handled before; acknowledge and move on.
	Done
	// InFlight means another worker holds the lease; redeliver later.
	InFlight
)

func (s State) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Done:
		return "done"
	default:
		return "in_flight"
	}
}

// Store is the slice of the Redis client the manager needs.
type Store interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

type Manager struct {
	store Store
	ttl   time.Duration
	lease time.Duration
}

type Option func(*Manager)

// WithLease bounds how long a claim survives a worker that died mid-handle.
func WithLease(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// NewManager keeps done marks for ttl. Keys look like
// of:idempotency:evt:<consumer>:<event_id>.
func NewManager(store Store, ttl time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	m := &Manager{store: store, ttl: ttl, lease: DefaultLease}
	for _, opt := range opts {
		opt(m)
	}
	if m.lease > ttl {
		m.lease = ttl
	}
	return m, nil
}

func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (State, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	// Two rounds cover a lease that expires between SETNX and GET.
	for range 2 {
		ok, err := m.store.SetNX(ctx, key, valueClaimed, m.lease)
		if err != nil {
			return InFlight, fmt.Errorf("claim %s: %w", key, err)
		}
		if ok {
			return Claimed, nil
		}
		current, err := m.store.Get(ctx, key)
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			return InFlight, fmt.Errorf("read %s: %w", key, err)
		case current == valueDone:
			return Done, nil
		default:
			return InFlight, nil
		}
	}
	return InFlight, nil
}

// Complete turns the claim into a done mark kept for the full ttl.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, valueDone, m.ttl)
}

// Release drops the claim so a redelivery can try again at once.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
