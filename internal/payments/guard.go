package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const guardClaimed = "claimed"

// guardStore is the slice of the Redis client the callback guard needs.
type guardStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// CallbackRecord is what a finished callback leaves behind so a redelivery
// can be answered the same way.
type CallbackRecord struct {
	Result  enums.CallbackResult `json:"result,omitempty"`
	Status  enums.PaymentStatus  `json:"status,omitempty"`
	Code    string               `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
}

// Rejected reports whether the first delivery ended in an error.
func (r *CallbackRecord) Rejected() bool { return r != nil && r.Code != "" }

// Err rebuilds the rejection the first delivery returned.
func (r *CallbackRecord) Err() error {
	if !r.Rejected() {
		return nil
	}
	return pkgerrors.New(pkgerrors.Code(r.Code), r.Message)
}

// CallbackGuard drops gateway callbacks that were already processed. A
// delivery claims its key with a short lease and only stores the outcome,
// under the long ttl, once settlement committed or was rejected for good.
type CallbackGuard struct {
	store guardStore
	ttl   time.Duration
	lease time.Duration
	scope string
}

func NewCallbackGuard(store guardStore, ttl, lease time.Duration, scope string) (*CallbackGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if lease <= 0 || lease > ttl {
		return nil, errors.New("lease must be positive and no longer than ttl")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &CallbackGuard{
		store: store,
		ttl:   ttl,
		lease: lease,
		scope: scope,
	}, nil
}

// Claim takes the lease for key. When the key is held it returns false and
// the stored record, or a nil record while another delivery is in flight.
func (g *CallbackGuard) Claim(ctx context.Context, key string) (bool, *CallbackRecord, error) {
	if key == "" {
		return false, nil, errors.New("callback key is required")
	}
	redisKey := g.store.IdempotencyKey(g.scope, key)
	// The holder may release or expire between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		set, err := g.store.SetNX(ctx, redisKey, guardClaimed, g.lease)
		if err != nil {
			return false, nil, fmt.Errorf("claim callback guard: %w", err)
		}
		if set {
			return true, nil, nil
		}
		val, err := g.store.Get(ctx, redisKey)
		if errors.Is(err, goredis.Nil) || (err == nil && val == "") {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("read callback guard: %w", err)
		}
		if val == guardClaimed {
			return false, nil, nil
		}
		var rec CallbackRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return false, nil, fmt.Errorf("decode callback guard: %w", err)
		}
		return false, &rec, nil
	}
	return false, nil, nil
}

// Complete stores the outcome under the long ttl.
func (g *CallbackGuard) Complete(ctx context.Context, key string, rec CallbackRecord) error {
	if key == "" {
		return errors.New("callback key is required")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode callback guard: %w", err)
	}
	if err := g.store.Set(ctx, g.store.IdempotencyKey(g.scope, key), string(raw), g.ttl); err != nil {
		return fmt.Errorf("complete callback guard: %w", err)
	}
	return nil
}

// Release drops a claim so the gateway's redelivery is handled again.
func (g *CallbackGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("callback key is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, key))
}
