package payments

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Registry maps payment methods to their adapters.
type Registry struct {
	adapters map[enums.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[enums.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		method := a.Method()
		if !method.IsValid() {
			return nil, fmt.Errorf("adapter reports unknown method %q", method)
		}
		if _, dup := r.adapters[method]; dup {
			return nil, fmt.Errorf("adapter for %s registered twice", method)
		}
		r.adapters[method] = a
	}
	return r, nil
}

func (r *Registry) Adapter(method enums.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not available")
	}
	return a, nil
}

// Parser returns the callback parser of a gateway. Methods without a
// callback endpoint report NOT_FOUND.
func (r *Registry) Parser(method enums.PaymentMethod) (CallbackParser, error) {
	a, err := r.Adapter(method)
	if err != nil {
		return nil, err
	}
	p, ok := a.(CallbackParser)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gateway has no callback endpoint")
	}
	return p, nil
}

func (r *Registry) Querier(method enums.PaymentMethod) (Querier, bool) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, false
	}
	q, ok := a.(Querier)
	return q, ok
}

// Initiate builds the client hint for a freshly created payment.
func (r *Registry) Initiate(ctx context.Context, order *models.Order, payment *models.Payment) (*types.PaymentHint, error) {
	if order == nil || payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and payment required")
	}
	a, err := r.Adapter(payment.Gateway)
	if err != nil {
		return nil, err
	}
	return a.Initiate(ctx, PaymentContext{Order: *order, Payment: *payment})
}
