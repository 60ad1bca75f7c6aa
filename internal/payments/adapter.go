package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// PaymentContext is what an adapter knows about the payment it works on.
type PaymentContext struct {
	Order   models.Order
	Payment models.Payment
}

// CallbackRequest is the raw inbound request of a webhook or redirect return.
type CallbackRequest struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// Adapter is implemented by every gateway.
type Adapter interface {
	Method() enums.PaymentMethod
	Initiate(ctx context.Context, pc PaymentContext) (*types.PaymentHint, error)
	ResolvePayment(providerReference, providerStatus string, amount int64, raw json.RawMessage) (Outcome, error)
}

// CallbackParser verifies and normalizes gateway pushes.
type CallbackParser interface {
	ParseCallback(ctx context.Context, req CallbackRequest) (Outcome, error)
}

// Querier asks the gateway for the current state of a payment.
type Querier interface {
	Query(ctx context.Context, pc PaymentContext) (Outcome, error)
}
