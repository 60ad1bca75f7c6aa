package payments

import (
	"context"
	"encoding/json"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// CODAdapter covers cash on delivery. It has no callback and is never
// queried; the courier's confirmation arrives as an admin status change.
type CODAdapter struct{}

func NewCODAdapter() *CODAdapter { return &CODAdapter{} }

func (*CODAdapter) Method() enums.PaymentMethod { return enums.PaymentMethodCOD }

func (*CODAdapter) Initiate(_ context.Context, pc PaymentContext) (*types.PaymentHint, error) {
	return &types.PaymentHint{
		Type:      "cod",
		Amount:    pc.Payment.Amount,
		Reference: pc.Order.OrderNumber,
	}, nil
}

func (*CODAdapter) ResolvePayment(providerReference, providerStatus string, amount int64, raw json.RawMessage) (Outcome, error) {
	var body struct {
		OrderNumber string `json:"orderNumber"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cod payload")
		}
	}
	status, err := enums.ParsePaymentStatus(providerStatus)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown cod status")
	}
	out := CODOutcome{
		Common: Result{
			Status:            status,
			Amount:            amount,
			ProviderReference: providerReference,
			Raw:               raw,
		},
		OrderNumber: body.OrderNumber,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
