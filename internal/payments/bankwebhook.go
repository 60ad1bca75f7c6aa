package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

const bankSignatureHeader = "X-Bank-Signature"

type bankTransfer struct {
	TransactionID flexString `json:"transactionId"`
	OrderNumber   string     `json:"orderNumber"`
	Amount        flexString `json:"amount"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// BankWebhookAdapter receives signed transfer notifications from the bank,
// keyed by order number.
type BankWebhookAdapter struct {
	cfg       config.BankWebhookConfig
	tolerance time.Duration
	client    *apiClient
	now       func() time.Time
}

func NewBankWebhookAdapter(cfg config.BankWebhookConfig, payments config.PaymentsConfig, opts ...Option) (*BankWebhookAdapter, error) {
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank webhook signing secret is required")
	}
	o := buildOptions(payments.QueryTimeout, opts)
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	tolerance := payments.SignatureMaxSkew
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &BankWebhookAdapter{
		cfg:       cfg,
		tolerance: tolerance,
		client:    newAPIClient(cfg.APIBaseURL, payments.QueryRatePerSec, o.httpClient, headers),
		now:       o.now,
	}, nil
}

func (*BankWebhookAdapter) Method() enums.PaymentMethod { return enums.PaymentMethodBankWebhook }

func (a *BankWebhookAdapter) Initiate(_ context.Context, pc PaymentContext) (*types.PaymentHint, error) {
	return &types.PaymentHint{
		Type:        "bank_transfer",
		Memo:        pc.Order.OrderNumber,
		Amount:      pc.Payment.Amount,
		AccountName: a.cfg.BeneficiaryID,
		Reference:   pc.Order.OrderNumber,
		ExpiresAt:   pc.Payment.ExpiresAt,
	}, nil
}

func (a *BankWebhookAdapter) ParseCallback(_ context.Context, req CallbackRequest) (Outcome, error) {
	if err := verifyTimestamped(a.cfg.SigningSecret, req.Header.Get(bankSignatureHeader), req.Body, a.now(), a.tolerance); err != nil {
		return nil, err
	}
	var body bankTransfer
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bank webhook body")
	}
	return a.resolveTransfer(body, json.RawMessage(req.Body))
}

func (a *BankWebhookAdapter) resolveTransfer(body bankTransfer, raw json.RawMessage) (Outcome, error) {
	var amount int64
	if body.Amount != "" {
		parsed, err := parseMinorUnits(body.Amount.String())
		if err != nil {
			return nil, err
		}
		amount = parsed
	}
	return a.ResolvePayment(body.TransactionID.String(), body.Status, amount, raw)
}

func (a *BankWebhookAdapter) ResolvePayment(providerReference, providerStatus string, amount int64, raw json.RawMessage) (Outcome, error) {
	var body bankTransfer
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bank webhook payload")
	}
	out := BankWebhookOutcome{
		Common: Result{
			Status:            bankTransferStatus(providerStatus),
			Amount:            amount,
			ProviderReference: providerReference,
			Message:           body.Message,
			Raw:               raw,
		},
		OrderNumber: body.OrderNumber,
		PaidAt:      body.PaidAt,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *BankWebhookAdapter) Query(ctx context.Context, pc PaymentContext) (Outcome, error) {
	lookup := Lookup{OrderNumber: pc.Order.OrderNumber}
	if !a.client.configured() {
		return pendingFor(enums.PaymentMethodBankWebhook, lookup), nil
	}
	var body bankTransfer
	status, err := a.client.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(pc.Order.OrderNumber), nil, nil, &body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return pendingFor(enums.PaymentMethodBankWebhook, lookup), nil
	}
	if body.OrderNumber == "" {
		body.OrderNumber = pc.Order.OrderNumber
	}
	return a.resolveTransfer(body, rawJSON(body))
}

func bankTransferStatus(status string) enums.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return enums.PaymentStatusPaid
	case "FAILED":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}
