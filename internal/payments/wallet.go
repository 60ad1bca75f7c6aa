package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

const (
	walletResultSuccess    = 0
	walletResultInProgress = 1000
	walletResultAuthorized = 7000
)

// WalletAdapter talks to the e-wallet redirect gateway. The customer is sent
// to a signed pay URL; results come back on the return URL and the IPN.
type WalletAdapter struct {
	cfg    config.WalletConfig
	client *apiClient
	now    func() time.Time
}

func NewWalletAdapter(cfg config.WalletConfig, payments config.PaymentsConfig, opts ...Option) (*WalletAdapter, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet secret key is required")
	}
	if strings.TrimSpace(cfg.PayURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet pay url is required")
	}
	o := buildOptions(payments.QueryTimeout, opts)
	return &WalletAdapter{
		cfg:    cfg,
		client: newAPIClient(cfg.APIBaseURL, payments.QueryRatePerSec, o.httpClient, nil),
		now:    o.now,
	}, nil
}

func (*WalletAdapter) Method() enums.PaymentMethod { return enums.PaymentMethodWallet }

func (a *WalletAdapter) Initiate(_ context.Context, pc PaymentContext) (*types.PaymentHint, error) {
	fields := map[string]string{
		"partnerCode": a.cfg.PartnerCode,
		"orderId":     pc.Order.OrderNumber,
		"requestId":   pc.Payment.ID.String(),
		"amount":      formatMinorUnits(pc.Payment.Amount),
		"orderInfo":   "Order " + pc.Order.OrderNumber,
		"redirectUrl": a.cfg.ReturnURL,
	}
	fields[signatureField] = signFields(a.cfg.SecretKey, fields)

	target, err := url.Parse(a.cfg.PayURL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse wallet pay url")
	}
	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	target.RawQuery = values.Encode()

	return &types.PaymentHint{
		Type:        "wallet",
		RedirectURL: target.String(),
		Amount:      pc.Payment.Amount,
		Reference:   pc.Order.OrderNumber,
		ExpiresAt:   pc.Payment.ExpiresAt,
	}, nil
}

// ParseCallback accepts either the JSON IPN body or the return query string.
func (a *WalletAdapter) ParseCallback(_ context.Context, req CallbackRequest) (Outcome, error) {
	var fields map[string]string
	if len(bytes.TrimSpace(req.Body)) > 0 {
		obj, err := decodeObject(req.Body)
		if err != nil {
			return nil, err
		}
		fields = stringFields(obj)
	} else {
		fields = make(map[string]string, len(req.Query))
		for k := range req.Query {
			fields[k] = req.Query.Get(k)
		}
	}
	return a.parseSigned(fields)
}

func (a *WalletAdapter) parseSigned(fields map[string]string) (Outcome, error) {
	if err := verifyFields(a.cfg.SecretKey, fields); err != nil {
		return nil, err
	}
	if fields["partnerCode"] != a.cfg.PartnerCode {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unexpected wallet partner code")
	}
	amount, err := parseMinorUnits(fields["amount"])
	if err != nil {
		return nil, err
	}
	return a.ResolvePayment(fields["transId"], fields["resultCode"], amount, rawJSON(fields))
}

func (a *WalletAdapter) ResolvePayment(providerReference, providerStatus string, amount int64, raw json.RawMessage) (Outcome, error) {
	var body struct {
		OrderID string `json:"orderId"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid wallet payload")
	}
	code, err := strconv.Atoi(strings.TrimSpace(providerStatus))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid wallet result code")
	}
	if providerReference == "0" {
		providerReference = ""
	}
	out := WalletOutcome{
		Common: Result{
			Status:            walletStatus(code),
			Amount:            amount,
			ProviderReference: providerReference,
			Message:           body.Message,
			Raw:               raw,
		},
		OrderNumber: body.OrderID,
		ResultCode:  code,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *WalletAdapter) Query(ctx context.Context, pc PaymentContext) (Outcome, error) {
	if !a.client.configured() {
		return pendingFor(enums.PaymentMethodWallet, Lookup{OrderNumber: pc.Order.OrderNumber}), nil
	}
	req := map[string]string{
		"partnerCode": a.cfg.PartnerCode,
		"orderId":     pc.Order.OrderNumber,
		"requestId":   pc.Payment.ID.String(),
	}
	req[signatureField] = signFields(a.cfg.SecretKey, req)

	var resp map[string]any
	status, err := a.client.do(ctx, http.MethodPost, "/v2/query", nil, req, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || resp == nil {
		return pendingFor(enums.PaymentMethodWallet, Lookup{OrderNumber: pc.Order.OrderNumber}), nil
	}
	return a.parseSigned(stringFields(resp))
}

func walletStatus(code int) enums.PaymentStatus {
	switch code {
	case walletResultSuccess:
		return enums.PaymentStatusPaid
	case walletResultInProgress, walletResultAuthorized:
		return enums.PaymentStatusPending
	default:
		return enums.PaymentStatusFailed
	}
}
