package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

const aggregatorSignatureHeader = "X-Aggregator-Signature"

var memoPattern = regexp.MustCompile(`(?i)OF\d{12}`)

type aggregatorTransaction struct {
	ID              flexString `json:"id"`
	Amount          flexString `json:"amount"`
	Description     string     `json:"description"`
	TransactionDate string     `json:"transactionDate,omitempty"`
}

type bankQRRaw struct {
	Memo        string                 `json:"memo"`
	Transaction *aggregatorTransaction `json:"transaction,omitempty"`
}

// BankQRAdapter shows a transfer QR and learns about the transfer from a
// bank statement aggregator, either by polling or by its push webhook.
type BankQRAdapter struct {
	cfg    config.BankQRConfig
	client *apiClient
	now    func() time.Time
}

func NewBankQRAdapter(cfg config.BankQRConfig, payments config.PaymentsConfig, opts ...Option) (*BankQRAdapter, error) {
	if strings.TrimSpace(cfg.BankCode) == "" || strings.TrimSpace(cfg.AccountNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank qr account is required")
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	o := buildOptions(payments.QueryTimeout, opts)
	headers := map[string]string{}
	if cfg.AggregatorAPIKey != "" {
		headers["Authorization"] = "Apikey " + cfg.AggregatorAPIKey
	}
	return &BankQRAdapter{
		cfg:    cfg,
		client: newAPIClient(cfg.AggregatorURL, payments.QueryRatePerSec, o.httpClient, headers),
		now:    o.now,
	}, nil
}

func (*BankQRAdapter) Method() enums.PaymentMethod { return enums.PaymentMethodBankQR }

func (a *BankQRAdapter) Initiate(_ context.Context, pc PaymentContext) (*types.PaymentHint, error) {
	memo := memoOf(pc.Payment.Memo)
	if memo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank qr payment has no memo")
	}
	payload := a.transferPayload(pc.Payment.Amount, memo)
	png, err := qrcode.Encode(payload, qrcode.Medium, a.cfg.QRSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transfer qr")
	}
	return &types.PaymentHint{
		Type:          "bank_qr",
		QRImage:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		QRPayload:     payload,
		Memo:          memo,
		Amount:        pc.Payment.Amount,
		BankCode:      a.cfg.BankCode,
		AccountNumber: a.cfg.AccountNumber,
		AccountName:   a.cfg.AccountName,
		Reference:     pc.Order.OrderNumber,
		ExpiresAt:     pc.Payment.ExpiresAt,
	}, nil
}

func (a *BankQRAdapter) transferPayload(amount int64, memo string) string {
	return fmt.Sprintf("BANK:%s|ACC:%s|NAME:%s|AMOUNT:%s|MEMO:%s",
		a.cfg.BankCode, a.cfg.AccountNumber, a.cfg.AccountName, formatMinorUnits(amount), memo)
}

// ParseCallback handles the aggregator push. The body is one statement line
// signed as a whole.
func (a *BankQRAdapter) ParseCallback(_ context.Context, req CallbackRequest) (Outcome, error) {
	if strings.TrimSpace(a.cfg.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bank qr webhook not enabled")
	}
	sig := req.Header.Get(aggregatorSignatureHeader)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature missing")
	}
	if !verify(a.cfg.WebhookSecret, req.Body, sig) {
		return nil, errInvalidSignature
	}

	var tx aggregatorTransaction
	if err := json.Unmarshal(req.Body, &tx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid aggregator body")
	}
	memo := strings.ToUpper(memoPattern.FindString(tx.Description))
	if memo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer description carries no order memo")
	}
	return a.matched(memo, tx)
}

func (a *BankQRAdapter) matched(memo string, tx aggregatorTransaction) (Outcome, error) {
	amount, err := parseMinorUnits(tx.Amount.String())
	if err != nil {
		return nil, err
	}
	return a.ResolvePayment(tx.ID.String(), string(enums.PaymentStatusPaid), amount, rawJSON(bankQRRaw{Memo: memo, Transaction: &tx}))
}

func (a *BankQRAdapter) ResolvePayment(providerReference, providerStatus string, amount int64, raw json.RawMessage) (Outcome, error) {
	var body bankQRRaw
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bank qr payload")
	}
	status, err := enums.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(providerStatus)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown bank qr status")
	}
	out := BankQROutcome{
		Common: Result{
			Status:            status,
			Amount:            amount,
			ProviderReference: providerReference,
			Raw:               raw,
		},
		Memo: body.Memo,
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Query searches the aggregator for a statement line carrying the memo. With
// no match the payment is PENDING until its TTL, then EXPIRED.
func (a *BankQRAdapter) Query(ctx context.Context, pc PaymentContext) (Outcome, error) {
	memo := memoOf(pc.Payment.Memo)
	if memo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank qr payment has no memo")
	}
	if !a.client.configured() {
		return a.unmatched(pc, memo)
	}

	var resp struct {
		Data []aggregatorTransaction `json:"data"`
	}
	if _, err := a.client.do(ctx, http.MethodGet, "/transactions", url.Values{"memo": {memo}}, nil, &resp); err != nil {
		return nil, err
	}
	needle := strings.ToUpper(memo)
	for _, tx := range resp.Data {
		if strings.Contains(strings.ToUpper(tx.Description), needle) {
			return a.matched(memo, tx)
		}
	}
	return a.unmatched(pc, memo)
}

func (a *BankQRAdapter) unmatched(pc PaymentContext, memo string) (Outcome, error) {
	status := enums.PaymentStatusPending
	if pc.Payment.Expired(a.now()) {
		status = enums.PaymentStatusExpired
	}
	return a.ResolvePayment("", string(status), 0, rawJSON(bankQRRaw{Memo: memo}))
}

func memoOf(memo *string) string {
	if memo == nil {
		return ""
	}
	return strings.TrimSpace(*memo)
}
