package payments

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Lookup identifies the payment an outcome refers to. Exactly one field is
// set, depending on the gateway.
type Lookup struct {
	PaymentID   string
	OrderNumber string
	Memo        string
}

// Result is the part every gateway reports.
type Result struct {
	Status            enums.PaymentStatus
	Amount            int64
	ProviderReference string
	Message           string
	Raw               json.RawMessage
}

// Outcome is a normalized gateway report. The variants are closed: only the
// types in this file implement it.
type Outcome interface {
	Gateway() enums.PaymentMethod
	Result() Result
	Lookup() Lookup
	Validate() error
	sealed()
}

type CODOutcome struct {
	Common      Result
	OrderNumber string
}

func (o CODOutcome) Gateway() enums.PaymentMethod { return enums.PaymentMethodCOD }
func (o CODOutcome) Result() Result               { return o.Common }
func (o CODOutcome) Lookup() Lookup               { return Lookup{OrderNumber: o.OrderNumber} }
func (CODOutcome) sealed()                        {}

// Validate rejects anything but PENDING; cash is settled by the courier, not
// by a gateway.
func (o CODOutcome) Validate() error {
	if err := validateCommon(o.Common); err != nil {
		return err
	}
	if o.Common.Status != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeValidation, "cash on delivery has no gateway settlement")
	}
	return nil
}

type WalletOutcome struct {
	Common      Result
	OrderNumber string
	ResultCode  int
}

func (o WalletOutcome) Gateway() enums.PaymentMethod { return enums.PaymentMethodWallet }
func (o WalletOutcome) Result() Result               { return o.Common }
func (o WalletOutcome) Lookup() Lookup               { return Lookup{OrderNumber: o.OrderNumber} }
func (WalletOutcome) sealed()                        {}

func (o WalletOutcome) Validate() error {
	if err := validateCommon(o.Common); err != nil {
		return err
	}
	if strings.TrimSpace(o.OrderNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet outcome missing order number")
	}
	if o.Common.Status == enums.PaymentStatusPaid && o.Common.ProviderReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet payment missing transaction id")
	}
	return nil
}

type BankQROutcome struct {
	Common Result
	Memo   string
}

func (o BankQROutcome) Gateway() enums.PaymentMethod { return enums.PaymentMethodBankQR }
func (o BankQROutcome) Result() Result               { return o.Common }
func (o BankQROutcome) Lookup() Lookup               { return Lookup{Memo: o.Memo} }
func (BankQROutcome) sealed()                        {}

func (o BankQROutcome) Validate() error {
	if err := validateCommon(o.Common); err != nil {
		return err
	}
	if strings.TrimSpace(o.Memo) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank transfer outcome missing memo")
	}
	if o.Common.Status == enums.PaymentStatusPaid && o.Common.ProviderReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank transfer missing transaction id")
	}
	return nil
}

type BankWebhookOutcome struct {
	Common      Result
	OrderNumber string
	PaidAt      *time.Time
}

func (o BankWebhookOutcome) Gateway() enums.PaymentMethod { return enums.PaymentMethodBankWebhook }
func (o BankWebhookOutcome) Result() Result               { return o.Common }
func (o BankWebhookOutcome) Lookup() Lookup               { return Lookup{OrderNumber: o.OrderNumber} }
func (BankWebhookOutcome) sealed()                        {}

func (o BankWebhookOutcome) Validate() error {
	if err := validateCommon(o.Common); err != nil {
		return err
	}
	if strings.TrimSpace(o.OrderNumber) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank webhook missing order number")
	}
	if o.Common.Status == enums.PaymentStatusPaid && o.Common.ProviderReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bank webhook missing transaction id")
	}
	return nil
}

func validateCommon(r Result) error {
	if !r.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status")
	}
	if r.Amount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	return nil
}

// pendingFor builds the PENDING outcome a gateway variant reports when it has
// nothing to say yet.
func pendingFor(method enums.PaymentMethod, lookup Lookup) Outcome {
	common := Result{Status: enums.PaymentStatusPending}
	switch method {
	case enums.PaymentMethodWallet:
		return WalletOutcome{Common: common, OrderNumber: lookup.OrderNumber}
	case enums.PaymentMethodBankQR:
		return BankQROutcome{Common: common, Memo: lookup.Memo}
	case enums.PaymentMethodBankWebhook:
		return BankWebhookOutcome{Common: common, OrderNumber: lookup.OrderNumber}
	default:
		return CODOutcome{Common: common, OrderNumber: lookup.OrderNumber}
	}
}
