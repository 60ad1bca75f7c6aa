package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod selects the gateway that settles an order.
type PaymentMethod string

const (
	PaymentMethodCOD         PaymentMethod = "COD"
	PaymentMethodWallet      PaymentMethod = "WALLET"
	PaymentMethodBankQR      PaymentMethod = "BANK_QR"
	PaymentMethodBankWebhook PaymentMethod = "BANK_WEBHOOK"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCOD,
	PaymentMethodWallet,
	PaymentMethodBankQR,
	PaymentMethodBankWebhook,
}

var gatewaySlugs = map[PaymentMethod]string{
	PaymentMethodCOD:         "cod",
	PaymentMethodWallet:      "wallet",
	PaymentMethodBankQR:      "bank-qr",
	PaymentMethodBankWebhook: "bank-webhook",
}

// String implements fmt.Stringer.
func (m PaymentMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsPrepaid reports whether the method must settle before confirmation.
func (m PaymentMethod) IsPrepaid() bool {
	return m.IsValid() && m != PaymentMethodCOD
}

// Slug is the path segment used by gateway endpoints.
func (m PaymentMethod) Slug() string {
	return gatewaySlugs[m]
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if strings.EqualFold(string(candidate), value) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// ParseGatewaySlug resolves a path segment such as "bank-qr".
func ParseGatewaySlug(slug string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(slug))
	for method, candidate := range gatewaySlugs {
		if candidate == normalized {
			return method, nil
		}
	}
	return "", fmt.Errorf("unknown gateway %q", slug)
}
