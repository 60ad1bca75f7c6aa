package types

import "time"

// PaymentHint tells the client how to complete payment for a new order.
// Only the fields relevant to the method are set.
type PaymentHint struct {
	Type          string     `json:"type"`
	RedirectURL   string     `json:"redirectUrl,omitempty"`
	QRImage       string     `json:"qrImage,omitempty"`
	QRPayload     string     `json:"qrPayload,omitempty"`
	Memo          string     `json:"memo,omitempty"`
	Amount        int64      `json:"amount,omitempty"`
	BankCode      string     `json:"bankCode,omitempty"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	AccountName   string     `json:"accountName,omitempty"`
	Reference     string     `json:"reference,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}
