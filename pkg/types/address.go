package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is the shipping address copied onto an order at checkout. It is
// stored as JSON and never rewritten after the order row is inserted.
type Address struct {
	RecipientName string  `json:"recipient_name" validate:"required,max=120"`
	Phone         string  `json:"phone" validate:"required,max=32"`
	Line1         string  `json:"line1" validate:"required,max=255"`
	Line2         *string `json:"line2,omitempty" validate:"omitempty,max=255"`
	Ward          string  `json:"ward,omitempty" validate:"max=120"`
	District      string  `json:"district" validate:"required,max=120"`
	Province      string  `json:"province" validate:"required,max=120"`
	PostalCode    string  `json:"postal_code,omitempty" validate:"max=16"`
	Country       string  `json:"country,omitempty" validate:"omitempty,len=2"`
}

// Validate checks the fields the carrier needs to quote and deliver.
func (a Address) Validate() error {
	if strings.TrimSpace(a.RecipientName) == "" {
		return fmt.Errorf("address: missing recipient_name")
	}
	if strings.TrimSpace(a.Phone) == "" {
		return fmt.Errorf("address: missing phone")
	}
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.District) == "" {
		return fmt.Errorf("address: missing district")
	}
	if strings.TrimSpace(a.Province) == "" {
		return fmt.Errorf("address: missing province")
	}
	return nil
}

// Value marshals Address into JSON.
func (a Address) Value() (driver.Value, error) {
	if a.Country == "" {
		a.Country = DefaultCountry
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("address: marshal %w", err)
	}
	return string(raw), nil
}

// Scan decodes the stored JSON document.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}

	var decoded Address
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("address: decode %w", err)
	}
	*a = decoded
	return nil
}

// DefaultCountry applies when the checkout omits one.
const DefaultCountry = "VN"
