// Package carrier prices shipping for a checkout.
package carrier

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/types"
)

// Destination is the part of an address that affects price.
type Destination struct {
	Province string
	District string
	Country  string
}

// DestinationOf extracts the priced fields from a shipping address.
func DestinationOf(a types.Address) Destination {
	return Destination{Province: a.Province, District: a.District, Country: a.Country}
}

// Dims is the parcel box in centimeters.
type Dims struct {
	LengthCm int
	WidthCm  int
	HeightCm int
}

// Quoter returns the shipping fee in minor units.
type Quoter interface {
	Quote(ctx context.Context, dest Destination, weightGrams int, dims Dims) (int64, error)
}

// TableQuoter charges a base fee covering the first kilogram plus a rate per
// started kilogram above it. The chargeable weight is the larger of the
// actual and the volumetric weight.
type TableQuoter struct {
	baseFee         decimal.Decimal
	perKgFee        decimal.Decimal
	divisor         decimal.Decimal
	remoteSurcharge decimal.Decimal
	remote          map[string]struct{}
}

func NewTableQuoter(cfg config.CarrierConfig) *TableQuoter {
	divisor := cfg.VolumetricFactor
	if divisor <= 0 {
		divisor = 5000
	}
	remote := make(map[string]struct{}, len(cfg.RemoteProvinces))
	for _, p := range cfg.RemoteProvinces {
		if key := normalizeProvince(p); key != "" {
			remote[key] = struct{}{}
		}
	}
	return &TableQuoter{
		baseFee:         decimal.NewFromInt(cfg.BaseFee),
		perKgFee:        decimal.NewFromInt(cfg.PerKgFee),
		divisor:         decimal.NewFromInt(int64(divisor)),
		remoteSurcharge: decimal.NewFromFloat(cfg.RemoteSurcharge),
		remote:          remote,
	}
}

func (q *TableQuoter) Quote(ctx context.Context, dest Destination, weightGrams int, dims Dims) (int64, error) {
	if weightGrams < 0 || dims.LengthCm < 0 || dims.WidthCm < 0 || dims.HeightCm < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "parcel weight and dimensions must be non-negative")
	}
	if strings.TrimSpace(dest.Province) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "destination province is required")
	}

	actualKg := decimal.NewFromInt(int64(weightGrams)).Div(decimal.NewFromInt(1000))
	volumetricKg := decimal.NewFromInt(int64(dims.LengthCm) * int64(dims.WidthCm) * int64(dims.HeightCm)).Div(q.divisor)
	chargeable := decimal.Max(actualKg, volumetricKg).Ceil()

	fee := q.baseFee
	if extra := chargeable.Sub(decimal.NewFromInt(1)); extra.IsPositive() {
		fee = fee.Add(extra.Mul(q.perKgFee))
	}
	if _, ok := q.remote[normalizeProvince(dest.Province)]; ok {
		fee = fee.Mul(decimal.NewFromInt(1).Add(q.remoteSurcharge))
	}
	return fee.Round(0).IntPart(), nil
}

func normalizeProvince(p string) string {
	return strings.ToLower(strings.Join(strings.Fields(p), " "))
}
