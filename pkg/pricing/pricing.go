// Package pricing computes a variant's price from the market rate, its
// resolved attributes and its locked base price. Arithmetic is decimal and
// only the final amount is rounded.
package pricing

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/catalog-price-sync/pkg/attributes"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned for negative inputs.
var ErrInvalidInput = errors.New("invalid pricing input")

// Places is the number of decimal places of FinalAmount.
const Places = 2

// Quote is the breakdown of one computed price.
type Quote struct {
	BaseAmount         decimal.Decimal
	MarketComponent    decimal.Decimal
	MakingComponent    decimal.Decimal
	AuxiliaryComponent decimal.Decimal
	Subtotal           decimal.Decimal
	TaxComponent       decimal.Decimal

	// FinalAmount is Subtotal plus TaxComponent rounded half-up to Places.
	FinalAmount decimal.Decimal
}

// Compute evaluates:
//
//	market   = rate × weight
//	making   = market × making% / 100
//	subtotal = base + market + auxiliary + making
//	tax      = subtotal × tax% / 100
//	final    = round(subtotal + tax, 2)
func Compute(marketRate decimal.Decimal, attrs attributes.AttributeSet, base decimal.Decimal) (Quote, error) {
	inputs := []struct {
		name string
		v    decimal.Decimal
	}{
		{"market rate", marketRate},
		{"base amount", base},
		{"weight", attrs.Weight},
		{"auxiliary cost", attrs.AuxiliaryCost},
		{"making charge percent", attrs.MakingChargePercent},
		{"tax percent", attrs.TaxPercent},
	}
	for _, in := range inputs {
		if in.v.IsNegative() {
			return Quote{}, fmt.Errorf("%w: %s is negative (%s)", ErrInvalidInput, in.name, in.v)
		}
	}

	market := marketRate.Mul(attrs.Weight)
	making := market.Mul(attrs.MakingChargePercent.Shift(-2))
	subtotal := base.Add(market).Add(attrs.AuxiliaryCost).Add(making)
	tax := subtotal.Mul(attrs.TaxPercent.Shift(-2))

	return Quote{
		BaseAmount:         base,
		MarketComponent:    market,
		MakingComponent:    making,
		AuxiliaryComponent: attrs.AuxiliaryCost,
		Subtotal:           subtotal,
		TaxComponent:       tax,
		FinalAmount:        subtotal.Add(tax).Round(Places),
	}, nil
}
