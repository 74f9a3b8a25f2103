// Package attributes resolves the per-variant pricing inputs stored in
// catalog metafields. Variant metafields take precedence over those of the
// owning item.
package attributes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/catalog-price-sync/pkg/catalog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrAttributeMissing is returned when no positive weight is configured.
// Such a variant is ineligible for pricing rather than broken.
var ErrAttributeMissing = errors.New("attribute missing")

// InvalidError reports an attribute whose value is not a non-negative number.
type InvalidError struct {
	Attribute string
	Value     string
	Err       error
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attribute %s has invalid value %q: %v", e.Attribute, e.Value, e.Err)
	}
	return fmt.Sprintf("attribute %s has invalid value %q", e.Attribute, e.Value)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Keys names the metafield for each pricing attribute.
type Keys struct {
	Weight        catalog.Key `yaml:"weight"`
	AuxiliaryCost catalog.Key `yaml:"auxiliary_cost"`
	MakingCharge  catalog.Key `yaml:"making_charge"`
	Tax           catalog.Key `yaml:"tax"`
}

// DefaultKeys returns the metafield keys used when none are configured.
func DefaultKeys() Keys {
	return Keys{
		Weight:        catalog.Key{Namespace: "custom", Key: "gold_weight"},
		AuxiliaryCost: catalog.Key{Namespace: "custom", Key: "additional_cost"},
		MakingCharge:  catalog.Key{Namespace: "custom", Key: "making_charge"},
		Tax:           catalog.Key{Namespace: "custom", Key: "tax_percent"},
	}
}

// AttributeSet holds the resolved pricing inputs of one variant.
// Absent optional attributes are zero.
type AttributeSet struct {
	Weight              decimal.Decimal
	AuxiliaryCost       decimal.Decimal
	MakingChargePercent decimal.Decimal
	TaxPercent          decimal.Decimal
}

// Source provides metafields. *catalog.API implements it.
type Source interface {
	ItemMetafields(ctx context.Context, itemID int64) ([]catalog.Metafield, error)
	VariantMetafields(ctx context.Context, variantID int64) ([]catalog.Metafield, error)
}

// Resolver resolves attribute sets from metafields.
type Resolver struct {
	source Source
	keys   Keys
	unit   Unit
	logger zerolog.Logger
}

// NewResolver creates a resolver reporting weights in unit.
func NewResolver(source Source, keys Keys, unit Unit) *Resolver {
	if unit == "" {
		unit = Gram
	}
	return &Resolver{
		source: source,
		keys:   keys,
		unit:   unit,
		logger: log.With().Str("component", "attributes").Logger(),
	}
}

// Resolve returns the attribute set of a variant. Each attribute is looked up
// on the variant first and on the item when the variant does not carry it.
// A variantID of 0 resolves item-level attributes only.
//
// It returns ErrAttributeMissing for an absent or zero weight and an
// *InvalidError for malformed or negative values. Other errors come from the
// metafield source.
func (r *Resolver) Resolve(ctx context.Context, itemID, variantID int64) (AttributeSet, error) {
	var variantFields []catalog.Metafield
	if variantID != 0 {
		fields, err := r.source.VariantMetafields(ctx, variantID)
		if err != nil {
			return AttributeSet{}, fmt.Errorf("variant %d metafields: %w", variantID, err)
		}
		variantFields = fields
	}

	var itemFields []catalog.Metafield
	itemLoaded := false
	lookup := func(k catalog.Key) (string, bool, error) {
		if mf, ok := catalog.Find(variantFields, k); ok && strings.TrimSpace(mf.Value) != "" {
			return mf.Value, true, nil
		}
		if !itemLoaded {
			fields, err := r.source.ItemMetafields(ctx, itemID)
			if err != nil {
				return "", false, fmt.Errorf("item %d metafields: %w", itemID, err)
			}
			itemFields, itemLoaded = fields, true
		}
		if mf, ok := catalog.Find(itemFields, k); ok && strings.TrimSpace(mf.Value) != "" {
			return mf.Value, true, nil
		}
		return "", false, nil
	}

	var set AttributeSet

	raw, ok, err := lookup(r.keys.Weight)
	if err != nil {
		return AttributeSet{}, err
	}
	if !ok {
		return AttributeSet{}, fmt.Errorf("%w: %s", ErrAttributeMissing, r.keys.Weight)
	}
	weight, err := parseWeight(raw, r.unit)
	if err != nil {
		return AttributeSet{}, &InvalidError{Attribute: r.keys.Weight.String(), Value: raw, Err: err}
	}
	if weight.IsNegative() {
		return AttributeSet{}, &InvalidError{Attribute: r.keys.Weight.String(), Value: raw, Err: errors.New("negative")}
	}
	if weight.IsZero() {
		return AttributeSet{}, fmt.Errorf("%w: %s is zero", ErrAttributeMissing, r.keys.Weight)
	}
	set.Weight = weight

	optional := []struct {
		key     catalog.Key
		percent bool
		dst     *decimal.Decimal
	}{
		{r.keys.AuxiliaryCost, false, &set.AuxiliaryCost},
		{r.keys.MakingCharge, true, &set.MakingChargePercent},
		{r.keys.Tax, true, &set.TaxPercent},
	}
	for _, o := range optional {
		if o.key.IsZero() {
			continue
		}
		raw, ok, err := lookup(o.key)
		if err != nil {
			return AttributeSet{}, err
		}
		if !ok {
			continue
		}
		v, err := parseAmount(raw, o.percent)
		if err != nil {
			return AttributeSet{}, &InvalidError{Attribute: o.key.String(), Value: raw, Err: err}
		}
		*o.dst = v
	}

	r.logger.Debug().
		Int64("product_id", itemID).
		Int64("variant_id", variantID).
		Str("weight", set.Weight.String()).
		Str("auxiliary_cost", set.AuxiliaryCost.String()).
		Str("making_charge_percent", set.MakingChargePercent.String()).
		Str("tax_percent", set.TaxPercent.String()).
		Msg("Resolved attributes")

	return set, nil
}

// parseAmount parses a non-negative decimal. Percentages may carry a
// trailing "%".
func parseAmount(raw string, percent bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if percent {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, errors.New("negative")
	}
	return v, nil
}
