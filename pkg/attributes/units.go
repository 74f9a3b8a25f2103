package attributes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is a mass unit.
type Unit string

const (
	Gram     Unit = "g"
	Kilogram Unit = "kg"
	Ounce    Unit = "oz"
	Pound    Unit = "lb"
)

var gramsPer = map[Unit]decimal.Decimal{
	Gram:     decimal.NewFromInt(1),
	Kilogram: decimal.NewFromInt(1000),
	Ounce:    decimal.RequireFromString("28.349523125"),
	Pound:    decimal.RequireFromString("453.59237"),
}

// ParseUnit accepts short symbols and the upper-case names used by weight
// metafields ("GRAMS", "KILOGRAMS", "OUNCES", "POUNDS").
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "g", "gram", "grams":
		return Gram, nil
	case "kg", "kilogram", "kilograms":
		return Kilogram, nil
	case "oz", "ounce", "ounces":
		return Ounce, nil
	case "lb", "lbs", "pound", "pounds":
		return Pound, nil
	default:
		return "", fmt.Errorf("unknown mass unit %q", s)
	}
}

// Convert converts v from one unit to another.
func Convert(v decimal.Decimal, from, to Unit) decimal.Decimal {
	if from == to {
		return v
	}
	return v.Mul(gramsPer[from]).Div(gramsPer[to])
}

// weightValue is the JSON shape of a weight metafield.
type weightValue struct {
	Value json.Number `json:"value"`
	Unit  string      `json:"unit"`
}

// parseWeight parses a plain number (already in unit) or a weight object and
// returns the mass expressed in unit.
func parseWeight(raw string, unit Unit) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return decimal.NewFromString(raw)
	}

	var wv weightValue
	if err := json.Unmarshal([]byte(raw), &wv); err != nil {
		return decimal.Zero, fmt.Errorf("weight object: %w", err)
	}
	v, err := decimal.NewFromString(wv.Value.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("weight value: %w", err)
	}
	from := unit
	if wv.Unit != "" {
		if from, err = ParseUnit(wv.Unit); err != nil {
			return decimal.Zero, err
		}
	}
	return Convert(v, from, unit), nil
}
