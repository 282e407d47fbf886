// Package currency knows which currencies the store sells in, their minor
// unit exponents, and approximate rates against the base currency (USD).
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const Base = "USD"

type info struct {
	exponent int32
	perUSD   decimal.Decimal
	region   string
}

// Approximate rates; only used to report base-currency equivalents.
var currencies = map[string]info{
	"USD": {exponent: 2, perUSD: decimal.NewFromInt(1), region: "US"},
	"EUR": {exponent: 2, perUSD: decimal.RequireFromString("0.92"), region: "EU"},
	"GBP": {exponent: 2, perUSD: decimal.RequireFromString("0.79"), region: "GB"},
	"KES": {exponent: 2, perUSD: decimal.RequireFromString("129.5"), region: "KE"},
	"NGN": {exponent: 2, perUSD: decimal.RequireFromString("1580"), region: "NG"},
	"ZAR": {exponent: 2, perUSD: decimal.RequireFromString("18.6"), region: "ZA"},
	"JPY": {exponent: 0, perUSD: decimal.RequireFromString("149.8"), region: "JP"},
}

// Normalize upper-cases code and checks that it is supported.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("unsupported currency: %q", code)
	}
	return c, nil
}

func Supported(code string) bool {
	_, err := Normalize(code)
	return err == nil
}

// ToMinorUnits converts a major-unit amount, rounding to the nearest minor unit
// (19.99 USD -> 1999).
func ToMinorUnits(amount float64, code string) (int64, error) {
	c, err := Normalize(code)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromFloat(amount).Shift(currencies[c].exponent).Round(0).IntPart(), nil
}

// FromMinorUnits converts a minor-unit amount back to major units.
func FromMinorUnits(minor int64, code string) (float64, error) {
	c, err := Normalize(code)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(minor).Shift(-currencies[c].exponent).InexactFloat64(), nil
}

// RoundWhole rounds amount to the nearest integer, halves away from zero.
func RoundWhole(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(0).InexactFloat64()
}

// ToBase converts a major-unit amount into the base currency, rounded to cents.
func ToBase(amount float64, code string) (float64, error) {
	c, err := Normalize(code)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromFloat(amount).Div(currencies[c].perUSD).Round(2).InexactFloat64(), nil
}

// Sum adds major-unit amounts without float drift.
func Sum(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	return total.Round(2).InexactFloat64()
}

// Region returns the pricing region for a currency, or "" if unknown.
func Region(code string) string {
	c, err := Normalize(code)
	if err != nil {
		return ""
	}
	return currencies[c].region
}
