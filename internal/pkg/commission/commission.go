// Package commission splits a sale price into the platform fee and the
// producer's net amount. All amounts are integer minor units (cents).
package commission

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
)

const (
	// MinimumPriceMinor is the lowest price a pack can be listed for ($0.99).
	MinimumPriceMinor int64 = 99
	// MaximumPriceMinor caps listings at $9,999.99.
	MaximumPriceMinor int64 = 999_999
)

var (
	ErrBelowMinimum  = apperr.Validation("price must be at least $0.99")
	ErrAboveMaximum  = apperr.Validation("price must be at most $9999.99")
	ErrInvalidPrice  = apperr.Validation("price must be a decimal amount like 9.99")
	ErrTooManyDigits = apperr.Validation("price must have at most two decimal places")
)

// Rate is a named platform fee rate.
type Rate struct {
	name  string
	value decimal.Decimal
}

// The two product lines charge different fees on purpose: packs sold
// through the PayPal marketplace keep 3%, sample packs sold through Stripe
// Checkout keep 20%.
var (
	PackMarketplaceRate    = Rate{name: "pack_marketplace", value: decimal.RequireFromString("0.03")}
	SamplePackCheckoutRate = Rate{name: "sample_pack_checkout", value: decimal.RequireFromString("0.20")}
)

func (r Rate) Name() string { return r.name }

// Percent returns the rate as a percentage string, e.g. "3" or "20".
func (r Rate) Percent() string { return r.value.Shift(2).String() }

// Breakdown is the result of splitting a gross amount.
type Breakdown struct {
	Gross      int64 `json:"gross"`
	Commission int64 `json:"commission"`
	Net        int64 `json:"net"`
}

// Split computes commission = round(gross * rate) and net = gross - commission.
// Commission + Net always equals Gross.
func Split(gross int64, rate Rate) (Breakdown, error) {
	if gross < MinimumPriceMinor {
		return Breakdown{}, ErrBelowMinimum
	}
	fee := decimal.NewFromInt(gross).Mul(rate.value).Round(0).IntPart()
	return Breakdown{
		Gross:      gross,
		Commission: fee,
		Net:        gross - fee,
	}, nil
}

// ParsePrice converts a user supplied amount ("9.99", "$12") to minor units.
func ParsePrice(raw string) (int64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "$")
	if s == "" {
		return 0, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	if !d.Equal(d.Truncate(2)) {
		return 0, ErrTooManyDigits
	}
	// Bounds are checked on the decimal since IntPart wraps beyond int64.
	if d.LessThan(decimal.New(MinimumPriceMinor, -2)) {
		return 0, ErrBelowMinimum
	}
	if d.GreaterThan(decimal.New(MaximumPriceMinor, -2)) {
		return 0, ErrAboveMaximum
	}
	return d.Shift(2).IntPart(), nil
}

// ValidatePrice enforces the listing bounds on an amount in minor units.
func ValidatePrice(minor int64) error {
	if minor < MinimumPriceMinor {
		return ErrBelowMinimum
	}
	if minor > MaximumPriceMinor {
		return ErrAboveMaximum
	}
	return nil
}

// FormatMinor renders minor units as a fixed two-decimal string ("9.99").
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
