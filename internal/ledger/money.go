package ledger

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/govalues/money"
)

// Currency is the single currency every amount is denominated in.
const Currency = "USD"

// MaxAmount bounds any single amount at 999 999.99.
const MaxAmount int64 = 99_999_999

// ParseAmount converts a decimal string such as "12.50" or "-3" into minor
// units. More than two decimal places is rejected rather than rounded.
func ParseAmount(s string) (int64, error) {
	a, err := money.ParseAmount(Currency, s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if a.Decimal().Trim(0).Scale() > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	units, ok := a.MinorUnits()
	if !ok || units > MaxAmount || units < -MaxAmount {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	return units, nil
}

// FormatAmount renders minor units as a JSON number with two decimals.
func FormatAmount(units int64) json.Number {
	a, err := money.NewAmountFromMinorUnits(Currency, units)
	if err != nil {
		return json.Number("0.00")
	}
	return json.Number(a.Decimal().String())
}

// Percentage returns part/whole*100 rounded to two decimals and clamped to [0, 100].
// A non-positive whole yields 0.
func Percentage(part, whole int64) float64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	p := math.Round(float64(part)*10000/float64(whole)) / 100
	if p > 100 {
		return 100
	}
	return p
}
