package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/govalues/decimal"
)

const (
	// AmountScale is the number of fractional digits stored for total_amount.
	AmountScale = 2
	// AmountPrecision is the total digit count of the total_amount column.
	AmountPrecision = 12

	// MaxNumberOfItems is the largest value the INTEGER number_of_items column holds.
	MaxNumberOfItems = 1<<31 - 1
)

// MaxAmount is the largest total_amount that fits NUMERIC(12,2).
var MaxAmount = decimal.MustParse("9999999999.99")

// ParseAmount parses a non-negative decimal amount and rounds it to AmountScale.
// Amounts that would not fit NUMERIC(AmountPrecision, AmountScale) after rounding are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.Parse(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a decimal: %q", s)
	}
	if d.IsNeg() {
		return decimal.Decimal{}, errors.New("must be non-negative")
	}
	if d.Scale() > AmountScale {
		d = d.Round(AmountScale)
	}
	if d.Cmp(MaxAmount) > 0 {
		return decimal.Decimal{}, fmt.Errorf("must not exceed %s", MaxAmount)
	}
	return d, nil
}
