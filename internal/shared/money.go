package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBadDecimal tags boundary parse failures so the transport can map them
// to a client error instead of a 500.
var ErrBadDecimal = errors.New("invalid decimal input")

// Monetary values are stored and computed as integer minor currency units
// (cents); quantities as integer micro-units (scale 6). Decimal strings only
// appear at the API boundary.

// QuantityScale is the fixed decimal scale for quantities.
const QuantityScale = 6

var quantityFactor = decimal.New(1, QuantityScale)

// ParseMoney converts a boundary decimal string ("1050.00") into cents.
func ParseMoney(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, ErrBadDecimal)
	}
	if d.Exponent() < -2 {
		return 0, fmt.Errorf("amount %q has more than 2 decimal places: %w", s, ErrBadDecimal)
	}
	return d.Shift(2).IntPart(), nil
}

// FormatMoney renders cents as a two-place decimal string.
func FormatMoney(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseQuantity converts a boundary decimal string into micro-units.
func ParseQuantity(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, ErrBadDecimal)
	}
	if d.Exponent() < -QuantityScale {
		return 0, fmt.Errorf("quantity %q has more than %d decimal places: %w", s, QuantityScale, ErrBadDecimal)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("quantity %q must be positive: %w", s, ErrBadDecimal)
	}
	return d.Shift(QuantityScale).IntPart(), nil
}

// FormatQuantity renders micro-units as a decimal string without trailing
// zeros beyond the first fractional place.
func FormatQuantity(micros int64) string {
	d := decimal.New(micros, -QuantityScale)
	if d.Equal(d.Truncate(0)) {
		return d.StringFixed(0)
	}
	return d.String()
}

// LineTotalCents computes round(quantity * unit price) in cents from a
// micro-unit quantity. Rounding is half away from zero, matching what the
// boundary reports for the same figures.
func LineTotalCents(qtyMicros, unitPriceCents int64) int64 {
	qty := decimal.New(qtyMicros, -QuantityScale)
	price := decimal.New(unitPriceCents, 0)
	return qty.Mul(price).Round(0).IntPart()
}
