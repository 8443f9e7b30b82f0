// Package units converts between human-readable token amounts and base units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a decimal string like "1.5" into the smallest unit for a token
// with the given decimals. Fractional digits beyond decimals are rejected.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %s: %w", amount, err)
	}
	base := d.Shift(int32(decimals))
	if !base.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return base.BigInt(), nil
}

// FromBaseUnits renders a base-unit amount as a decimal string with trailing zeros trimmed.
func FromBaseUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	if decimals <= 0 {
		return v.String()
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// FromBaseUnitsString is FromBaseUnits for a decimal integer string.
func FromBaseUnitsString(raw string, decimals int) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", fmt.Errorf("invalid base unit amount: %q", raw)
	}
	return FromBaseUnits(v, decimals), nil
}
