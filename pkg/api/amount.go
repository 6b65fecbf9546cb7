package api

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of every amount and price in an order record.
const Decimals = 18

var ErrBadAmount = errors.New("api: bad amount")

// ParseUnits converts a decimal string such as "0.2" into an integer scaled by
// 10^decimals. Values with more fractional digits than decimals are rejected
// rather than rounded.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadAmount, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrBadAmount, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrBadAmount, s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders v / 10^decimals without trailing zeros
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
