package domain

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the scale of the native currency and of hosted tokens.
const EtherDecimals = 18

// 2^256-1 has 78 decimal digits.
const maxUint256Digits = 78

var ErrFractionalAmount = errors.New("amount has more decimals than the asset")

// ToBaseUnits scales a decimal amount by 10^decimals. Amounts that are
// negative, too precise or past 2^256-1 are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*uint256.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", amount)
	}
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	// Exponent notation keeps short strings with huge exponents. Bound the scale
	// from the coefficient before Shift or Truncate materialise 10^exponent.
	digits := int64(amount.NumDigits())
	scale := int64(amount.Exponent()) + int64(decimals)
	if digits+scale > maxUint256Digits {
		return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, amount)
	}
	if -scale >= digits {
		return nil, fmt.Errorf("%w: %s", ErrFractionalAmount, amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrFractionalAmount, amount)
	}
	value, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, amount)
	}
	return value, nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(amount *uint256.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals)
}

// ParseAmount reads a base-unit decimal string.
func ParseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}
