package quote

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToRaw rounds a human amount to the token's precision and returns it in
// the token's smallest unit.
func ToRaw(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Round(int32(decimals)).Shift(int32(decimals)).BigInt()
}

// FromRaw converts a raw integer into a human decimal
func FromRaw(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// FormatRaw renders a raw amount with exactly decimals fractional digits
func FormatRaw(raw *big.Int, decimals uint8) string {
	return FromRaw(raw, decimals).StringFixed(int32(decimals))
}

// EchoRaw renders a raw amount with trailing fractional zeros removed
func EchoRaw(raw *big.Int, decimals uint8) string {
	return FromRaw(raw, decimals).String()
}
