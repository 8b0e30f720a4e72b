package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatUnits renders an amount in minor units as a decimal string in major
// units, e.g. FormatUnits(50000001, 6) == "50.000001".
func FormatUnits(minor int64, decimals int32) string {
	return decimal.New(minor, -decimals).StringFixed(decimals)
}

// FormatBigUnits is FormatUnits for on-chain values that may not fit in int64.
func FormatBigUnits(minor *big.Int, decimals int32) string {
	if minor == nil {
		return ""
	}
	return decimal.NewFromBigInt(minor, -decimals).StringFixed(decimals)
}
