package medchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of wei decimals in one ether
const EtherDecimals = 18

// DefaultPricePerUnit is the per-unit price in ether
const DefaultPricePerUnit = "0.02"

// ParseAmount converts a decimal string to its smallest-unit integer.
// Unlike a float conversion it is exact; amounts with more fractional digits
// than decimals are rejected rather than rounded.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", amount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FormatAmount converts a smallest-unit integer to a decimal string
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseEther converts an ether amount such as "0.02" to wei
func ParseEther(amount string) (*big.Int, error) {
	return ParseAmount(amount, EtherDecimals)
}

// FormatEther renders wei as an ether decimal string
func FormatEther(wei *big.Int) string {
	return FormatAmount(wei, EtherDecimals)
}

// TotalCost returns pricePerUnit * quantity in wei
func TotalCost(pricePerUnit *big.Int, quantity uint64) *big.Int {
	return new(big.Int).Mul(pricePerUnit, new(big.Int).SetUint64(quantity))
}
