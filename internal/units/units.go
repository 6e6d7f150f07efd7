// Package units converts between integer base units (wei) and decimal display
// amounts.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	EtherDecimals = 18
	GweiDecimals  = 9
)

// FormatUnits renders v as a decimal with the given number of fractional digits,
// trailing zeros trimmed.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// ParseUnits parses a decimal amount into base units. It fails on negative values
// and on amounts with more fractional digits than decimals allows.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Mul(decimal.New(1, decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

func FormatEther(wei *big.Int) string { return FormatUnits(wei, EtherDecimals) }

func ParseEther(s string) (*big.Int, error) { return ParseUnits(s, EtherDecimals) }

func FormatGwei(wei *big.Int) string { return FormatUnits(wei, GweiDecimals) }
