package assets

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/viralforge/chainraise/internal/domain"
)

// ParseUnits converts a decimal string in whole token units ("10.5") into base units
// for a token with the given decimals. Values finer than one base unit are rejected.
func ParseUnits(value string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: parse units %q", domain.ErrInvalidInput, value)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative units %q", domain.ErrInvalidInput, value)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", domain.ErrInvalidInput, value, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a decimal string in whole token units.
func FormatUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(domain.CloneAmount(amount), -decimals).String()
}
