package domain

import (
	"math/big"
	"strings"
)

// ParseAmount parses a base-10 unsigned integer of arbitrary size.
func ParseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") {
		return nil, ErrInvalidInput
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, ErrInvalidInput
	}
	return v, nil
}

// CloneAmount returns an independent copy; nil becomes zero.
func CloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func IsZeroAmount(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
