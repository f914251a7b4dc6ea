package ports

import (
	"context"
	"errors"
	"math/big"
)

// Gateway failures. Adapters return these values unchanged so callers can tell a
// balance or approval problem apart from a settlement rule violation.
var (
	ErrInsufficientBalance   = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("ERC20: insufficient allowance")
	ErrTransferFailed        = errors.New("transfer failed")
)

// AssetGateway moves value between principals and the escrow. It is untrusted: an
// implementation may call back into the service while a transfer is in flight.
type AssetGateway interface {
	Pull(ctx context.Context, asset, from string, amount *big.Int) error
	Push(ctx context.Context, asset, to string, amount *big.Int) error
}
