package assets

import (
	"context"
	"errors"
	"math/big"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

// Gateway settles escrow transfers against a Book. Token pulls spend the funder's
// allowance to the escrow account; native pulls debit the funder's attached balance.
type Gateway struct {
	book   Book
	escrow string
}

func NewGateway(book Book, escrowAccount string) *Gateway {
	return &Gateway{book: book, escrow: domain.NormalizePrincipal(escrowAccount)}
}

func (g *Gateway) EscrowAccount() string { return g.escrow }

func (g *Gateway) Pull(ctx context.Context, asset, from string, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if domain.IsNullAsset(asset) {
		return g.book.Transfer(ctx, domain.NullAsset, from, g.escrow, amount)
	}
	return g.book.TransferFrom(ctx, asset, g.escrow, from, g.escrow, amount)
}

func (g *Gateway) Push(ctx context.Context, asset, to string, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := g.book.Transfer(ctx, asset, g.escrow, to, amount)
	if domain.IsNullAsset(asset) && errors.Is(err, ports.ErrInsufficientBalance) {
		return ports.ErrTransferFailed
	}
	return err
}
