package assets

import (
	"context"
	"math/big"

	"github.com/viralforge/chainraise/internal/domain"
)

const NativeDecimals int32 = 18

type TokenInfo struct {
	Address  string
	Symbol   string
	Decimals int32
}

// DefaultTokens are the stablecoin stand-ins a sandbox deployment starts with.
var DefaultTokens = []TokenInfo{
	{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Decimals: 6},
	{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6},
}

// Book is the balance sheet a Gateway settles against. Transfer and TransferFrom
// fail with the token contract's revert messages.
type Book interface {
	Token(asset string) TokenInfo
	Mint(ctx context.Context, asset, to string, amount *big.Int) error
	Approve(ctx context.Context, asset, owner, spender string, amount *big.Int) error
	BalanceOf(ctx context.Context, asset, account string) (*big.Int, error)
	Allowance(ctx context.Context, asset, owner, spender string) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error
	TransferFrom(ctx context.Context, asset, spender, from, to string, amount *big.Int) error
}

// TokenRegistry holds token metadata. It is fixed after construction.
type TokenRegistry struct {
	tokens map[string]TokenInfo
}

func NewTokenRegistry(tokens []TokenInfo) *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]TokenInfo, len(tokens))}
	for _, t := range tokens {
		t.Address = domain.NormalizeAsset(t.Address)
		r.tokens[t.Address] = t
	}
	return r
}

// Token returns metadata for asset. Unregistered tokens report 18 decimals.
func (r *TokenRegistry) Token(asset string) TokenInfo {
	asset = domain.NormalizeAsset(asset)
	if domain.IsNullAsset(asset) {
		return TokenInfo{Address: domain.NullAsset, Symbol: "NATIVE", Decimals: NativeDecimals}
	}
	if t, ok := r.tokens[asset]; ok {
		return t
	}
	return TokenInfo{Address: asset, Decimals: NativeDecimals}
}

func (r *TokenRegistry) Tokens() []TokenInfo {
	out := make([]TokenInfo, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}
