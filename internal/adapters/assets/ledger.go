package assets

import (
	"context"
	"math/big"
	"sync"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

type allowanceKey struct {
	owner   string
	spender string
}

// Ledger is an in-memory multi-asset balance sheet with ERC-20 style allowances.
// The null asset holds native balances and has no allowances.
type Ledger struct {
	*TokenRegistry

	mu         sync.Mutex
	balances   map[string]map[string]*big.Int
	allowances map[string]map[allowanceKey]*big.Int
}

var _ Book = (*Ledger)(nil)

func NewLedger(tokens []TokenInfo) *Ledger {
	return &Ledger{
		TokenRegistry: NewTokenRegistry(tokens),
		balances:      make(map[string]map[string]*big.Int),
		allowances:    make(map[string]map[allowanceKey]*big.Int),
	}
}

// Mint credits amount to account out of thin air, like the test tokens' claim faucet.
func (l *Ledger) Mint(_ context.Context, asset, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(domain.NormalizeAsset(asset), domain.NormalizePrincipal(to), amount)
	return nil
}

func (l *Ledger) Approve(_ context.Context, asset, owner, spender string, amount *big.Int) error {
	asset = domain.NormalizeAsset(asset)
	if domain.IsNullAsset(asset) {
		return domain.ErrInvalidToken
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	book, ok := l.allowances[asset]
	if !ok {
		book = make(map[allowanceKey]*big.Int)
		l.allowances[asset] = book
	}
	book[allowanceKey{owner: domain.NormalizePrincipal(owner), spender: domain.NormalizePrincipal(spender)}] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, asset, account string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CloneAmount(l.balances[domain.NormalizeAsset(asset)][domain.NormalizePrincipal(account)]), nil
}

func (l *Ledger) Allowance(_ context.Context, asset, owner, spender string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner: domain.NormalizePrincipal(owner), spender: domain.NormalizePrincipal(spender)}
	return domain.CloneAmount(l.allowances[domain.NormalizeAsset(asset)][key]), nil
}

func (l *Ledger) Transfer(_ context.Context, asset, from, to string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(domain.NormalizeAsset(asset), domain.NormalizePrincipal(from), domain.NormalizePrincipal(to), amount)
}

// TransferFrom moves amount on behalf of from. The allowance is checked before the
// balance, matching the order in which token contracts revert.
func (l *Ledger) TransferFrom(_ context.Context, asset, spender, from, to string, amount *big.Int) error {
	asset = domain.NormalizeAsset(asset)
	if domain.IsNullAsset(asset) {
		return domain.ErrInvalidToken
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	from = domain.NormalizePrincipal(from)
	key := allowanceKey{owner: from, spender: domain.NormalizePrincipal(spender)}

	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := domain.CloneAmount(l.allowances[asset][key])
	if allowed.Cmp(amount) < 0 {
		return ports.ErrInsufficientAllowance
	}
	if err := l.move(asset, from, domain.NormalizePrincipal(to), amount); err != nil {
		return err
	}
	if book, ok := l.allowances[asset]; ok {
		book[key] = allowed.Sub(allowed, amount)
	}
	return nil
}

func (l *Ledger) move(asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	have := domain.CloneAmount(l.balances[asset][from])
	if have.Cmp(amount) < 0 {
		return ports.ErrInsufficientBalance
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.balances[asset][from] = have.Sub(have, amount)
	l.credit(asset, to, amount)
	return nil
}

func (l *Ledger) credit(asset, to string, amount *big.Int) {
	book, ok := l.balances[asset]
	if !ok {
		book = make(map[string]*big.Int)
		l.balances[asset] = book
	}
	book[to] = new(big.Int).Add(domain.CloneAmount(book[to]), amount)
}
