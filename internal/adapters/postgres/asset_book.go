package postgres

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/viralforge/chainraise/internal/adapters/assets"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssetBook is the sandbox balance sheet kept in postgres, so escrow balances survive
// restarts and are shared by every replica. Each call is its own transaction; rows
// it touches are locked in key order.
type AssetBook struct {
	*assets.TokenRegistry
	db *gorm.DB
}

var _ assets.Book = (*AssetBook)(nil)

func NewAssetBook(db *gorm.DB, tokens []assets.TokenInfo) *AssetBook {
	return &AssetBook{TokenRegistry: assets.NewTokenRegistry(tokens), db: db}
}

func (b *AssetBook) Mint(ctx context.Context, asset, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	asset, to = domain.NormalizeAsset(asset), domain.NormalizePrincipal(to)
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		have, err := lockBalance(tx, asset, to)
		if err != nil {
			return err
		}
		return setBalance(tx, asset, to, have.Add(have, amount))
	})
}

func (b *AssetBook) Approve(ctx context.Context, asset, owner, spender string, amount *big.Int) error {
	asset = domain.NormalizeAsset(asset)
	if domain.IsNullAsset(asset) {
		return domain.ErrInvalidToken
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	m := allowanceModel{
		Asset:     asset,
		Owner:     domain.NormalizePrincipal(owner),
		Spender:   domain.NormalizePrincipal(spender),
		Amount:    toAmountColumn(amount),
		UpdatedAt: time.Now().UTC(),
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&m).Error
}

func (b *AssetBook) BalanceOf(ctx context.Context, asset, account string) (*big.Int, error) {
	var m balanceModel
	err := b.db.WithContext(ctx).
		Where("asset = ? AND account = ?", domain.NormalizeAsset(asset), domain.NormalizePrincipal(account)).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return fromAmountColumn(m.Amount)
}

func (b *AssetBook) Allowance(ctx context.Context, asset, owner, spender string) (*big.Int, error) {
	var m allowanceModel
	err := b.db.WithContext(ctx).
		Where("asset = ? AND owner = ? AND spender = ?", domain.NormalizeAsset(asset), domain.NormalizePrincipal(owner), domain.NormalizePrincipal(spender)).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return fromAmountColumn(m.Amount)
}

func (b *AssetBook) Transfer(ctx context.Context, asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	asset = domain.NormalizeAsset(asset)
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return move(tx, asset, domain.NormalizePrincipal(from), domain.NormalizePrincipal(to), amount)
	})
}

// TransferFrom checks the allowance before the balance, matching the order in which
// token contracts revert.
func (b *AssetBook) TransferFrom(ctx context.Context, asset, spender, from, to string, amount *big.Int) error {
	asset = domain.NormalizeAsset(asset)
	if domain.IsNullAsset(asset) {
		return domain.ErrInvalidToken
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	from, spender = domain.NormalizePrincipal(from), domain.NormalizePrincipal(spender)
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allowance allowanceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("asset = ? AND owner = ? AND spender = ?", asset, from, spender).
			Take(&allowance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			allowance.Amount = "0"
		} else if err != nil {
			return err
		}
		allowed, err := fromAmountColumn(allowance.Amount)
		if err != nil {
			return err
		}
		if allowed.Cmp(amount) < 0 {
			return ports.ErrInsufficientAllowance
		}
		if err := move(tx, asset, from, domain.NormalizePrincipal(to), amount); err != nil {
			return err
		}
		return tx.Model(&allowanceModel{}).
			Where("asset = ? AND owner = ? AND spender = ?", asset, from, spender).
			Updates(map[string]any{
				"amount":     toAmountColumn(allowed.Sub(allowed, amount)),
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

func move(tx *gorm.DB, asset, from, to string, amount *big.Int) error {
	if from == to {
		have, err := lockBalance(tx, asset, from)
		if err != nil {
			return err
		}
		if have.Cmp(amount) < 0 {
			return ports.ErrInsufficientBalance
		}
		return nil
	}
	accounts := []string{from, to}
	sort.Strings(accounts)
	held := make(map[string]*big.Int, 2)
	for _, account := range accounts {
		v, err := lockBalance(tx, asset, account)
		if err != nil {
			return err
		}
		held[account] = v
	}
	if held[from].Cmp(amount) < 0 {
		return ports.ErrInsufficientBalance
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := setBalance(tx, asset, from, held[from].Sub(held[from], amount)); err != nil {
		return err
	}
	return setBalance(tx, asset, to, held[to].Add(held[to], amount))
}

// lockBalance makes sure the balance row exists, then reads it under a row lock.
func lockBalance(tx *gorm.DB, asset, account string) (*big.Int, error) {
	seed := balanceModel{Asset: asset, Account: account, Amount: "0", UpdatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset"}, {Name: "account"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var m balanceModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset = ? AND account = ?", asset, account).
		Take(&m).Error; err != nil {
		return nil, err
	}
	return fromAmountColumn(m.Amount)
}

func setBalance(tx *gorm.DB, asset, account string, amount *big.Int) error {
	return tx.Model(&balanceModel{}).
		Where("asset = ? AND account = ?", asset, account).
		Updates(map[string]any{
			"amount":     toAmountColumn(amount),
			"updated_at": time.Now().UTC(),
		}).Error
}
