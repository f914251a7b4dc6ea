package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/viralforge/chainraise/internal/adapters/assets"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

const usdt = "0xdac17f958d2ee523a2206206994597c13d831ec7"

func bookBalance(t *testing.T, b assets.Book, asset, account string) string {
	t.Helper()
	v, err := b.BalanceOf(context.Background(), asset, account)
	require.NoError(t, err)
	return v.String()
}

func TestAssetBookMatchesTokenSemantics(t *testing.T) {
	ctx := context.Background()
	book := NewAssetBook(openTestDB(t), assets.DefaultTokens)
	amount := big.NewInt(10)

	err := book.TransferFrom(ctx, usdt, "escrow", "alice", "escrow", amount)
	require.ErrorIs(t, err, ports.ErrInsufficientAllowance)
	require.Equal(t, "ERC20: insufficient allowance", err.Error())

	require.NoError(t, book.Approve(ctx, usdt, "Alice", "escrow", amount))
	err = book.TransferFrom(ctx, usdt, "escrow", "alice", "escrow", amount)
	require.ErrorIs(t, err, ports.ErrInsufficientBalance)
	require.Equal(t, "ERC20: transfer amount exceeds balance", err.Error())

	require.NoError(t, book.Mint(ctx, usdt, "alice", amount))
	require.NoError(t, book.TransferFrom(ctx, usdt, "escrow", "alice", "escrow", big.NewInt(4)))
	require.Equal(t, "6", bookBalance(t, book, usdt, "alice"))
	require.Equal(t, "4", bookBalance(t, book, usdt, "escrow"))
	allowed, err := book.Allowance(ctx, usdt, "alice", "escrow")
	require.NoError(t, err)
	require.Equal(t, "6", allowed.String())

	require.ErrorIs(t, book.Approve(ctx, domain.NullAsset, "alice", "escrow", amount), domain.ErrInvalidToken)
	require.ErrorIs(t, book.Mint(ctx, usdt, "alice", big.NewInt(0)), domain.ErrInvalidAmount)
	require.ErrorIs(t, book.Transfer(ctx, usdt, "escrow", "bob", big.NewInt(5)), ports.ErrInsufficientBalance)
	require.Equal(t, "4", bookBalance(t, book, usdt, "escrow"), "a rejected transfer must not move value")
	require.Equal(t, int32(6), book.Token(usdt).Decimals)
}

func TestAssetBookSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repos := NewRepositories(db)
	c := seedCampaign(t, repos, "creator")

	before := assets.NewGateway(NewAssetBook(db, assets.DefaultTokens), "escrow")
	first := NewAssetBook(db, assets.DefaultTokens)
	require.NoError(t, first.Mint(ctx, c.Asset, "alice", big.NewInt(10)))
	require.NoError(t, first.Approve(ctx, c.Asset, "alice", "escrow", big.NewInt(10)))
	require.NoError(t, before.Pull(ctx, c.Asset, "alice", big.NewInt(10)))

	restarted := NewAssetBook(db, assets.DefaultTokens)
	after := assets.NewGateway(restarted, "escrow")
	require.Equal(t, "10", bookBalance(t, restarted, c.Asset, "escrow"))
	require.NoError(t, after.Push(ctx, c.Asset, "creator", big.NewInt(10)))
	require.Equal(t, "10", bookBalance(t, restarted, c.Asset, "creator"))
	require.Equal(t, "0", bookBalance(t, restarted, c.Asset, "escrow"))
}

func TestAssetBookNativeSelfTransfer(t *testing.T) {
	ctx := context.Background()
	book := NewAssetBook(openTestDB(t), nil)
	require.NoError(t, book.Mint(ctx, domain.NullAsset, "bob", big.NewInt(3)))
	require.NoError(t, book.Transfer(ctx, domain.NullAsset, "bob", "bob", big.NewInt(3)))
	require.ErrorIs(t, book.Transfer(ctx, domain.NullAsset, "bob", "bob", big.NewInt(4)), ports.ErrInsufficientBalance)
	require.Equal(t, "3", bookBalance(t, book, domain.NullAsset, "bob"))
	require.ErrorIs(t, book.TransferFrom(ctx, domain.NullAsset, "escrow", "bob", "escrow", big.NewInt(1)), domain.ErrInvalidToken)
}
