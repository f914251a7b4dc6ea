package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/viralforge/chainraise/internal/adapters/assets"
	eventadapter "github.com/viralforge/chainraise/internal/adapters/events"
	"github.com/viralforge/chainraise/internal/adapters/postgres"
)

func TestAssetBookFollowsStorage(t *testing.T) {
	if _, ok := assetBook(nil).(*assets.Ledger); !ok {
		t.Fatalf("memory storage must use the in-process ledger")
	}

	db, err := gorm.Open(sqlite.Open("file:bootstrap_book?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := postgres.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	book := assetBook(db)
	if _, ok := book.(*postgres.AssetBook); !ok {
		t.Fatalf("database storage must persist the asset book, got %T", book)
	}
	ctx := context.Background()
	if err := book.Mint(ctx, assets.DefaultTokens[0].Address, "escrow", big.NewInt(3)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, err := assetBook(db).BalanceOf(ctx, assets.DefaultTokens[0].Address, "escrow")
	if err != nil || got.String() != "3" {
		t.Fatalf("a fresh book over the same database must see the balance, got %v (%v)", got, err)
	}
}

func TestEventReaderOnlyInRelayProcess(t *testing.T) {
	log := eventadapter.NewMemoryLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if eventReader(Config{OutboxInProcess: true}, log) == nil {
		t.Fatalf("expected the event log when the relay runs in process")
	}
	if r := eventReader(Config{OutboxInProcess: false}, log); r != nil {
		t.Fatalf("expected no event log when a separate worker relays, got %T", r)
	}
}
