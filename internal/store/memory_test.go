package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aegis-trader/paper-engine/internal/ledger"
	"github.com/aegis-trader/paper-engine/internal/model"
	"github.com/aegis-trader/paper-engine/internal/store"

	"github.com/shopspring/decimal"
)

func TestMemoryStore_UnknownUser(t *testing.T) {
	ms := store.NewMemoryStore()

	_, err := ms.LoadAccount(context.Background(), "nobody")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	acct := ledger.New()
	acct, _, err := ledger.Apply(acct, ledger.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, Price: decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := ms.SaveAccount(ctx, "demo", &acct); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := ms.LoadAccount(ctx, "demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !loaded.CashBalance.Equal(acct.CashBalance) {
		t.Errorf("balance mismatch: %s vs %s", loaded.CashBalance, acct.CashBalance)
	}
	if len(loaded.Positions) != 1 || loaded.Positions[0].Symbol != "AAPL" {
		t.Errorf("positions did not round-trip: %+v", loaded.Positions)
	}
	if len(loaded.Orders) != 1 || loaded.Orders[0].ID != acct.Orders[0].ID {
		t.Errorf("orders did not round-trip: %+v", loaded.Orders)
	}
}

func TestMemoryStore_SavedCopyIsIsolated(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	acct := ledger.New()
	acct, _, _ = ledger.Apply(acct, ledger.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, Price: decimal.NewFromInt(150),
	})
	ms.SaveAccount(ctx, "demo", &acct)

	// Mutating the caller's copy must not affect the stored state.
	acct.Positions[0].Shares = 999

	loaded, _ := ms.LoadAccount(ctx, "demo")
	if loaded.Positions[0].Shares != 10 {
		t.Errorf("stored state shared memory with caller: %d", loaded.Positions[0].Shares)
	}
}
