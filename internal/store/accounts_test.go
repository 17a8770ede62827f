package store

import (
	"context"
	"errors"
	"testing"

	"copy-relay/internal/config"
)

func newTestAccounts(t *testing.T) *Accounts {
	t.Helper()

	s, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	accounts, err := NewAccounts(s, nil)
	if err != nil {
		t.Fatalf("NewAccounts returned error: %v", err)
	}
	return accounts
}

func TestAccounts_TraderLifecycle(t *testing.T) {
	accounts := newTestAccounts(t)
	ctx := context.Background()

	created, err := accounts.CreateTrader(ctx, Trader{
		APIKey:    "trader_key",
		APISecret: "trader_secret",
		Email:     "trader@mail.com",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if created.StreamOpen {
		t.Errorf("new trader must start with stream_open=false")
	}

	if _, err := accounts.CreateTrader(ctx, Trader{
		APIKey: "k", APISecret: "s", Email: "trader@mail.com", IsActive: true,
	}); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}

	got, err := accounts.GetTraderByEmail(ctx, "trader@mail.com")
	if err != nil {
		t.Fatalf("GetTraderByEmail returned error: %v", err)
	}
	if got.ID != created.ID || got.APIKey != "trader_key" {
		t.Errorf("unexpected trader: %+v", got)
	}

	got.IsActive = false
	got.APIKey = "rotated"
	updated, err := accounts.UpdateTrader(ctx, got)
	if err != nil {
		t.Fatalf("UpdateTrader returned error: %v", err)
	}
	if updated.IsActive || updated.APIKey != "rotated" {
		t.Errorf("update not applied: %+v", updated)
	}

	if err := accounts.DeleteTrader(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTrader returned error: %v", err)
	}
	if _, err := accounts.GetTrader(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := accounts.DeleteTrader(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestAccounts_AwaitingStreamQuery(t *testing.T) {
	accounts := newTestAccounts(t)
	ctx := context.Background()

	active, err := accounts.CreateTrader(ctx, Trader{APIKey: "a", APISecret: "a", Email: "active@mail.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}
	if _, err := accounts.CreateTrader(ctx, Trader{APIKey: "b", APISecret: "b", Email: "inactive@mail.com", IsActive: false}); err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}
	streaming, err := accounts.CreateTrader(ctx, Trader{APIKey: "c", APISecret: "c", Email: "streaming@mail.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}
	if ok, err := accounts.ClaimStream(ctx, streaming.ID); err != nil || !ok {
		t.Fatalf("ClaimStream = (%v, %v), want (true, nil)", ok, err)
	}

	waiting, err := accounts.ListTradersAwaitingStream(ctx)
	if err != nil {
		t.Fatalf("ListTradersAwaitingStream returned error: %v", err)
	}
	if len(waiting) != 1 || waiting[0].ID != active.ID {
		t.Fatalf("expected only the active non-streaming trader, got %+v", waiting)
	}

	// 关闭回调释放标记后，账户应重新进入调度范围。
	if err := accounts.ReleaseStream(ctx, streaming.ID); err != nil {
		t.Fatalf("ReleaseStream returned error: %v", err)
	}
	waiting, err = accounts.ListTradersAwaitingStream(ctx)
	if err != nil {
		t.Fatalf("ListTradersAwaitingStream returned error: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected two eligible traders after release, got %d", len(waiting))
	}
}

func TestAccounts_ClaimStreamIsCompareAndSet(t *testing.T) {
	accounts := newTestAccounts(t)
	ctx := context.Background()

	trader, err := accounts.CreateTrader(ctx, Trader{APIKey: "k", APISecret: "s", Email: "cas@mail.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}

	first, err := accounts.ClaimStream(ctx, trader.ID)
	if err != nil {
		t.Fatalf("ClaimStream returned error: %v", err)
	}
	second, err := accounts.ClaimStream(ctx, trader.ID)
	if err != nil {
		t.Fatalf("ClaimStream returned error: %v", err)
	}
	if !first || second {
		t.Fatalf("claims = (%v, %v), want (true, false)", first, second)
	}
}

func TestAccounts_ResetStreamFlags(t *testing.T) {
	accounts := newTestAccounts(t)
	ctx := context.Background()

	for _, email := range []string{"t1@mail.com", "t2@mail.com"} {
		trader, err := accounts.CreateTrader(ctx, Trader{APIKey: "k", APISecret: "s", Email: email, IsActive: true})
		if err != nil {
			t.Fatalf("CreateTrader returned error: %v", err)
		}
		if ok, err := accounts.ClaimStream(ctx, trader.ID); err != nil || !ok {
			t.Fatalf("ClaimStream = (%v, %v), want (true, nil)", ok, err)
		}
	}

	if err := accounts.ResetStreamFlags(ctx); err != nil {
		t.Fatalf("ResetStreamFlags returned error: %v", err)
	}

	waiting, err := accounts.ListTradersAwaitingStream(ctx)
	if err != nil {
		t.Fatalf("ListTradersAwaitingStream returned error: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected all traders eligible after reset, got %d", len(waiting))
	}
}

func TestAccounts_FollowersCascade(t *testing.T) {
	accounts := newTestAccounts(t)
	ctx := context.Background()

	trader, err := accounts.CreateTrader(ctx, Trader{APIKey: "k", APISecret: "s", Email: "owner@mail.com", IsActive: true})
	if err != nil {
		t.Fatalf("CreateTrader returned error: %v", err)
	}

	for _, email := range []string{"f1@mail.com", "f2@mail.com"} {
		if _, err := accounts.CreateFollower(ctx, Follower{
			APIKey: "fk", APISecret: "fs", Email: email, TraderID: trader.ID,
		}); err != nil {
			t.Fatalf("CreateFollower returned error: %v", err)
		}
	}

	if _, err := accounts.CreateFollower(ctx, Follower{
		APIKey: "fk", APISecret: "fs", Email: "orphan@mail.com", TraderID: 9999,
	}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing trader, got %v", err)
	}

	followers, err := accounts.ListFollowersOf(ctx, trader.ID)
	if err != nil {
		t.Fatalf("ListFollowersOf returned error: %v", err)
	}
	if len(followers) != 2 {
		t.Fatalf("expected 2 followers, got %d", len(followers))
	}

	if err := accounts.DeleteTrader(ctx, trader.ID); err != nil {
		t.Fatalf("DeleteTrader returned error: %v", err)
	}
	remaining, err := accounts.ListFollowers(ctx)
	if err != nil {
		t.Fatalf("ListFollowers returned error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected cascade delete of followers, got %d left", len(remaining))
	}
}
