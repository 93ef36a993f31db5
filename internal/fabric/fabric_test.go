package fabric

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"finsim/internal/intent"
)

func newTestManager() (*StateManager, *MemStore) {
	store := NewMemStore()
	return NewStateManager(store), store
}

func TestBankStateRoundTrip(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	want := BankState{Liquidity: 120.5, Capital: 300, TotalExposure: 45.25, Stressed: true, MissedPayment: true}
	if err := sm.PublishBankState(ctx, 3, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := sm.GetBankState(ctx, 3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPublicStreamNonDestructive(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	in := intent.NewDeclareDefault(4, "bank_01", "liquidity_exhaustion")
	if err := sm.RouteIntent(ctx, in); err != nil {
		t.Fatalf("route: %v", err)
	}
	for reader := 0; reader < 3; reader++ {
		got, err := sm.ReadPublicStream(ctx, 4)
		if err != nil {
			t.Fatalf("read %d: %v", reader, err)
		}
		if len(got) != 1 || got[0].IntentID != in.IntentID {
			t.Fatalf("reader %d saw %d intents", reader, len(got))
		}
	}
}

func TestPrivateStreamDrains(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	in := intent.NewBorrow(2, "bank_00", "bank_01", 10)
	if err := sm.RouteIntent(ctx, in); err != nil {
		t.Fatalf("route: %v", err)
	}
	got, err := sm.DrainPrivateStream(ctx, "bank_01")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first drain saw %d intents, want 1", len(got))
	}
	again, err := sm.DrainPrivateStream(ctx, "bank_01")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second drain saw %d intents, want 0", len(again))
	}
}

func TestPrivateRoutingMirrorsSender(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	in := intent.NewBorrow(2, "bank_00", "bank_01", 10)
	if err := sm.RouteIntent(ctx, in); err != nil {
		t.Fatalf("route: %v", err)
	}
	mine, err := sm.DrainPrivateStream(ctx, "bank_00")
	if err != nil {
		t.Fatalf("drain sender: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("sender mirror saw %d intents, want 1", len(mine))
	}
}

func TestRouteAlwaysAppendsAnalyticsQueue(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	pub := intent.NewDeclareDefault(1, "bank_02", "liquidity_exhaustion")
	priv := intent.NewBorrow(1, "bank_00", "bank_01", 5)
	for _, in := range []*intent.Intent{pub, priv} {
		if err := sm.RouteIntent(ctx, in); err != nil {
			t.Fatalf("route: %v", err)
		}
	}
	all, err := sm.AllIntents(ctx)
	if err != nil {
		t.Fatalf("all intents: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("queue has %d intents, want 2", len(all))
	}
	// emission order preserved
	if all[0].IntentID != pub.IntentID || all[1].IntentID != priv.IntentID {
		t.Error("analytics queue out of emission order")
	}
}

func TestMarginCallInboxDrains(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	call := intent.NewIssueMarginCall(5, "ccp_main", "bank_02", 18.5, 7, "exposure_over_threshold")
	if err := sm.PushMarginCall(ctx, 2, call); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := sm.DrainMarginCalls(ctx, 2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 1 || got[0].Float("margin_amount") != 18.5 {
		t.Fatalf("drained %d calls", len(got))
	}
	again, _ := sm.DrainMarginCalls(ctx, 2)
	if len(again) != 0 {
		t.Errorf("inbox not cleared: %d calls left", len(again))
	}
}

func TestRecordSaleAtomicAccumulation(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	// k-th seller sees the sum of the first k-1 quantities
	for k, qty := range []float64{10, 20, 30} {
		before, err := sm.CumulativeSales(ctx, 9, "liquid_bond")
		if err != nil {
			t.Fatalf("cumulative: %v", err)
		}
		var wantBefore float64
		for _, q := range []float64{10, 20, 30}[:k] {
			wantBefore += q
		}
		if math.Abs(before-wantBefore) > 1e-9 {
			t.Errorf("seller %d saw %v, want %v", k, before, wantBefore)
		}
		if _, err := sm.RecordSale(ctx, 9, "liquid_bond", qty); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	total, _ := sm.CumulativeSales(ctx, 9, "liquid_bond")
	if math.Abs(total-60) > 1e-9 {
		t.Errorf("total = %v, want 60", total)
	}
}

func TestRecentSalePressureWindow(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	for tick := 1; tick <= 5; tick++ {
		if _, err := sm.RecordSale(ctx, tick, "liquid_bond", 10); err != nil {
			t.Fatalf("record tick %d: %v", tick, err)
		}
	}
	// trailing 3 ticks at tick 5: ticks 3,4,5
	got, err := sm.RecentSalePressure(ctx, 5, "liquid_bond", 3)
	if err != nil {
		t.Fatalf("pressure: %v", err)
	}
	if math.Abs(got-30) > 1e-9 {
		t.Errorf("pressure = %v, want 30", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	sm, store := newTestManager()
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	in := intent.NewDeclareDefault(1, "bank_00", "liquidity_exhaustion")
	if err := sm.RouteIntent(ctx, in); err != nil {
		t.Fatalf("route: %v", err)
	}
	got, _ := sm.ReadPublicStream(ctx, 1)
	if len(got) != 1 {
		t.Fatalf("stream missing before expiry")
	}

	now = now.Add(streamTTL + time.Second)
	got, _ = sm.ReadPublicStream(ctx, 1)
	if len(got) != 0 {
		t.Errorf("stream survived past TTL: %d intents", len(got))
	}
}

func TestMalformedEntriesSkipped(t *testing.T) {
	sm, store := newTestManager()
	ctx := context.Background()
	if err := store.RPush(ctx, "stream:public:2", "{not json"); err != nil {
		t.Fatalf("push: %v", err)
	}
	in := intent.NewDeclareDefault(2, "bank_00", "liquidity_exhaustion")
	raw, _ := in.Encode()
	if err := store.RPush(ctx, "stream:public:2", string(raw)); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := sm.ReadPublicStream(ctx, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d intents, want 1 (malformed dropped)", len(got))
	}
}

func TestSnapshotAssembly(t *testing.T) {
	sm, _ := newTestManager()
	ctx := context.Background()
	if err := sm.PublishSystemState(ctx, map[string]float64{
		"step": 12, "n_banks": 2, "aggregate_liq": 500, "aggregate_exp": 80,
		"n_stressed": 1, "n_defaulted": 0,
	}); err != nil {
		t.Fatalf("publish system: %v", err)
	}
	if err := sm.SetSystemValue(ctx, "margin_rate", 0.045); err != nil {
		t.Fatalf("margin rate: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := sm.PublishBankState(ctx, i, BankState{Liquidity: float64(100 + i)}); err != nil {
			t.Fatalf("bank %d: %v", i, err)
		}
	}
	snap, err := sm.GetSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Step != 12 || snap.NBanks != 2 || snap.MarginRate != 0.045 {
		t.Errorf("snapshot header wrong: %+v", snap)
	}
	if len(snap.Banks) != 2 || snap.Banks[1].Liquidity != 101 {
		t.Errorf("snapshot banks wrong: %+v", snap.Banks)
	}
}

func TestFlushClearsEverything(t *testing.T) {
	sm, store := newTestManager()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Set(ctx, fmt.Sprintf("k%d", i), "v"); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := sm.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("keys survived flush: %v", keys)
	}
}
