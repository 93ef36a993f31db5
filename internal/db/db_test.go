package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "finsim_test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleRun() RunSummary {
	return RunSummary{Seed: 42, NBanks: 10, NetworkType: "erdos_renyi", Steps: 50, Defaults: 2, Survivors: 8, FundLeft: 180.5}
}

func TestRunIDsMonotonic(t *testing.T) {
	d := openTestDB(t)
	first, err := d.InsertRun(sampleRun())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := d.InsertRun(sampleRun())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second <= first {
		t.Errorf("run ids not monotonic: %d then %d", first, second)
	}
}

func TestTickMetricsPersisted(t *testing.T) {
	d := openTestDB(t)
	runID, err := d.InsertRun(sampleRun())
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
	rows := []TickRow{
		{Tick: 1, Active: 10, TotalLiquidity: 2500, MarginRate: 0.031, DefaultFund: 200},
		{Tick: 2, Active: 9, Defaults: 1, Stressed: 3, Frozen: false, Panic: true, MarginRate: 0.046},
	}
	if err := d.InsertTicks(runID, rows); err != nil {
		t.Fatalf("insert ticks: %v", err)
	}
	n, err := d.TickCount(runID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("persisted %d ticks, want 2", n)
	}
}

func TestIntentLogPersisted(t *testing.T) {
	d := openTestDB(t)
	runID, err := d.InsertRun(sampleRun())
	if err != nil {
		t.Fatalf("insert run: %v", err)
	}
	rows := []IntentRow{
		{IntentID: "a-1", Tick: 1, AgentID: "bank_00", ActionType: "hoard_liquidity", Visibility: "private", Payload: `{"estimated_recovery":2.5}`},
		{IntentID: "a-2", Tick: 1, AgentID: "ccp_main", ActionType: "issue_margin_call", Visibility: "private", Payload: `{}`},
	}
	if err := d.InsertIntents(runID, rows); err != nil {
		t.Fatalf("insert intents: %v", err)
	}
	n, err := d.IntentCount(runID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("persisted %d intents, want 2", n)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	d := openTestDB(t)
	if err := d.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if _, err := d.InsertRun(sampleRun()); err != nil {
		t.Fatalf("insert after re-migrate: %v", err)
	}
}
