package sim

import (
	"context"
	"reflect"
	"testing"

	"finsim/internal/config"
	"finsim/internal/logger"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NBanks = 6
	cfg.Steps = 15
	cfg.Seed = 42
	cfg.ShockStep = 5
	return cfg
}

func TestRunCompletes(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	s := New(testConfig())
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(s.Metrics) != 15 {
		t.Fatalf("recorded %d ticks, want 15", len(s.Metrics))
	}
	for _, m := range s.Metrics {
		if m.Active+m.Defaults != 6 {
			t.Errorf("tick %d: active %d + defaults %d != 6", m.Tick, m.Active, m.Defaults)
		}
	}
}

func TestDefaultsMonotonic(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	cfg := testConfig()
	cfg.ShockIntensity = 0.6 // hard shock to provoke defaults
	cfg.ShockFraction = 0.8
	s := New(cfg)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	prev := 0
	for _, m := range s.Metrics {
		if m.Defaults < prev {
			t.Fatalf("tick %d: defaults fell from %d to %d", m.Tick, prev, m.Defaults)
		}
		prev = m.Defaults
	}
}

func TestShockDrainsLiquidityAndTiedCapital(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	cfg := testConfig()
	cfg.ShockIntensity = 0.5
	cfg.ShockFraction = 1.0 // every live bank is hit
	s := New(cfg)
	b := s.Registry().ByIndex(0)
	b.Liquidity = 100
	b.Capital = 500

	s.applyShock(1)

	// Capital absorbs 0.8 of the liquidity drain, not 0.8 of itself.
	if b.Liquidity != 50 {
		t.Errorf("liquidity = %v, want 50", b.Liquidity)
	}
	if b.Capital != 500-0.8*50 {
		t.Errorf("capital = %v, want %v", b.Capital, 500-0.8*50)
	}
	if !b.Stressed {
		t.Error("shocked bank not flagged stressed")
	}
}

func TestRunDeterministicAcrossRuns(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	a := New(testConfig())
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run a: %v", err)
	}
	b := New(testConfig())
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("run b: %v", err)
	}
	if !reflect.DeepEqual(a.Metrics, b.Metrics) {
		for i := range a.Metrics {
			if !reflect.DeepEqual(a.Metrics[i], b.Metrics[i]) {
				t.Fatalf("tick %d diverged:\n a: %+v\n b: %+v", i+1, a.Metrics[i], b.Metrics[i])
			}
		}
		t.Fatal("metrics diverged")
	}
}

func TestSeedChangesOutcome(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	a := New(testConfig())
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run a: %v", err)
	}
	cfg := testConfig()
	cfg.Seed = 43
	b := New(cfg)
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("run b: %v", err)
	}
	if reflect.DeepEqual(a.Metrics, b.Metrics) {
		t.Error("different seeds produced identical runs")
	}
}

func TestMarginCallConservation(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	s := New(testConfig())
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	seen := 0
	for _, b := range s.Registry().All() {
		seen += b.MarginCallsSeen
	}
	if seen != s.Clearing().MarginCallsIssued {
		t.Errorf("banks saw %d margin calls, CCP issued %d", seen, s.Clearing().MarginCallsIssued)
	}
}

func TestNetworkTypesBuild(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	for _, kind := range []string{config.NetworkErdosRenyi, config.NetworkScaleFree, config.NetworkSmallWorld} {
		cfg := testConfig()
		cfg.NetworkType = kind
		cfg.Steps = 3
		s := New(cfg)
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("%s run: %v", kind, err)
		}
		if s.Network().N != cfg.NBanks {
			t.Errorf("%s: network size %d", kind, s.Network().N)
		}
	}
}

func TestSummaryNoPanic(t *testing.T) {
	logger.SetQuiet(true)
	defer logger.SetQuiet(false)

	s := New(testConfig())
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	s.Summary()
}
