package bank

import (
	"context"
	"testing"

	"finsim/internal/fabric"
	"finsim/internal/intent"
)

func calmObservation(registry *Registry) *Observation {
	banks := make(map[int]fabric.BankState)
	for _, b := range registry.All() {
		banks[b.Index] = b.PublicState()
	}
	return &Observation{
		Snapshot: &fabric.Snapshot{NBanks: len(banks), Banks: banks, MarginRate: 0.03},
		Market:   fabric.MarketData{NewVolatility: 0.12},
	}
}

func TestUtilityGuards(t *testing.T) {
	registry, _, _ := newTestNetwork(3)
	b := registry.ByIndex(0)
	b.Liquidity = 60
	b.Capital = 30
	obs := calmObservation(registry)
	risk := b.ComputeRisk(obs)
	u := b.actionUtilities(obs, risk)

	if u[intent.ActionRepayInterbankLoan] != negInf {
		t.Error("repay guard open with no loans due")
	}
	if u[intent.ActionDeclareDefault] != negInf {
		t.Error("declare guard open with healthy balance sheet")
	}
	if u[intent.ActionDepositDefaultFund] != negInf {
		t.Error("deposit guard open below 80 liquidity")
	}
	if u[intent.ActionPayMarginCall] != negInf {
		t.Error("pay-margin guard open with empty inbox")
	}
	if u[intent.ActionHoardLiquidity] <= negInf || u[intent.ActionReduceExposure] <= negInf {
		t.Error("unconditional actions must always score")
	}
	// capital/liquidity = 0.5, not leveraged enough to borrow
	if u[intent.ActionBorrow] != 0 {
		t.Errorf("borrow = %v, want 0 when capital/liquidity <= 1", u[intent.ActionBorrow])
	}
}

func TestRepayDominatesWhenLoanDue(t *testing.T) {
	registry, _, _ := newTestNetwork(2)
	b := registry.ByIndex(0)
	b.Liquidity = 100
	b.Capital = 200
	obs := calmObservation(registry)
	obs.LoansDue = []*InterbankLoan{{LoanID: "l1", LenderIndex: 1, Principal: 10, InterestRate: 0.05}}
	obs.TotalRepaymentDue = 10.5
	risk := b.ComputeRisk(obs)
	u := b.actionUtilities(obs, risk)

	for _, action := range intent.BankActions {
		if action == intent.ActionRepayInterbankLoan {
			continue
		}
		if u[action] >= u[intent.ActionRepayInterbankLoan] {
			t.Errorf("%s (%v) outranks repayment (%v)", action, u[action], u[intent.ActionRepayInterbankLoan])
		}
	}
}

func TestPayMarginCallDominatesWhenPending(t *testing.T) {
	registry, _, _ := newTestNetwork(2)
	b := registry.ByIndex(0)
	b.Liquidity = 100
	b.Capital = 200
	b.PendingMarginCalls = []*MarginCall{{ID: "c1", Amount: 15}}
	obs := calmObservation(registry)
	obs.TotalMarginDue = 15
	risk := b.ComputeRisk(obs)
	u := b.actionUtilities(obs, risk)

	for _, action := range intent.BankActions {
		if action == intent.ActionPayMarginCall || u[action] == negInf {
			continue
		}
		if u[action] >= u[intent.ActionPayMarginCall] {
			t.Errorf("%s (%v) outranks margin payment (%v)", action, u[action], u[intent.ActionPayMarginCall])
		}
	}
}

func TestDeclareDefaultGuard(t *testing.T) {
	registry, _, _ := newTestNetwork(2)
	b := registry.ByIndex(0)
	b.Liquidity = 3
	b.Capital = 5
	obs := calmObservation(registry)
	u := b.actionUtilities(obs, b.ComputeRisk(obs))

	// recovery = 3/50 + 5/100 = 0.11 -> (1-0.11)*30 - 15 = 11.7
	if got, want := u[intent.ActionDeclareDefault], 11.7; got < want-1e-6 || got > want+1e-6 {
		t.Errorf("declare utility = %v, want %v", got, want)
	}
}

func TestDefaultToleranceShrinksAsBankWeakens(t *testing.T) {
	registry, _, _ := newTestNetwork(2)
	b := registry.ByIndex(0)

	b.Liquidity = 200
	if got := b.riskPreference()["default_tolerance"]; got != 0.2 {
		t.Errorf("healthy tolerance = %v, want 0.2", got)
	}

	b.Stressed = true
	if got := b.riskPreference()["default_tolerance"]; got != 0.05 {
		t.Errorf("stressed tolerance = %v, want 0.05", got)
	}

	b.Liquidity = 30
	if got := b.riskPreference()["default_tolerance"]; got != 0.0 {
		t.Errorf("near-default tolerance = %v, want 0", got)
	}
}

func TestDecideEmitsValidatedIntent(t *testing.T) {
	registry, sm, _ := newTestNetwork(3)
	ctx := context.Background()
	// publish the snapshot a decide pass reads
	if err := sm.PublishSystemState(ctx, map[string]float64{
		"step": 1, "n_banks": 3, "aggregate_liq": 600, "aggregate_exp": 90,
		"n_stressed": 0, "n_defaulted": 0,
	}); err != nil {
		t.Fatal(err)
	}
	for _, b := range registry.All() {
		if err := sm.PublishBankState(ctx, b.Index, b.PublicState()); err != nil {
			t.Fatal(err)
		}
	}

	b := registry.ByIndex(0)
	in, err := b.Decide(ctx, 1)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if in == nil {
		t.Fatal("live bank returned no intent")
	}
	if err := in.Validate(); err != nil {
		t.Errorf("decided intent fails validation: %v", err)
	}
	if in.BeliefSnapshot == nil || in.RiskPreference == nil {
		t.Error("decision context not attached")
	}
	if in.AgentID != "bank_00" || in.Tick != 1 {
		t.Errorf("envelope wrong: %+v", in)
	}
}

func TestDefaultedBankSkipsDecide(t *testing.T) {
	registry, _, _ := newTestNetwork(2)
	b := registry.ByIndex(0)
	b.Defaulted = true
	in, err := b.Decide(context.Background(), 1)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if in != nil {
		t.Error("defaulted bank still decides")
	}
}
