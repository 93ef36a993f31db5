package bank

import (
	"context"
	"math"
	"sort"

	"finsim/internal/exchange"
	"finsim/internal/intent"
)

// negInf marks a failed utility guard; no guarded action can win with it.
const negInf = -999.0

// Decide runs ingest, belief update, risk computation and the
// expected-utility argmax, returning the chosen intent. It mutates only
// this bank's private state and its own fabric inboxes, so the decide
// phase can run concurrently across banks.
func (b *Bank) Decide(ctx context.Context, tick int) (*intent.Intent, error) {
	if b.Defaulted {
		return nil, nil
	}
	obs, err := b.Ingest(ctx, tick)
	if err != nil {
		return nil, err
	}
	b.UpdateBeliefs(obs)
	risk := b.ComputeRisk(obs)

	utilities := b.actionUtilities(obs, risk)
	best := intent.BankActions[0]
	bestU := utilities[best]
	for _, action := range intent.BankActions[1:] {
		if utilities[action] > bestU {
			best, bestU = action, utilities[action]
		}
	}

	in := b.buildIntent(best, tick, obs, risk)
	in.WithContext(b.beliefSnapshot(), b.riskPreference())
	return in, nil
}

func (b *Bank) actionUtilities(obs *Observation, risk Risk) map[string]float64 {
	liq := b.Liquidity
	stress := b.stressBelief.Mean()
	vol := b.volBelief.Mean()
	u := make(map[string]float64, len(intent.BankActions))

	u[intent.ActionRepayInterbankLoan] = negInf
	if len(obs.LoansDue) > 0 {
		u[intent.ActionRepayInterbankLoan] = 60 + 20*risk.RepayUrgency
	}

	u[intent.ActionDeclareDefault] = negInf
	if liq < 5 && b.Capital < 10 {
		recovery := math.Max(0, liq/50+b.Capital/100)
		u[intent.ActionDeclareDefault] = math.Max(0, (1-recovery)*30-15)
	}

	u[intent.ActionDepositDefaultFund] = negInf
	if liq > 80 && stress < 0.2 && !b.Stressed {
		u[intent.ActionDepositDefaultFund] = 5 + (liq-80)*0.1
	}

	u[intent.ActionProvideInterbankCredit] = negInf
	if len(b.liveNeighbors(obs)) > 0 && liq > 100 {
		u[intent.ActionProvideInterbankCredit] = math.Max(0, (liq-100)*0.3-0.5*risk.ExpectedLoss-5*stress)
	}

	u[intent.ActionFireSaleAsset] = negInf
	if b.TotalAssets() > 0 && (risk.LiquidityShortfall > 5 || risk.MarginUrgency > 0.5 || liq < 15) {
		u[intent.ActionFireSaleAsset] = 5*risk.LiquidityShortfall + 4*risk.MarginUrgency +
			math.Max(0, (20-liq)*0.8) + 2*vol
	}

	u[intent.ActionPayMarginCall] = negInf
	if len(b.PendingMarginCalls) > 0 {
		u[intent.ActionPayMarginCall] = 50 + 20*risk.MarginUrgency
	}

	u[intent.ActionSellAsset] = negInf
	if b.Assets[AssetLiquidBond] > 0 {
		u[intent.ActionSellAsset] = 3*risk.LiquidityShortfall + 2*vol +
			1.5*risk.MarginUrgency + math.Max(0, (30-liq)*0.3)
	}

	u[intent.ActionHoardLiquidity] = 2*risk.LiquidityShortfall + 3*stress + vol

	u[intent.ActionReduceExposure] = 1.5*risk.ExpectedLoss + b.marginBelief.Mean() + 0.5*vol

	u[intent.ActionBorrow] = 0
	if b.Capital/math.Max(liq, 1) > 1 {
		u[intent.ActionBorrow] = math.Max(0, (40-liq)*0.5)
	}

	u[intent.ActionRouteOTCProposal] = math.Max(0, (liq-80)*0.4-risk.ExpectedLoss-10*stress-5*vol)

	return u
}

// liveNeighbors returns the non-defaulted neighbour indices in ascending
// order, read from the published snapshot.
func (b *Bank) liveNeighbors(obs *Observation) []int {
	var live []int
	for _, nbr := range b.neighbors {
		if st, ok := obs.Snapshot.Banks[nbr]; ok && !st.Defaulted {
			live = append(live, nbr)
		}
	}
	return live
}

func (b *Bank) buildIntent(action string, tick int, obs *Observation, risk Risk) *intent.Intent {
	id := b.AgentID()
	vol := b.volBelief.Mean()
	live := b.liveNeighbors(obs)

	switch action {
	case intent.ActionRepayInterbankLoan:
		loan := obs.LoansDue[0]
		return intent.NewRepayInterbankLoan(tick, id, loan.LoanID,
			loan.Principal, loan.Principal*loan.InterestRate)

	case intent.ActionDeclareDefault:
		return intent.NewDeclareDefault(tick, id, "liquidity_exhaustion")

	case intent.ActionDepositDefaultFund:
		amount := math.Max(0, math.Min(b.Liquidity*b.cfg.DefaultFundRate, b.Liquidity-60))
		return intent.NewDepositDefaultFund(tick, id, amount)

	case intent.ActionProvideInterbankCredit:
		borrower := b.healthiestNeighbor(live)
		if borrower < 0 {
			break
		}
		principal := math.Min(b.Liquidity*0.10, 20)
		rate := round4(0.03 + vol*0.04)
		maturity := tick + b.pickTenor()
		return intent.NewProvideInterbankCredit(tick, id,
			b.registry.ByIndex(borrower).AgentID(), principal, rate, maturity)

	case intent.ActionFireSaleAsset:
		asset := AssetLiquidBond
		if b.Assets[AssetIlliquidAsset] > b.Assets[AssetLiquidBond] {
			asset = AssetIlliquidAsset
		}
		qty := math.Min(b.Assets[asset], math.Max(10, risk.LiquidityShortfall*3+vol*25))
		maxDiscount := math.Round(math.Min(0.40, 0.10+vol*0.5)*100) / 100
		return intent.NewFireSaleAsset(tick, id, exchange.AgentID, asset, qty, maxDiscount)

	case intent.ActionPayMarginCall:
		call := b.PendingMarginCalls[0]
		payable := math.Min(call.Amount, b.Liquidity*0.9)
		return intent.NewPayMarginCall(tick, id, payable, call.ID)

	case intent.ActionSellAsset:
		amount := math.Min(b.Assets[AssetLiquidBond], math.Max(10, risk.LiquidityShortfall*2+vol*20))
		return intent.NewSellAsset(tick, id, AssetLiquidBond, amount)

	case intent.ActionReduceExposure:
		target := b.riskiestNeighbor()
		if target < 0 {
			break
		}
		return intent.NewReduceExposure(tick, id, target, b.Exposure[target]*0.20)

	case intent.ActionBorrow:
		if len(live) == 0 {
			break
		}
		lender := live[b.rng.Intn(len(live))]
		amount := math.Min(10, math.Max(0, 40-b.Liquidity))
		return intent.NewBorrow(tick, id, b.registry.ByIndex(lender).AgentID(), amount)

	case intent.ActionRouteOTCProposal:
		if len(live) == 0 {
			break
		}
		target := live[b.rng.Intn(len(live))]
		amount := math.Min(b.Liquidity*0.10, 15)
		rate := round4(0.02 + vol*0.05)
		return intent.NewRouteOTCProposal(tick, id,
			b.registry.ByIndex(target).AgentID(), amount, rate, b.pickTenor())
	}

	// Neighbour-dependent actions fall back to hoarding when no live
	// counterparty exists.
	return intent.NewHoardLiquidity(tick, id, b.TotalExposure()*0.05)
}

// healthiestNeighbor picks the live neighbour with the lowest posterior
// default probability, lowest index on ties.
func (b *Bank) healthiestNeighbor(live []int) int {
	best, bestPD := -1, math.Inf(1)
	for _, nbr := range live {
		pd := b.defaultBeliefs[nbr].Mean()
		if pd < bestPD {
			best, bestPD = nbr, pd
		}
	}
	return best
}

// riskiestNeighbor picks the exposed neighbour with the highest posterior
// default probability, lowest index on ties.
func (b *Bank) riskiestNeighbor() int {
	nbrs := make([]int, 0, len(b.Exposure))
	for nbr, exp := range b.Exposure {
		if exp > 0 {
			nbrs = append(nbrs, nbr)
		}
	}
	sort.Ints(nbrs)
	best, bestPD := -1, -1.0
	for _, nbr := range nbrs {
		belief, ok := b.defaultBeliefs[nbr]
		if !ok {
			continue
		}
		if pd := belief.Mean(); pd > bestPD {
			best, bestPD = nbr, pd
		}
	}
	return best
}

func (b *Bank) pickTenor() int {
	tenors := [...]int{5, 10, 15}
	return tenors[b.rng.Intn(len(tenors))]
}

func (b *Bank) beliefSnapshot() map[string]any {
	pd := make(map[string]any, len(b.defaultBeliefs))
	for _, nbr := range b.neighbors {
		pd[b.registry.ByIndex(nbr).AgentID()] = round4(b.defaultBeliefs[nbr].Mean())
	}
	return map[string]any{
		"market_volatility_estimate": round4(b.volBelief.Mean()),
		"own_liquidity_stress":       round4(b.stressBelief.Mean()),
		"expected_future_margin":     math.Round(b.marginBelief.Mean()*100) / 100,
		"counterparty_default_prob":  pd,
	}
}

func (b *Bank) riskPreference() map[string]any {
	aversion := 1 - b.Liquidity/math.Max(b.cfg.InitLiquidityHi, 1)
	if aversion < 0 {
		aversion = 0
	}
	if aversion > 1 {
		aversion = 1
	}
	// Appetite for counterparty risk shrinks as the bank weakens.
	tolerance := 0.2
	switch {
	case b.Liquidity < 50:
		tolerance = 0.0
	case b.Stressed:
		tolerance = 0.05
	}
	return map[string]any{
		"liquidity_aversion": math.Round(aversion*100) / 100,
		"default_tolerance":  tolerance,
	}
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
