package bank

import (
	"context"
	"fmt"
	"math"

	"finsim/internal/fabric"
	"finsim/internal/intent"
)

// Observation is everything a bank reads at the start of its step:
// drained inboxes, the previous tick's public broadcast, and the market
// and system snapshots.
type Observation struct {
	Snapshot *fabric.Snapshot
	Market   fabric.MarketData

	// Derived from the previous tick's public stream.
	ObservedDefaults   int
	ObservedFireSales  int
	ObservedSellVolume float64

	TotalMarginDue    float64
	LoansDue          []*InterbankLoan
	TotalRepaymentDue float64
}

// Ingest drains the margin-call and private inboxes, reads the previous
// tick's public broadcast, and assembles the observation. Inbox drains
// touch only this bank's keys, so ingest is safe to run concurrently
// across banks.
func (b *Bank) Ingest(ctx context.Context, tick int) (*Observation, error) {
	calls, err := b.state.DrainMarginCalls(ctx, b.Index)
	if err != nil {
		return nil, fmt.Errorf("bank %d: drain margin calls: %w", b.Index, err)
	}
	for _, c := range calls {
		if c.Validate() != nil {
			continue
		}
		b.PendingMarginCalls = append(b.PendingMarginCalls, &MarginCall{
			ID:       c.IntentID,
			Amount:   c.Float("margin_amount"),
			Deadline: c.Int("deadline_tick"),
			Reason:   c.Str("reason"),
		})
		b.MarginCallsSeen++
	}

	public, err := b.state.ReadPublicStream(ctx, tick-1)
	if err != nil {
		return nil, fmt.Errorf("bank %d: read public stream: %w", b.Index, err)
	}
	// Private deliveries are informational: loan effects are applied by
	// the emitter's authoritative self-execute.
	private, err := b.state.DrainPrivateStream(ctx, b.AgentID())
	if err != nil {
		return nil, fmt.Errorf("bank %d: drain private stream: %w", b.Index, err)
	}
	b.PrivateIntentsSeen += len(private)

	market, err := b.state.GetMarketData(ctx)
	if err != nil {
		return nil, fmt.Errorf("bank %d: market data: %w", b.Index, err)
	}
	snap, err := b.state.GetSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("bank %d: snapshot: %w", b.Index, err)
	}

	// Own prior-tick broadcasts count too: a bank's fire sale is part of
	// the sell pressure it reasons about next tick.
	obs := &Observation{Snapshot: snap, Market: market}
	for _, in := range public {
		if in.Validate() != nil {
			continue
		}
		b.PublicIntentsSeen++
		switch in.ActionType {
		case intent.ActionDeclareDefault:
			obs.ObservedDefaults++
			b.DefaultsSeen++
		case intent.ActionFireSaleAsset:
			obs.ObservedFireSales++
			b.FireSalesSeen++
			obs.ObservedSellVolume += in.Float("quantity")
		case intent.ActionSellAsset:
			obs.ObservedSellVolume += in.Float("amount")
		}
	}

	for _, c := range b.PendingMarginCalls {
		obs.TotalMarginDue += c.Amount
	}
	obs.LoansDue = b.loansDue(tick)
	for _, loan := range obs.LoansDue {
		obs.TotalRepaymentDue += loan.Principal * (1 + loan.InterestRate)
	}
	return obs, nil
}

// UpdateBeliefs folds the observation into the four conjugate channels.
func (b *Bank) UpdateBeliefs(obs *Observation) {
	for _, nbr := range b.neighbors {
		belief := b.defaultBeliefs[nbr]
		st, ok := obs.Snapshot.Banks[nbr]
		if !ok {
			continue
		}
		var signal float64
		switch {
		case st.Defaulted:
			signal = 1.0
		case st.Stressed:
			signal = 0.7
		case st.MissedPayment:
			signal = 0.5
		case st.Liquidity < 40:
			signal = 0.2
		}
		belief.Update(signal)
	}
	if obs.ObservedDefaults > 0 {
		nudge := math.Min(0.3, 0.15*float64(obs.ObservedDefaults))
		for _, belief := range b.defaultBeliefs {
			belief.Update(nudge)
		}
	}

	nBanks := obs.Snapshot.NBanks
	if nBanks < 1 {
		nBanks = 1
	}
	b.stressBelief.Update(float64(obs.Snapshot.NStressed)/float64(nBanks), 2.0)
	if obs.ObservedSellVolume > 0 {
		depth := b.cfg.MarketDepth
		if depth <= 0 {
			depth = 1
		}
		b.stressBelief.Update(math.Min(1, obs.ObservedSellVolume/depth), 1.5)
	}

	if obs.TotalMarginDue > 0 {
		b.marginBelief.Update(obs.TotalMarginDue, 3.0)
	} else {
		b.marginBelief.Update(b.TotalExposure()*obs.Snapshot.MarginRate, 1.0)
	}

	b.volBelief.Update(obs.Market.NewVolatility, 2.0)
	if obs.ObservedFireSales > 0 {
		spike := obs.Market.NewVolatility + math.Min(0.30, 0.05*float64(obs.ObservedFireSales))
		b.volBelief.Update(spike, 1.5)
	}
}

// Risk is the per-tick risk vector feeding the utility table.
type Risk struct {
	ExpectedLoss       float64
	LiquidityShortfall float64
	MarginUrgency      float64
	RepayUrgency       float64
}

const lossGivenDefault = 0.6

// ComputeRisk derives the risk vector from the posteriors and the
// pending obligations.
func (b *Bank) ComputeRisk(obs *Observation) Risk {
	var r Risk
	for _, nbr := range b.neighbors {
		if belief, ok := b.defaultBeliefs[nbr]; ok {
			r.ExpectedLoss += belief.Mean() * lossGivenDefault * b.Exposure[nbr]
		}
	}
	r.LiquidityShortfall = math.Max(0, b.cfg.MinLiquidity+b.marginBelief.Mean()-b.Liquidity)
	r.MarginUrgency = obs.TotalMarginDue / math.Max(b.Liquidity, 1)
	r.RepayUrgency = obs.TotalRepaymentDue / math.Max(b.Liquidity, 1)
	return r
}
