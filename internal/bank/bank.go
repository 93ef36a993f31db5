// Package bank implements the Bayesian bank agents: observation intake,
// conjugate belief updates, utility-driven action choice, and balance
// sheet execution.
package bank

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"finsim/internal/config"
	"finsim/internal/exchange"
	"finsim/internal/fabric"
)

// Asset keys on a bank balance sheet.
const (
	AssetLiquidBond    = "liquid_bond"
	AssetIlliquidAsset = "illiquid_asset"
)

// Pricer executes sales against the exchange and returns the filled
// quote. Implemented by exchange.Exchange.
type Pricer interface {
	SalePrice(ctx context.Context, tick int, asset string, qty, volatility float64, fireSale bool) (exchange.SaleQuote, error)
}

// ClearingHouse is the bank-facing slice of the CCP: the default
// waterfall entry point and the fund deposit sink.
type ClearingHouse interface {
	HandleBankDefault(defaulter *Bank)
	AcceptDefaultFundDeposit(amount float64)
}

// Bank is one agent. Balance-sheet fields are only mutated during the
// serial apply phase; the decide phase reads the fabric and the bank's
// own state.
type Bank struct {
	Index int

	Liquidity float64
	Capital   float64
	Assets    map[string]float64

	// Exposure maps neighbour index to outstanding lending (interbank
	// principal plus OTC notional) towards that neighbour.
	Exposure map[int]float64

	OTCLoans      []*OTCLoan
	LoansGiven    []*InterbankLoan
	LoansReceived []*InterbankLoan

	DefaultFundContribution float64
	PendingMarginCalls      []*MarginCall

	Stressed      bool
	Defaulted     bool
	MissedPayment bool

	// Conjugate posteriors.
	defaultBeliefs map[int]*BetaBelief
	stressBelief   *GaussianBelief
	marginBelief   *GaussianBelief
	volBelief      *GaussianBelief

	neighbors []int
	rng       *rand.Rand
	cfg       *config.Config
	state     *fabric.StateManager
	registry  *Registry
	pricer    Pricer
	clearing  ClearingHouse

	// Per-run stream counters surfaced in the end-of-run summary.
	MarginCallsSeen    int
	PublicIntentsSeen  int
	PrivateIntentsSeen int
	FireSalesSeen      int
	DefaultsSeen       int
	ActionCount        map[string]int

	LastAction string
}

// New creates a bank with uniform initial draws from the configured
// ranges. Each bank carries its own seeded RNG so the parallel decide
// phase stays deterministic.
func New(index int, cfg *config.Config, state *fabric.StateManager, registry *Registry, seed int64) *Bank {
	rng := rand.New(rand.NewSource(seed + int64(index)*1000))
	uniform := func(lo, hi float64) float64 {
		return lo + rng.Float64()*(hi-lo)
	}
	return &Bank{
		Index:     index,
		Liquidity: uniform(cfg.InitLiquidityLo, cfg.InitLiquidityHi),
		Capital:   uniform(cfg.InitCapitalLo, cfg.InitCapitalHi),
		Assets: map[string]float64{
			AssetLiquidBond:    uniform(cfg.InitLiquidBondLo, cfg.InitLiquidBondHi),
			AssetIlliquidAsset: uniform(cfg.InitIlliquidLo, cfg.InitIlliquidHi),
		},
		Exposure:       make(map[int]float64),
		defaultBeliefs: make(map[int]*BetaBelief),
		stressBelief:   &GaussianBelief{Mu: 0.15, Tau: 2.0},
		marginBelief:   &GaussianBelief{Mu: 5.0, Tau: 0.5},
		volBelief:      &GaussianBelief{Mu: 0.20, Tau: 1.0},
		rng:            rng,
		cfg:            cfg,
		state:          state,
		registry:       registry,
		ActionCount:    make(map[string]int),
	}
}

// AttachMarket wires the exchange pricing engine.
func (b *Bank) AttachMarket(p Pricer) { b.pricer = p }

// AttachClearing wires the CCP.
func (b *Bank) AttachClearing(c ClearingHouse) { b.clearing = c }

// SetNeighbors installs the bank's adjacency from the interbank graph
// and seeds a default belief plus an initial exposure per neighbour.
func (b *Bank) SetNeighbors(nbrs []int) {
	b.neighbors = nbrs
	for _, n := range nbrs {
		b.defaultBeliefs[n] = NewBetaBelief()
		b.Exposure[n] = 5 + b.rng.Float64()*25
	}
}

// AgentID returns the bank's wire identity, e.g. "bank_03".
func (b *Bank) AgentID() string {
	return fmt.Sprintf("bank_%02d", b.Index)
}

// TotalExposure sums the bank's outstanding lending. Summation runs in
// key order so float accumulation is identical across runs.
func (b *Bank) TotalExposure() float64 {
	keys := make([]int, 0, len(b.Exposure))
	for k := range b.Exposure {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	var total float64
	for _, k := range keys {
		total += b.Exposure[k]
	}
	return total
}

// TotalAssets sums the asset book.
func (b *Bank) TotalAssets() float64 {
	keys := make([]string, 0, len(b.Assets))
	for k := range b.Assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var total float64
	for _, k := range keys {
		total += b.Assets[k]
	}
	return total
}

// Neighbors returns the adjacency installed at setup.
func (b *Bank) Neighbors() []int { return b.neighbors }

// DefaultBelief returns the Beta posterior over one neighbour, nil if
// not adjacent.
func (b *Bank) DefaultBelief(nbr int) *BetaBelief { return b.defaultBeliefs[nbr] }

// VolatilityBelief exposes the market volatility posterior mean.
func (b *Bank) VolatilityBelief() float64 { return b.volBelief.Mean() }

// StressBelief exposes the systemic stress posterior mean.
func (b *Bank) StressBelief() float64 { return b.stressBelief.Mean() }

// MarginBelief exposes the expected future margin posterior mean.
func (b *Bank) MarginBelief() float64 { return b.marginBelief.Mean() }

// PublicState projects the observable slice of the balance sheet.
func (b *Bank) PublicState() fabric.BankState {
	return fabric.BankState{
		Liquidity:     b.Liquidity,
		Capital:       b.Capital,
		TotalExposure: b.TotalExposure(),
		Stressed:      b.Stressed,
		Defaulted:     b.Defaulted,
		MissedPayment: b.MissedPayment,
	}
}

// Registry resolves bank ids and indices during execution.
type Registry struct {
	banks []*Bank
}

// NewRegistry allocates an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Add appends a bank; banks must be added in index order.
func (r *Registry) Add(b *Bank) { r.banks = append(r.banks, b) }

// All returns the banks in index order.
func (r *Registry) All() []*Bank { return r.banks }

// ByIndex returns the bank at an index, nil when out of range.
func (r *Registry) ByIndex(i int) *Bank {
	if i < 0 || i >= len(r.banks) {
		return nil
	}
	return r.banks[i]
}

// ByID resolves a wire agent id like "bank_07".
func (r *Registry) ByID(id string) *Bank {
	var idx int
	if _, err := fmt.Sscanf(id, "bank_%d", &idx); err != nil {
		return nil
	}
	return r.ByIndex(idx)
}
