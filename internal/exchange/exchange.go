// Package exchange simulates the market-data feed and executes asset
// sales with square-root market impact.
package exchange

import (
	"context"
	"math"
	"math/rand"

	"finsim/internal/fabric"
	"finsim/internal/intent"
)

// AgentID is the exchange's identity on the wire.
const AgentID = "exchange_main"

// Volatility process bounds.
const (
	volFloor = 0.05
	volCeil  = 0.80
)

// Exchange owns the volatility random walk and the sale pricing engine.
type Exchange struct {
	state        *fabric.StateManager
	rng          *rand.Rand
	baseVol      float64
	volShockStep int // 0 = no scheduled spike

	volatility  float64
	priceSignal float64
}

// New creates the exchange. The volatility walk starts at the base level.
func New(state *fabric.StateManager, rng *rand.Rand, baseVol float64, volShockStep int) *Exchange {
	return &Exchange{
		state:        state,
		rng:          rng,
		baseVol:      baseVol,
		volShockStep: volShockStep,
		volatility:   baseVol,
	}
}

// Volatility returns the current published volatility.
func (e *Exchange) Volatility() float64 { return e.volatility }

// PriceSignal returns the current published price-change signal.
func (e *Exchange) PriceSignal() float64 { return e.priceSignal }

// Step advances the volatility walk one tick, draws the price signal,
// and publishes both as a public update_market_data intent mirrored at
// market:latest.
func (e *Exchange) Step(ctx context.Context, tick int) error {
	// mean-revert around the base with Gaussian noise
	noise := e.rng.NormFloat64() * 0.02
	e.volatility += 0.1*(e.baseVol-e.volatility) + noise
	e.volatility = clamp(e.volatility, volFloor, volCeil)

	if e.volShockStep > 0 && tick == e.volShockStep {
		e.volatility = math.Min(volCeil, e.volatility+0.25)
	}

	e.priceSignal = clamp(e.rng.NormFloat64()*0.03-0.01, -0.15, 0.15)

	update := intent.NewUpdateMarketData(tick, AgentID,
		round4(e.volatility), round4(e.priceSignal))
	if err := e.state.RouteIntent(ctx, update); err != nil {
		return err
	}
	return e.state.PublishMarketData(ctx, fabric.MarketData{
		NewVolatility:     round4(e.volatility),
		PriceChangeSignal: round4(e.priceSignal),
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
