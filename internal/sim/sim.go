// Package sim is the tick scheduler: it owns the agents, drives the
// per-tick phase order, applies exogenous shocks and records metrics.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"finsim/internal/bank"
	"finsim/internal/ccp"
	"finsim/internal/config"
	"finsim/internal/exchange"
	"finsim/internal/fabric"
	"finsim/internal/graph"
	"finsim/internal/intent"
	"finsim/internal/logger"
)

// fabricTimeout bounds every fabric-touching phase; a failed phase is
// retried once, then the run aborts.
const fabricTimeout = 5 * time.Second

// Simulation wires the state fabric, the exchange, the CCP and the
// banks, and runs the tick loop.
type Simulation struct {
	cfg      *config.Config
	state    *fabric.StateManager
	market   *exchange.Exchange
	clearing *ccp.CCP
	registry *bank.Registry
	network  *graph.Network
	rng      *rand.Rand

	Metrics []TickMetrics
}

// New builds the full agent graph from the configuration. The single
// seed drives the network draw, the exchange noise and every bank's
// private RNG.
func New(cfg *config.Config) *Simulation {
	store := fabric.NewMemStore()
	state := fabric.NewStateManager(store)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var net *graph.Network
	switch cfg.NetworkType {
	case config.NetworkScaleFree:
		net = graph.NewBarabasiAlbert(cfg.NBanks, 2, rng)
	case config.NetworkSmallWorld:
		net = graph.NewWattsStrogatz(cfg.NBanks, 4, 0.3, rng)
	default:
		net = graph.NewErdosRenyi(cfg.NBanks, cfg.ERProb, rng)
	}

	registry := bank.NewRegistry()
	for i := 0; i < cfg.NBanks; i++ {
		registry.Add(bank.New(i, cfg, state, registry, cfg.Seed))
	}
	market := exchange.New(state, rng, cfg.BaseVolatility, cfg.VolShockStep)
	clearing := ccp.New(cfg, state, registry)
	for _, b := range registry.All() {
		b.SetNeighbors(net.Neighbors(b.Index))
		b.AttachMarket(market)
		b.AttachClearing(clearing)
	}

	return &Simulation{
		cfg:      cfg,
		state:    state,
		market:   market,
		clearing: clearing,
		registry: registry,
		network:  net,
		rng:      rng,
	}
}

// State exposes the fabric, used by the persistence layer and tests.
func (s *Simulation) State() *fabric.StateManager { return s.state }

// Registry exposes the bank registry.
func (s *Simulation) Registry() *bank.Registry { return s.registry }

// Clearing exposes the CCP.
func (s *Simulation) Clearing() *ccp.CCP { return s.clearing }

// Network exposes the interbank graph.
func (s *Simulation) Network() *graph.Network { return s.network }

// Setup clears the fabric and writes the setup-time keys.
func (s *Simulation) Setup(ctx context.Context) error {
	if err := s.retry(ctx, "flush fabric", s.state.Flush); err != nil {
		return err
	}
	return s.retry(ctx, "write market depth", func(ctx context.Context) error {
		return s.state.SetMarketDepth(ctx, s.cfg.MarketDepth)
	})
}

// Run executes the full tick loop and returns the collected metrics.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}
	logger.Info("sim", fmt.Sprintf("%d banks on %s graph (%d edges), %d steps, seed %d",
		s.cfg.NBanks, s.cfg.NetworkType, s.network.EdgeCount(), s.cfg.Steps, s.cfg.Seed))

	for tick := 1; tick <= s.cfg.Steps; tick++ {
		if err := s.Tick(ctx, tick); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	return nil
}

// Tick runs one tick's phases in the fixed order: shock, state publish,
// exchange, CCP, banks, metrics.
func (s *Simulation) Tick(ctx context.Context, tick int) error {
	if s.cfg.ShockStep > 0 && tick == s.cfg.ShockStep {
		s.applyShock(tick)
	}
	if err := s.retry(ctx, "publish state", func(ctx context.Context) error {
		return s.publishState(ctx, tick)
	}); err != nil {
		return err
	}
	if err := s.retry(ctx, "exchange step", func(ctx context.Context) error {
		return s.market.Step(ctx, tick)
	}); err != nil {
		return err
	}
	if err := s.retry(ctx, "ccp step", func(ctx context.Context) error {
		return s.clearing.Step(ctx, tick)
	}); err != nil {
		return err
	}
	if err := s.retry(ctx, "bank steps", func(ctx context.Context) error {
		return s.stepBanks(ctx, tick)
	}); err != nil {
		return err
	}
	s.record(tick)
	return nil
}

// applyShock hits each live bank with the configured probability. The
// liquidity drain is intensity times liquidity; capital absorbs 0.8 of
// that same drain, not a fraction of capital.
func (s *Simulation) applyShock(tick int) {
	hit := 0
	for _, b := range s.registry.All() {
		if b.Defaulted || s.rng.Float64() >= s.cfg.ShockFraction {
			continue
		}
		drain := b.Liquidity * s.cfg.ShockIntensity
		b.Liquidity -= drain
		b.Capital -= 0.8 * drain
		b.Stressed = true
		hit++
	}
	logger.Warn("sim", fmt.Sprintf("tick %d: liquidity shock hit %d banks (intensity %.2f)",
		tick, hit, s.cfg.ShockIntensity))
}

func (s *Simulation) publishState(ctx context.Context, tick int) error {
	var aggLiq, aggExp float64
	var stressed, defaulted int
	for _, b := range s.registry.All() {
		if err := s.state.PublishBankState(ctx, b.Index, b.PublicState()); err != nil {
			return err
		}
		aggLiq += b.Liquidity
		aggExp += b.TotalExposure()
		if b.Stressed {
			stressed++
		}
		if b.Defaulted {
			defaulted++
		}
	}
	return s.state.PublishSystemState(ctx, map[string]float64{
		"step":          float64(tick),
		"n_banks":       float64(s.cfg.NBanks),
		"aggregate_liq": aggLiq,
		"aggregate_exp": aggExp,
		"n_stressed":    float64(stressed),
		"n_defaulted":   float64(defaulted),
	})
}

// stepBanks splits each bank's step into a concurrent read-only decide
// phase and a serial apply phase in index order, which keeps runs
// bit-identical to a fully sequential schedule of the same split.
func (s *Simulation) stepBanks(ctx context.Context, tick int) error {
	banks := s.registry.All()
	decisions := make([]*intent.Intent, len(banks))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range banks {
		i, b := i, b
		g.Go(func() error {
			in, err := b.Decide(gctx, tick)
			if err != nil {
				return err
			}
			decisions[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, b := range banks {
		if err := b.Apply(ctx, tick, decisions[i]); err != nil {
			return err
		}
	}
	return nil
}

// retry runs a fabric-touching phase with a bounded timeout, retrying
// once before giving up on the run.
func (s *Simulation) retry(ctx context.Context, name string, fn func(context.Context) error) error {
	run := func() error {
		phaseCtx, cancel := context.WithTimeout(ctx, fabricTimeout)
		defer cancel()
		return fn(phaseCtx)
	}
	err := run()
	if err == nil {
		return nil
	}
	logger.Warn("sim", fmt.Sprintf("%s failed (%v), retrying", name, err))
	if err = run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
