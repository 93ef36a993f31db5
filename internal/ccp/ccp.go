// Package ccp implements the central counterparty: margin rate setting,
// panic detection, per-bank risk scoring, margin calls, the default
// fund and the default waterfall.
package ccp

import (
	"context"
	"fmt"
	"math"

	"finsim/internal/bank"
	"finsim/internal/config"
	"finsim/internal/fabric"
	"finsim/internal/intent"
	"finsim/internal/logger"
)

// AgentID is the CCP's identity on the wire.
const AgentID = "ccp_main"

// Margin rate clamp.
const (
	minMarginRate = 0.02
	maxMarginRate = 0.30
)

// UtilityRecord holds the four utility components and the net for one tick.
type UtilityRecord struct {
	Tick           int
	Stability      float64
	FundHealth     float64
	DefaultPenalty float64
	FirePenalty    float64
	Net            float64
}

// CCP is the clearing house. One instance per run.
type CCP struct {
	state    *fabric.StateManager
	cfg      *config.Config
	registry *bank.Registry

	DefaultFund float64
	initialFund float64
	MarginRate  float64
	Panic       bool

	callThreshold     float64
	baselineThreshold float64

	FireSaleVolume float64
	prevDefaults   int

	MarginCallsIssued int
	DefaultsHandled   int
	Utility           []UtilityRecord
}

// New creates the CCP with the configured fund, base margin rate and
// margin-call threshold.
func New(cfg *config.Config, state *fabric.StateManager, registry *bank.Registry) *CCP {
	return &CCP{
		state:             state,
		cfg:               cfg,
		registry:          registry,
		DefaultFund:       cfg.CCPInitialDefaultFund,
		initialFund:       cfg.CCPInitialDefaultFund,
		MarginRate:        cfg.CCPBaseMargin,
		callThreshold:     cfg.MarginCallThreshold,
		baselineThreshold: cfg.MarginCallThreshold,
	}
}

// CallThreshold returns the current exposure/capital trigger level.
func (c *CCP) CallThreshold() float64 { return c.callThreshold }

// Step runs the CCP's tick: observe, reprice margin, check panic, score
// banks, issue margin calls, publish the rate and record utility.
func (c *CCP) Step(ctx context.Context, tick int) error {
	totalExposure, totalLiquidity, defaulted := c.observeBanks()
	if err := c.observeStream(ctx, tick); err != nil {
		return err
	}

	// The rate uses the panic state carried from the previous tick; the
	// edge detection below then updates it.
	market, err := c.state.GetMarketData(ctx)
	if err != nil {
		return fmt.Errorf("ccp: market data: %w", err)
	}
	rate := c.cfg.CCPBaseMargin + market.NewVolatility*c.cfg.CCPMarginSensitivity
	if c.Panic {
		rate *= 1.5
	}
	c.MarginRate = clamp(rate, minMarginRate, maxMarginRate)

	c.updatePanic(totalExposure)

	if err := c.issueMarginCalls(ctx, tick); err != nil {
		return err
	}
	if err := c.state.SetSystemValue(ctx, "margin_rate", c.MarginRate); err != nil {
		return fmt.Errorf("ccp: publish margin rate: %w", err)
	}

	c.recordUtility(tick, defaulted, totalLiquidity)
	return nil
}

func (c *CCP) observeBanks() (totalExposure, totalLiquidity float64, defaulted int) {
	for _, b := range c.registry.All() {
		totalExposure += b.TotalExposure()
		totalLiquidity += b.Liquidity
		if b.Defaulted {
			defaulted++
		}
	}
	return
}

// observeStream accumulates the fire-sale volume broadcast the previous
// tick. The counter is per tick, not cumulative.
func (c *CCP) observeStream(ctx context.Context, tick int) error {
	c.FireSaleVolume = 0
	public, err := c.state.ReadPublicStream(ctx, tick-1)
	if err != nil {
		return fmt.Errorf("ccp: read public stream: %w", err)
	}
	for _, in := range public {
		if in.ActionType == intent.ActionFireSaleAsset && in.Validate() == nil {
			c.FireSaleVolume += in.Float("quantity")
		}
	}
	return nil
}

// updatePanic compares total exposure against the fund's safe capacity
// and adjusts the margin-call threshold on state edges: tighten on
// entry, relax toward the baseline on exit.
func (c *CCP) updatePanic(totalExposure float64) {
	inPanic := totalExposure > c.DefaultFund*c.cfg.CCPSafeMultiplier
	switch {
	case inPanic && !c.Panic:
		c.callThreshold = math.Max(0.2, c.callThreshold*0.6)
		logger.Warn("ccp", fmt.Sprintf("panic: exposure %.1f exceeds fund capacity %.1f, threshold now %.2f",
			totalExposure, c.DefaultFund*c.cfg.CCPSafeMultiplier, c.callThreshold))
	case !inPanic && c.Panic:
		c.callThreshold = math.Min(c.baselineThreshold, c.callThreshold*1.2)
	}
	c.Panic = inPanic
}

// RiskScore grades one bank on leverage, liquidity and stress.
// Defaulted banks pin at 1.0.
func (c *CCP) RiskScore(b *bank.Bank) float64 {
	if b.Defaulted {
		return 1.0
	}
	leverage := b.TotalExposure() / math.Max(b.Capital, 1)
	score := 0.5*math.Min(leverage, 3)/3 +
		0.3*math.Max(0, 1-b.Liquidity/c.cfg.StressThreshold)
	if b.Stressed {
		score += 0.2
	}
	return score
}

func (c *CCP) issueMarginCalls(ctx context.Context, tick int) error {
	deadline := tick + 2
	if c.Panic {
		deadline = tick + 1
	}
	for _, b := range c.registry.All() {
		if b.Defaulted {
			continue
		}
		exposure := b.TotalExposure()
		if exposure/math.Max(b.Capital, 1) <= c.callThreshold {
			continue
		}
		risk := c.RiskScore(b)
		amount := math.Round(exposure*c.MarginRate*(1+0.5*risk)*100) / 100
		call := intent.NewIssueMarginCall(tick, AgentID, b.AgentID(), amount, deadline, "exposure_over_threshold")
		if err := c.state.RouteIntent(ctx, call); err != nil {
			return fmt.Errorf("ccp: route margin call: %w", err)
		}
		if err := c.state.PushMarginCall(ctx, b.Index, call); err != nil {
			return fmt.Errorf("ccp: push margin call: %w", err)
		}
		c.MarginCallsIssued++
	}
	return nil
}

func (c *CCP) recordUtility(tick, defaulted int, totalLiquidity float64) {
	nBanks := len(c.registry.All())
	if nBanks < 1 {
		nBanks = 1
	}
	newDefaults := defaulted - c.prevDefaults
	if newDefaults < 0 {
		newDefaults = 0
	}
	c.prevDefaults = defaulted

	safeLimit := c.initialFund * c.cfg.CCPSafeMultiplier

	rec := UtilityRecord{Tick: tick}
	if !c.Panic {
		rec.Stability = c.cfg.CCPW1
	}
	rec.FundHealth = c.cfg.CCPW2 * math.Min(1, c.DefaultFund/math.Max(safeLimit, 1))
	rec.DefaultPenalty = c.cfg.CCPW3 * float64(newDefaults) / float64(nBanks)
	rec.FirePenalty = c.cfg.CCPW4 * math.Min(1, c.FireSaleVolume/math.Max(totalLiquidity, 1))
	rec.Net = rec.Stability + rec.FundHealth - rec.DefaultPenalty - rec.FirePenalty
	c.Utility = append(c.Utility, rec)
}

// HandleBankDefault runs the fund waterfall for one defaulting bank:
// the fund absorbs 60 % of every surviving creditor's exposure to the
// defaulter, and whatever the fund cannot cover is mutualised equally
// across survivors, split half capital half liquidity.
func (c *CCP) HandleBankDefault(defaulter *bank.Bank) {
	var uncovered float64
	var survivors []*bank.Bank
	for _, b := range c.registry.All() {
		if b == defaulter || b.Defaulted {
			continue
		}
		survivors = append(survivors, b)
		uncovered += 0.6 * b.Exposure[defaulter.Index]
	}

	absorbed := math.Min(c.DefaultFund, uncovered)
	c.DefaultFund -= absorbed
	remainder := uncovered - absorbed

	if remainder > 0 && len(survivors) > 0 {
		share := remainder / float64(len(survivors))
		for _, b := range survivors {
			b.Capital -= 0.5 * share
			b.Liquidity -= 0.5 * share
		}
	}
	c.DefaultsHandled++
	logger.Error("ccp", fmt.Sprintf("%s defaulted: fund absorbed %.2f, mutualised %.2f across %d banks",
		defaulter.AgentID(), absorbed, remainder, len(survivors)))
}

// AcceptDefaultFundDeposit credits a bank contribution to the fund.
func (c *CCP) AcceptDefaultFundDeposit(amount float64) {
	if amount > 0 {
		c.DefaultFund += amount
	}
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
