package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Network topology kinds accepted by NetworkType.
const (
	NetworkErdosRenyi = "erdos_renyi"
	NetworkScaleFree  = "scale_free"
	NetworkSmallWorld = "small_world"
)

// Config holds every simulation parameter (in-memory representation).
// JSON tags mirror the wire names used by the run parameter files.
type Config struct {
	NBanks      int     `json:"n_banks"`
	NetworkType string  `json:"network_type"` // erdos_renyi | scale_free | small_world
	ERProb      float64 `json:"er_prob"`
	Steps       int     `json:"steps"`

	// Bank initial state ranges (uniform draws).
	InitLiquidityLo  float64 `json:"init_liquidity_lo"`
	InitLiquidityHi  float64 `json:"init_liquidity_hi"`
	InitCapitalLo    float64 `json:"init_capital_lo"`
	InitCapitalHi    float64 `json:"init_capital_hi"`
	InitLiquidBondLo float64 `json:"init_liquid_bond_lo"`
	InitLiquidBondHi float64 `json:"init_liquid_bond_hi"`
	InitIlliquidLo   float64 `json:"init_illiquid_lo"`
	InitIlliquidHi   float64 `json:"init_illiquid_hi"`

	// Risk / stress parameters.
	StressThreshold   float64 `json:"stress_threshold"`
	MinLiquidity      float64 `json:"min_liquidity"`
	StepOperatingCost float64 `json:"step_operating_cost"`

	// CCP parameters.
	MarginCallThreshold   float64 `json:"margin_call_threshold"`
	DefaultFundRate       float64 `json:"default_fund_rate"`
	CCPInitialDefaultFund float64 `json:"ccp_initial_default_fund"`
	CCPBaseMargin         float64 `json:"ccp_base_margin"`
	CCPMarginSensitivity  float64 `json:"ccp_margin_sensitivity"`
	CCPSafeMultiplier     float64 `json:"ccp_safe_multiplier"`
	CCPW1                 float64 `json:"ccp_w1"`
	CCPW2                 float64 `json:"ccp_w2"`
	CCPW3                 float64 `json:"ccp_w3"`
	CCPW4                 float64 `json:"ccp_w4"`

	// Market parameters (exchange).
	BaseVolatility float64 `json:"base_volatility"`
	VolShockStep   int     `json:"vol_shock_step"` // 0 = disabled
	MarketDepth    float64 `json:"market_depth"`

	// Exogenous liquidity shock.
	ShockStep      int     `json:"shock_step"` // 0 = disabled
	ShockIntensity float64 `json:"shock_intensity"`
	ShockFraction  float64 `json:"shock_fraction"`

	// Seed drives the network draw, volatility noise, the price signal
	// and every bank-level random choice.
	Seed int64 `json:"seed"`
}

// Default returns a Config with the baseline parameters.
func Default() *Config {
	return &Config{
		NBanks:      10,
		NetworkType: NetworkErdosRenyi,
		ERProb:      0.25,
		Steps:       50,

		InitLiquidityLo:  150,
		InitLiquidityHi:  350,
		InitCapitalLo:    200,
		InitCapitalHi:    500,
		InitLiquidBondLo: 80,
		InitLiquidBondHi: 200,
		InitIlliquidLo:   20,
		InitIlliquidHi:   60,

		StressThreshold:   15,
		MinLiquidity:      8,
		StepOperatingCost: 0.2,

		MarginCallThreshold:   0.7,
		DefaultFundRate:       0.01,
		CCPInitialDefaultFund: 200.0,
		CCPBaseMargin:         0.03,
		CCPMarginSensitivity:  0.005,
		CCPSafeMultiplier:     10.0,
		CCPW1:                 0.4,
		CCPW2:                 0.3,
		CCPW3:                 0.2,
		CCPW4:                 0.1,

		BaseVolatility: 0.12,
		VolShockStep:   0,
		MarketDepth:    750.0,

		ShockStep:      0,
		ShockIntensity: 0.18,
		ShockFraction:  0.3,

		Seed: 99,
	}
}

// LoadFile reads a JSON parameter file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects parameter combinations the scheduler cannot run.
func (c *Config) Validate() error {
	if c.NBanks < 1 {
		return fmt.Errorf("n_banks must be >= 1, got %d", c.NBanks)
	}
	if c.Steps < 1 {
		return fmt.Errorf("steps must be >= 1, got %d", c.Steps)
	}
	switch c.NetworkType {
	case NetworkErdosRenyi, NetworkScaleFree, NetworkSmallWorld:
	default:
		return fmt.Errorf("unknown network_type %q", c.NetworkType)
	}
	if c.ERProb < 0 || c.ERProb > 1 {
		return fmt.Errorf("er_prob must be in [0,1], got %v", c.ERProb)
	}
	if c.MarketDepth <= 0 {
		return fmt.Errorf("market_depth must be positive, got %v", c.MarketDepth)
	}
	if c.InitLiquidityLo > c.InitLiquidityHi {
		return fmt.Errorf("init_liquidity range inverted")
	}
	if c.ShockFraction < 0 || c.ShockFraction > 1 {
		return fmt.Errorf("shock_fraction must be in [0,1], got %v", c.ShockFraction)
	}
	wsum := c.CCPW1 + c.CCPW2 + c.CCPW3 + c.CCPW4
	if wsum < 0.999 || wsum > 1.001 {
		return fmt.Errorf("ccp utility weights must sum to 1, got %v", wsum)
	}
	return nil
}
