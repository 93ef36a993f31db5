package exchange

import (
	"context"
	"math"
)

// Impact coefficients. Fire sales move the market harder and leave a
// bigger trail.
const (
	instantCoeffStandard = 0.08
	instantCoeffFireSale = 0.15
	persistCoeffStandard = 0.02
	persistCoeffFireSale = 0.05

	pressureLookbackTicks = 3
	maxTotalImpact        = 0.50
	minUnitPrice          = 0.05
)

// SaleQuote is the executed pricing for one sale.
type SaleQuote struct {
	PricePerUnit     float64 // effective per-unit price after impact
	BasePrice        float64 // price before impact
	ImpactDiscount   float64 // fraction lost to impact, [0, 0.50]
	CumulativeVolume float64 // (tick, asset) volume including this sale
}

// SalePrice computes the effective per-unit price for selling qty units
// of asset at the given tick, then atomically records the sale so the
// next seller in the same tick observes the higher cumulative volume.
//
//	base_price  = 1 − base_discount(vol, fire_sale)
//	instant     = k_i · √((cum_before + qty) / depth)
//	persistent  = k_p · √(recent_3_tick_volume / (3·depth))
//	total       = min(0.50, instant + persistent)
//	unit_price  = max(0.05, base_price · (1 − total))
func (e *Exchange) SalePrice(ctx context.Context, tick int, asset string, qty, volatility float64, fireSale bool) (SaleQuote, error) {
	var baseDiscount float64
	if fireSale {
		baseDiscount = math.Min(0.45, 0.10+0.4*volatility)
	} else {
		baseDiscount = math.Min(0.20, 0.05+0.3*volatility)
	}
	basePrice := 1.0 - baseDiscount

	// the cumulative read happens before the record below; within a
	// tick sales are strictly serialised through the atomic counter
	cumBefore, err := e.state.CumulativeSales(ctx, tick, asset)
	if err != nil {
		return SaleQuote{}, err
	}
	pressure, err := e.state.RecentSalePressure(ctx, tick, asset, pressureLookbackTicks)
	if err != nil {
		return SaleQuote{}, err
	}
	depth, err := e.state.MarketDepth(ctx)
	if err != nil {
		return SaleQuote{}, err
	}

	kInstant, kPersist := instantCoeffStandard, persistCoeffStandard
	if fireSale {
		kInstant, kPersist = instantCoeffFireSale, persistCoeffFireSale
	}
	instant := kInstant * math.Sqrt((cumBefore+qty)/math.Max(depth, 1))
	persistent := kPersist * math.Sqrt(pressure/math.Max(depth*pressureLookbackTicks, 1))
	totalImpact := math.Min(maxTotalImpact, instant+persistent)

	unitPrice := math.Max(minUnitPrice, basePrice*(1.0-totalImpact))

	newCum, err := e.state.RecordSale(ctx, tick, asset, qty)
	if err != nil {
		return SaleQuote{}, err
	}

	return SaleQuote{
		PricePerUnit:     round4(unitPrice),
		BasePrice:        round4(basePrice),
		ImpactDiscount:   round4(totalImpact),
		CumulativeVolume: math.Round(newCum*100) / 100,
	}, nil
}
