package bank

import "math"

// BetaBelief is a Beta-Bernoulli posterior over a binary event
// (a neighbour defaulting). The (1, 9) prior puts the mean near 0.10.
type BetaBelief struct {
	Alpha float64
	Beta  float64
}

// NewBetaBelief returns the standard counterparty-default prior.
func NewBetaBelief() *BetaBelief {
	return &BetaBelief{Alpha: 1.0, Beta: 9.0}
}

// Mean returns the posterior mean α/(α+β).
func (b *BetaBelief) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// Variance returns the posterior variance.
func (b *BetaBelief) Variance() float64 {
	s := b.Alpha + b.Beta
	return (b.Alpha * b.Beta) / (s * s * (s + 1))
}

// Update folds in a distress signal in [0, 1].
func (b *BetaBelief) Update(signal float64) {
	b.Alpha += signal
	b.Beta += 1.0 - signal
}

// GaussianBelief is a Normal-Normal conjugate posterior over an unknown
// mean with known observation variance. Tau is the posterior precision.
type GaussianBelief struct {
	Mu  float64
	Tau float64
}

// Mean returns the posterior mean.
func (g *GaussianBelief) Mean() float64 { return g.Mu }

// Std returns the posterior standard deviation.
func (g *GaussianBelief) Std() float64 {
	return math.Sqrt(1.0 / g.Tau)
}

// Update performs the conjugate update
//
//	τ' = τ + τ_obs
//	μ' = (τ·μ + τ_obs·x) / τ'
func (g *GaussianBelief) Update(observation, obsPrecision float64) {
	tauNew := g.Tau + obsPrecision
	g.Mu = (g.Tau*g.Mu + obsPrecision*observation) / tauNew
	g.Tau = tauNew
}
