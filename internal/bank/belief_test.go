package bank

import (
	"math"
	"testing"
)

func TestBetaBeliefPriorAndUpdates(t *testing.T) {
	b := NewBetaBelief()
	if math.Abs(b.Mean()-0.1) > 1e-9 {
		t.Errorf("prior mean = %v, want 0.1", b.Mean())
	}
	// defaulted neighbour: full signal
	b.Update(1.0)
	// alpha=2, beta=9 -> mean 2/11
	if math.Abs(b.Mean()-2.0/11.0) > 1e-9 {
		t.Errorf("mean after default signal = %v, want %v", b.Mean(), 2.0/11.0)
	}
	// calm neighbour pushes the mean back down
	before := b.Mean()
	b.Update(0.0)
	if b.Mean() >= before {
		t.Errorf("zero signal did not lower mean: %v -> %v", before, b.Mean())
	}
	if b.Variance() <= 0 {
		t.Errorf("variance should stay positive, got %v", b.Variance())
	}
}

func TestGaussianBeliefConjugateUpdate(t *testing.T) {
	g := &GaussianBelief{Mu: 0.15, Tau: 2.0}
	g.Update(0.5, 2.0)
	// posterior mean = (2*0.15 + 2*0.5) / 4 = 0.325
	if math.Abs(g.Mean()-0.325) > 1e-9 {
		t.Errorf("posterior mean = %v, want 0.325", g.Mean())
	}
	if math.Abs(g.Tau-4.0) > 1e-9 {
		t.Errorf("posterior precision = %v, want 4", g.Tau)
	}
	if math.Abs(g.Std()-0.5) > 1e-9 {
		t.Errorf("posterior std = %v, want 0.5", g.Std())
	}
}

func TestGaussianBeliefConvergesToObservations(t *testing.T) {
	g := &GaussianBelief{Mu: 0.20, Tau: 1.0}
	for i := 0; i < 200; i++ {
		g.Update(0.6, 2.0)
	}
	if math.Abs(g.Mean()-0.6) > 0.01 {
		t.Errorf("mean %v did not converge to 0.6", g.Mean())
	}
	if g.Std() > 0.1 {
		t.Errorf("posterior should be tight, std = %v", g.Std())
	}
}
