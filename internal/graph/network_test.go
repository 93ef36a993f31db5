package graph

import (
	"math/rand"
	"testing"
)

func TestErdosRenyiExtremes(t *testing.T) {
	full := NewErdosRenyi(6, 1.0, rand.New(rand.NewSource(1)))
	if got, want := full.EdgeCount(), 15; got != want {
		t.Errorf("p=1 edges = %d, want %d", got, want)
	}
	empty := NewErdosRenyi(6, 0.0, rand.New(rand.NewSource(1)))
	if got := empty.EdgeCount(); got != 0 {
		t.Errorf("p=0 edges = %d, want 0", got)
	}
}

func TestErdosRenyiDeterministic(t *testing.T) {
	a := NewErdosRenyi(20, 0.3, rand.New(rand.NewSource(42)))
	b := NewErdosRenyi(20, 0.3, rand.New(rand.NewSource(42)))
	for node := 0; node < 20; node++ {
		na, nb := a.Neighbors(node), b.Neighbors(node)
		if len(na) != len(nb) {
			t.Fatalf("node %d degree differs: %d vs %d", node, len(na), len(nb))
		}
		for i := range na {
			if na[i] != nb[i] {
				t.Fatalf("node %d adjacency differs", node)
			}
		}
	}
}

func TestNeighborsSortedAndSymmetric(t *testing.T) {
	g := NewErdosRenyi(15, 0.4, rand.New(rand.NewSource(7)))
	for node := 0; node < 15; node++ {
		nbrs := g.Neighbors(node)
		for i, nbr := range nbrs {
			if i > 0 && nbrs[i-1] >= nbr {
				t.Errorf("node %d neighbours not strictly ascending: %v", node, nbrs)
			}
			if !g.HasEdge(nbr, node) {
				t.Errorf("edge %d-%d not symmetric", node, nbr)
			}
			if nbr == node {
				t.Errorf("self-loop at %d", node)
			}
		}
	}
}

func TestBarabasiAlbert(t *testing.T) {
	n, m := 30, 2
	g := NewBarabasiAlbert(n, m, rand.New(rand.NewSource(5)))
	// every node past the seed core attaches with m edges
	if got, want := g.EdgeCount(), (n-m)*m; got != want {
		t.Errorf("edges = %d, want %d", got, want)
	}
	for node := m; node < n; node++ {
		if len(g.Neighbors(node)) < m {
			t.Errorf("node %d degree %d < m", node, len(g.Neighbors(node)))
		}
	}
}

func TestWattsStrogatzDegreePreserved(t *testing.T) {
	n, k := 20, 4
	g := NewWattsStrogatz(n, k, 0.0, rand.New(rand.NewSource(3)))
	// beta = 0: pure ring lattice
	if got, want := g.EdgeCount(), n*k/2; got != want {
		t.Errorf("edges = %d, want %d", got, want)
	}
	for node := 0; node < n; node++ {
		if len(g.Neighbors(node)) != k {
			t.Errorf("node %d degree = %d, want %d", node, len(g.Neighbors(node)), k)
		}
	}
	rewired := NewWattsStrogatz(n, k, 0.5, rand.New(rand.NewSource(3)))
	if rewired.EdgeCount() > n*k/2 {
		t.Errorf("rewiring added edges: %d", rewired.EdgeCount())
	}
}
