// Package graph builds the seeded interbank topologies banks are
// placed on: Erdős–Rényi, Barabási–Albert and Watts–Strogatz.
package graph

import (
	"math/rand"
	"sort"
)

// Network holds the undirected adjacency list of the interbank graph.
// Node ids are the bank indices 0..N-1.
type Network struct {
	N   int
	Adj map[int][]int
}

func newNetwork(n int) *Network {
	return &Network{N: n, Adj: make(map[int][]int, n)}
}

// Neighbors returns a node's neighbour set in ascending order.
func (g *Network) Neighbors(node int) []int {
	return g.Adj[node]
}

// EdgeCount returns the number of undirected edges.
func (g *Network) EdgeCount() int {
	total := 0
	for _, nbrs := range g.Adj {
		total += len(nbrs)
	}
	return total / 2
}

// HasEdge reports whether two nodes are connected.
func (g *Network) HasEdge(a, b int) bool {
	for _, nbr := range g.Adj[a] {
		if nbr == b {
			return true
		}
	}
	return false
}

type edgeSet map[int]map[int]bool

func (es edgeSet) add(a, b int) {
	if a == b {
		return
	}
	if es[a] == nil {
		es[a] = make(map[int]bool)
	}
	if es[b] == nil {
		es[b] = make(map[int]bool)
	}
	es[a][b] = true
	es[b][a] = true
}

func (es edgeSet) has(a, b int) bool {
	return es[a][b]
}

func (es edgeSet) remove(a, b int) {
	delete(es[a], b)
	delete(es[b], a)
}

func (es edgeSet) build(n int) *Network {
	g := newNetwork(n)
	for node := 0; node < n; node++ {
		nbrs := make([]int, 0, len(es[node]))
		for nbr := range es[node] {
			nbrs = append(nbrs, nbr)
		}
		sort.Ints(nbrs)
		g.Adj[node] = nbrs
	}
	return g
}

// NewErdosRenyi draws G(n, p): every pair is connected independently
// with probability p.
func NewErdosRenyi(n int, p float64, rng *rand.Rand) *Network {
	es := make(edgeSet)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < p {
				es.add(i, j)
			}
		}
	}
	return es.build(n)
}

// NewBarabasiAlbert grows a scale-free graph by preferential attachment:
// each new node attaches to m existing nodes with probability
// proportional to their degree.
func NewBarabasiAlbert(n, m int, rng *rand.Rand) *Network {
	if m < 1 {
		m = 1
	}
	if n <= m {
		return NewErdosRenyi(n, 1.0, rng)
	}
	es := make(edgeSet)

	// repeated holds one entry per edge endpoint, so uniform sampling
	// from it is degree-proportional sampling.
	var repeated []int
	targets := make([]int, m)
	for i := range targets {
		targets[i] = i
	}

	for source := m; source < n; source++ {
		for _, t := range targets {
			es.add(source, t)
			repeated = append(repeated, t, source)
		}
		// pick m distinct preferential targets for the next node
		chosen := make(map[int]bool, m)
		for len(chosen) < m {
			chosen[repeated[rng.Intn(len(repeated))]] = true
		}
		targets = targets[:0]
		for t := range chosen {
			targets = append(targets, t)
		}
		sort.Ints(targets)
	}
	return es.build(n)
}

// NewWattsStrogatz builds a small-world graph: a ring lattice with k
// neighbours per node (k/2 each side), then each lattice edge is
// rewired with probability beta.
func NewWattsStrogatz(n, k int, beta float64, rng *rand.Rand) *Network {
	if k >= n {
		k = n - 1
	}
	es := make(edgeSet)
	half := k / 2
	for i := 0; i < n; i++ {
		for j := 1; j <= half; j++ {
			es.add(i, (i+j)%n)
		}
	}
	for i := 0; i < n; i++ {
		for j := 1; j <= half; j++ {
			old := (i + j) % n
			if rng.Float64() >= beta {
				continue
			}
			// rewire i—old to i—new, keeping the graph simple
			candidate := rng.Intn(n)
			tries := 0
			for (candidate == i || es.has(i, candidate)) && tries < 2*n {
				candidate = rng.Intn(n)
				tries++
			}
			if candidate == i || es.has(i, candidate) {
				continue
			}
			es.remove(i, old)
			es.add(i, candidate)
		}
	}
	return es.build(n)
}
