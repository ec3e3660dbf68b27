package transpile

import (
	"math"
	"sort"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

// couplingGraph is an undirected view of a device coupling map.
type couplingGraph struct {
	adj [][]int
}

// newCouplingGraph returns nil for an empty coupling map, meaning every pair
// of qubits may interact.
func newCouplingGraph(numQubits int, edges [][2]int) *couplingGraph {
	if len(edges) == 0 {
		return nil
	}
	g := &couplingGraph{adj: make([][]int, numQubits)}
	seen := make(map[[2]int]bool)
	for _, e := range edges {
		a, b := e[0], e[1]
		if a == b || a < 0 || b < 0 || a >= numQubits || b >= numQubits {
			continue
		}
		if a > b {
			a, b = b, a
		}
		if seen[[2]int{a, b}] {
			continue
		}
		seen[[2]int{a, b}] = true
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}
	for _, n := range g.adj {
		sort.Ints(n)
	}
	return g
}

func (g *couplingGraph) connected(a, b int) bool {
	if g == nil {
		return true
	}
	for _, n := range g.adj[a] {
		if n == b {
			return true
		}
	}
	return false
}

// shortestPath is a BFS path from a to b inclusive, nil if unreachable.
func (g *couplingGraph) shortestPath(a, b int) []int {
	prev := make([]int, len(g.adj))
	for i := range prev {
		prev[i] = -1
	}
	prev[a] = a
	queue := []int{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == b {
			break
		}
		for _, n := range g.adj[cur] {
			if prev[n] == -1 {
				prev[n] = cur
				queue = append(queue, n)
			}
		}
	}
	if prev[b] == -1 {
		return nil
	}
	var path []int
	for cur := b; cur != a; cur = prev[cur] {
		path = append(path, cur)
	}
	path = append(path, a)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func trivialLayout(n int) []int {
	layout := make([]int, n)
	for i := range layout {
		layout[i] = i
	}
	return layout
}

// noiseAwareLayout places virtual qubits on a connected region grown from
// the physical qubit with the lowest readout error, preferring low-error
// neighbours. It falls back to the trivial layout without calibration or
// when the region cannot hold n qubits.
func noiseAwareLayout(n int, cal *noise.Calibration, g *couplingGraph) []int {
	if cal == nil || len(cal.ReadoutError) == 0 || g == nil {
		return trivialLayout(n)
	}
	score := func(q int) float64 {
		if v, ok := cal.ReadoutError[q]; ok {
			return v
		}
		return math.Inf(1)
	}
	less := func(a, b int) bool {
		sa, sb := score(a), score(b)
		if sa != sb {
			return sa < sb
		}
		return a < b
	}

	start := 0
	for q := range g.adj {
		if less(q, start) {
			start = q
		}
	}

	visited := map[int]bool{start: true}
	order := []int{start}
	for i := 0; i < len(order) && len(order) < n; i++ {
		next := append([]int(nil), g.adj[order[i]]...)
		sort.Slice(next, func(x, y int) bool { return less(next[x], next[y]) })
		for _, q := range next {
			if !visited[q] && len(order) < n {
				visited[q] = true
				order = append(order, q)
			}
		}
	}
	if len(order) < n {
		return trivialLayout(n)
	}
	return order
}

// route maps c onto physical qubits through layout, inserting swaps (as
// three cx) wherever a cx acts on uncoupled qubits. It returns the routed
// circuit and the final virtual-to-physical layout.
func route(c *circuit.Circuit, layout []int, g *couplingGraph, width int) (*circuit.Circuit, []int, error) {
	l2p := append([]int(nil), layout...)
	p2v := make([]int, width)
	for i := range p2v {
		p2v[i] = -1
	}
	for v, p := range l2p {
		p2v[p] = v
	}

	out := &circuit.Circuit{Name: c.Name, NumQubits: width}
	for _, in := range c.Instructions {
		if len(in.Qubits) == 2 && !g.connected(l2p[in.Qubits[0]], l2p[in.Qubits[1]]) {
			a, b := l2p[in.Qubits[0]], l2p[in.Qubits[1]]
			path := g.shortestPath(a, b)
			if path == nil {
				return nil, nil, qerr.Invalid("physical qubits %d and %d are not connected", a, b)
			}
			for k := 0; k < len(path)-2; k++ {
				p, q := path[k], path[k+1]
				out.Instructions = append(out.Instructions, swapCX(p, q)...)
				vp, vq := p2v[p], p2v[q]
				p2v[p], p2v[q] = vq, vp
				if vp >= 0 {
					l2p[vp] = q
				}
				if vq >= 0 {
					l2p[vq] = p
				}
			}
		}
		mapped := cloneInstruction(in)
		for i, v := range mapped.Qubits {
			mapped.Qubits[i] = l2p[v]
		}
		out.Instructions = append(out.Instructions, mapped)
	}
	return out, l2p, nil
}
