// Package mimegraph finds the minimum-cost filter chain that converts one
// MIME type into another, mirroring the mime.types/mime.convs filter graph
// CUPS builds at startup (original_source/scheduler/, conceptually; there
// is no single file since the real implementation lives in libcups'
// mime.c, not carried into original_source). Implemented with stdlib
// container/heap since the corpus has no general weighted-digraph
// shortest-path library.
package mimegraph

import (
	"container/heap"
	"fmt"
)

// WildcardType matches any MIME type on the side of a Filter it's used.
const WildcardType = "*/*"

// NoTransform is the sentinel program-path meaning "no transformation
// needed": it contributes zero cost and zero hops and never appears in a
// returned chain.
const NoTransform = "-"

// Filter is one edge declaration: source-type -> dest-type at the given
// cost, realized by running program-path.
type Filter struct {
	Source, Dest string
	Cost         int
	ProgramPath  string
}

// Graph is a mutable MIME/filter graph. Mutation (Register/Unregister) must
// not happen while any job referencing the graph is in the processing
// state (enforced by the caller, per spec).
type Graph struct {
	types   map[string]struct{}
	filters []Filter
	// edgesFrom indexes concrete (non-wildcard) filters by source type,
	// expanded from any filters that declare a wildcard side.
	edgesFrom map[string][]Filter
}

// New constructs an empty graph seeded with the given known MIME types.
func New(types []string) *Graph {
	g := &Graph{
		types:     make(map[string]struct{}, len(types)),
		edgesFrom: make(map[string][]Filter),
	}
	for _, t := range types {
		g.types[t] = struct{}{}
	}
	return g
}

// Register adds the edges for a printer's declared filters (those whose
// dest-type is the printer's own printer-type vertex, or which otherwise
// belong to it), expanding wildcards against the currently known type set.
func (g *Graph) Register(filters []Filter) {
	g.filters = append(g.filters, filters...)
	g.rebuild()
}

// Unregister removes exactly the given filters (by value) from the graph,
// e.g. when a printer is deleted.
func (g *Graph) Unregister(filters []Filter) {
	kept := g.filters[:0:0]
	for _, f := range g.filters {
		drop := false
		for _, r := range filters {
			if f == r {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, f)
		}
	}
	g.filters = kept
	g.rebuild()
}

func (g *Graph) rebuild() {
	g.edgesFrom = make(map[string][]Filter)
	for _, f := range g.filters {
		sources := g.expand(f.Source)
		dests := g.expand(f.Dest)
		for _, s := range sources {
			for _, d := range dests {
				ef := f
				ef.Source, ef.Dest = s, d
				g.edgesFrom[s] = append(g.edgesFrom[s], ef)
			}
		}
	}
}

func (g *Graph) expand(t string) []string {
	if t != WildcardType {
		return []string{t}
	}
	out := make([]string, 0, len(g.types))
	for known := range g.types {
		out = append(out, known)
	}
	return out
}

type heapNode struct {
	mimeType string
	cost     int
	hops     int
}

type nodeHeap []heapNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].hops < h[j].hops
}
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(heapNode)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type best struct {
	cost, hops int
	via        Filter
	from       string
	has        bool
}

// Filters returns the minimum-total-cost sequence of filters converting
// srcType to dstType. Ties are broken by fewest hops, then by the
// lexicographically smaller program-path of the filter entering each
// type as the search reaches it. Returns
// (nil, false) when no path exists. If srcType == dstType the result is an
// empty, successful chain (the identity conversion, realized without a "-"
// filter being present).
func (g *Graph) Filters(srcType, dstType string) ([]Filter, bool) {
	if srcType == dstType {
		return nil, true
	}

	dist := map[string]best{srcType: {cost: 0, hops: 0, has: true}}
	pq := &nodeHeap{{mimeType: srcType, cost: 0, hops: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(heapNode)
		known := dist[cur.mimeType]
		if cur.cost > known.cost || (cur.cost == known.cost && cur.hops > known.hops) {
			continue
		}
		if cur.mimeType == dstType {
			break
		}
		for _, f := range g.edgesFrom[cur.mimeType] {
			cost, hops := cur.cost+f.Cost, cur.hops+1
			if f.ProgramPath == NoTransform {
				cost, hops = cur.cost, cur.hops
			}
			prev, ok := dist[f.Dest]
			better := !ok || cost < prev.cost || (cost == prev.cost && hops < prev.hops) ||
				(cost == prev.cost && hops == prev.hops && f.ProgramPath < prev.via.ProgramPath)
			if better {
				dist[f.Dest] = best{cost: cost, hops: hops, via: f, from: cur.mimeType, has: true}
				heap.Push(pq, heapNode{mimeType: f.Dest, cost: cost, hops: hops})
			}
		}
	}

	final, ok := dist[dstType]
	if !ok {
		return nil, false
	}

	var chain []Filter
	for node := dstType; node != srcType; {
		b := dist[node]
		if !b.has {
			return nil, false
		}
		if b.via.ProgramPath != NoTransform {
			chain = append([]Filter{b.via}, chain...)
		}
		node = b.from
	}
	_ = final
	return chain, true
}

func (f Filter) String() string {
	return fmt.Sprintf("%s->%s(cost=%d,%s)", f.Source, f.Dest, f.Cost, f.ProgramPath)
}
