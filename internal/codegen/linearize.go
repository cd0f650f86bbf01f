package codegen

import (
	"github.com/sherter/minijavac/internal/diagnostics"
	"github.com/sherter/minijavac/internal/ir"
)

// Linearize assigns every block in g a LinearizedOrdinal and returns the
// blocks in that order. The order is computed by: (1) an iterative
// dominator-tree fixed point over reverse postorder, (2) natural-loop
// discovery from back edges (pred -> header where header dominates pred),
// (3) a DFS from the entry block that defers a block until every
// non-back-edge predecessor has been emitted, recursing into a loop's full
// body before continuing past the loop. This keeps a loop body contiguous
// in the final order, which lifetime analysis relies on to extend a
// loop-carried value's range across the whole loop (§4.3).
func Linearize(g *ir.Graph) []*ir.Block {
	entry := entryBlock(g)
	rpo := reversePostorder(g, entry)
	idom := computeDominators(g, entry, rpo)
	backEdges := findBackEdges(g, idom, rpo)
	loopOf, loopsByHeader := classifyLoops(g, backEdges)

	order := make([]*ir.Block, 0, len(g.Blocks))
	emitted := make(map[*ir.Block]bool, len(g.Blocks))
	isBackEdgeTarget := make(map[*ir.Block]bool)

	for _, e := range backEdges {
		isBackEdgeTarget[e.header] = true
	}

	var walk func(b *ir.Block)

	walk = func(b *ir.Block) {
		if emitted[b] {
			return
		}

		for _, p := range b.Preds {
			if emitted[p] {
				continue
			}

			if isBackEdge(backEdges, p, b) {
				continue
			}

			return // a forward predecessor hasn't been emitted yet; wait
		}

		emitted[b] = true
		b.LinearizedOrdinal = len(order)
		order = append(order, b)

		for _, s := range b.Succs {
			if loopOf[b] != nil && loopOf[s] == nil && s != loopOf[b].header {
				continue // don't leave the loop body until it is fully walked
			}

			walk(s)
		}

		if lp := loopOf[b]; lp != nil && b == lp.lastBodyBlock(order, emitted) {
			for _, s := range lp.header.Succs {
				if loopOf[s] == nil {
					walk(s)
				}
			}
		}
	}

	walk(entry)

	// Any block unreachable from entry by the deferred walk (e.g. isolated
	// error-handling stubs a selector never jumps to) still needs a
	// position so nothing downstream indexes past the slice end.
	for _, b := range g.Blocks {
		if !emitted[b] {
			emitted[b] = true
			b.LinearizedOrdinal = len(order)
			order = append(order, b)
		}
	}

	assignLoopDepths(g, loopsByHeader)

	return order
}

// assignLoopDepths sets every block's LoopDepth to the number of natural
// loops (one per loopInfo, keyed by header) whose body contains it, so
// nested loops accumulate depth > 1.
func assignLoopDepths(g *ir.Graph, byHeader map[*ir.Block]*loopInfo) {
	for _, b := range g.Blocks {
		depth := 0

		for _, lp := range byHeader {
			if lp.body[b] {
				depth++
			}
		}

		b.LoopDepth = depth
	}
}

func entryBlock(g *ir.Graph) *ir.Block {
	if len(g.Blocks) == 0 {
		diagnostics.Invariant("linearize: graph %q has no blocks", g.Name)
	}

	return g.Blocks[0]
}

func reversePostorder(g *ir.Graph, entry *ir.Block) []*ir.Block {
	visited := make(map[*ir.Block]bool, len(g.Blocks))
	var post []*ir.Block

	var dfs func(b *ir.Block)

	dfs = func(b *ir.Block) {
		if visited[b] {
			return
		}

		visited[b] = true

		for _, s := range b.Succs {
			dfs(s)
		}

		post = append(post, b)
	}

	dfs(entry)

	rpo := make([]*ir.Block, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}

	return rpo
}

// computeDominators runs the Cooper/Harvey/Kennedy iterative fixed point
// over rpo, returning each block's immediate dominator.
func computeDominators(g *ir.Graph, entry *ir.Block, rpo []*ir.Block) map[*ir.Block]*ir.Block {
	index := make(map[*ir.Block]int, len(rpo))
	for i, b := range rpo {
		index[b] = i
	}

	idom := make(map[*ir.Block]*ir.Block, len(rpo))
	idom[entry] = entry

	changed := true
	for changed {
		changed = false

		for _, b := range rpo {
			if b == entry {
				continue
			}

			var newIdom *ir.Block

			for _, p := range b.Preds {
				if idom[p] == nil {
					continue
				}

				if newIdom == nil {
					newIdom = p
					continue
				}

				newIdom = intersect(newIdom, p, idom, index)
			}

			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	return idom
}

func intersect(a, b *ir.Block, idom map[*ir.Block]*ir.Block, index map[*ir.Block]int) *ir.Block {
	for a != b {
		for index[a] > index[b] {
			a = idom[a]
		}

		for index[b] > index[a] {
			b = idom[b]
		}
	}

	return a
}

func dominates(idom map[*ir.Block]*ir.Block, header, node *ir.Block) bool {
	for node != header {
		parent, ok := idom[node]
		if !ok || parent == node {
			return false
		}

		node = parent
	}

	return true
}

type backEdge struct {
	from, header *ir.Block
}

func findBackEdges(g *ir.Graph, idom map[*ir.Block]*ir.Block, rpo []*ir.Block) []backEdge {
	var edges []backEdge

	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			if dominates(idom, s, b) {
				edges = append(edges, backEdge{from: b, header: s})
			}
		}
	}

	return edges
}

func isBackEdge(edges []backEdge, from, to *ir.Block) bool {
	for _, e := range edges {
		if e.from == from && e.header == to {
			return true
		}
	}

	return false
}

// loopInfo records the natural loop for one header, discovered by walking
// predecessors backward from each back-edge source until the header is
// reached.
type loopInfo struct {
	header *ir.Block
	body   map[*ir.Block]bool
}

func (l *loopInfo) lastBodyBlock(order []*ir.Block, emitted map[*ir.Block]bool) *ir.Block {
	var last *ir.Block

	for _, b := range order {
		if l.body[b] && emitted[b] {
			last = b
		}
	}

	return last
}

func classifyLoops(g *ir.Graph, edges []backEdge) (membership map[*ir.Block]*loopInfo, byHeader map[*ir.Block]*loopInfo) {
	byHeader = make(map[*ir.Block]*loopInfo)

	for _, e := range edges {
		lp, ok := byHeader[e.header]
		if !ok {
			lp = &loopInfo{header: e.header, body: map[*ir.Block]bool{e.header: true}}
			byHeader[e.header] = lp
		}

		var stack []*ir.Block
		stack = append(stack, e.from)

		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if lp.body[n] {
				continue
			}

			lp.body[n] = true

			for _, p := range n.Preds {
				stack = append(stack, p)
			}
		}
	}

	membership = make(map[*ir.Block]*loopInfo)

	for _, lp := range byHeader {
		for b := range lp.body {
			membership[b] = lp
		}
	}

	return membership, byHeader
}
