package codegen

import (
	"sort"

	"github.com/sherter/minijavac/internal/codegen/lifetime"
	"github.com/sherter/minijavac/internal/codegen/regalloc"
	"github.com/sherter/minijavac/internal/ir"
)

// move is one scheduled register/memory-to-register/memory transfer,
// either an intra-interval split move or one leg of a Phi resolution.
type move struct {
	dst, src Operand
}

// ResolveMoves rewrites every VReg operand in fn's instructions into its
// allocated physical register or stack slot, inserts the moves a split
// interval boundary requires, and lowers each block's Phis into moves
// placed at the end of the corresponding predecessor block. Phi cycles
// (two or more values rotating through each other's locations) are broken
// by staging one value through the R11 scratch register; a trivial
// `mov x, x` produced by a value that is already where it needs to be is
// dropped.
func ResolveMoves(g *ir.Graph, order []*ir.Block, fn *Function, intervals *lifetime.Result, alloc *regalloc.Allocation) {
	rewriteOperands(fn, intervals, alloc)

	origLen := make(map[*Block]int, len(fn.Blocks))
	for _, cb := range fn.Blocks {
		origLen[cb] = len(cb.Instrs)
	}

	insertSplitMoves(fn, alloc, origLen)
	resolvePhis(g, order, fn, intervals, alloc, origLen)
}

// rewriteOperands replaces every Operand referencing a VReg with its
// allocated Physical or Memory form, resolved at that instruction's own
// position so a split interval picks up the right half.
func rewriteOperands(fn *Function, intervals *lifetime.Result, alloc *regalloc.Allocation) {
	for _, b := range fn.Blocks {
		start := lifetime.Position(b.Ordinal * 1_000_000)

		for i, in := range b.Instrs {
			// Matches lifetime.Analyze's own per-instruction position: each
			// instruction's def and uses are recorded at start+(i+1)*2, so an
			// operand must be resolved at that same position to land on the
			// correct side of a split that falls exactly on this instruction.
			pos := start + lifetime.Position((i+1)*2)

			rewriteOperand(&in.Dst, pos, alloc)
			rewriteOperand(&in.Src1, pos, alloc)
			rewriteOperand(&in.Src2, pos, alloc)
		}
	}
}

func rewriteOperand(o *Operand, pos lifetime.Position, alloc *regalloc.Allocation) {
	if o.Kind != OperandVReg {
		if o.Kind == OperandMemory && o.Mem.HasBase && !o.Mem.BaseIsPhys {
			if e, ok := alloc.Resolve(o.Mem.Base, pos); ok && e.Type == regalloc.AllocRegister {
				o.Mem.BaseIsPhys = true
				o.Mem.BasePhysical = e.Reg
			}
		}

		return
	}

	e, ok := alloc.Resolve(o.VReg, pos)
	if !ok {
		return
	}

	if e.Type == regalloc.AllocRegister {
		*o = Phys(o.Width, e.Reg)
	} else {
		*o = Mem(o.Width, AddressingMode{HasBase: true, BaseIsPhys: true, BasePhysical: RegBP, Displacement: -e.SlotOff})
	}
}

// insertSplitMoves implements §4.5's intra-interval moves: wherever
// splitting handed consecutive pieces of the same root different locations,
// emit the mov that carries the value from the old location into the new
// one at the split boundary. rewriteOperands has already run, so every
// operand already at or after the boundary refers to the new location; this
// pass only has to physically produce it there.
func insertSplitMoves(fn *Function, alloc *regalloc.Allocation, origLen map[*Block]int) {
	byOrdinal := make(map[int]*Block, len(fn.Blocks))
	for _, b := range fn.Blocks {
		byOrdinal[b.Ordinal] = b
	}

	type site struct {
		idx int
		mv  move
	}

	sites := make(map[*Block][]site)

	for _, root := range alloc.Roots() {
		entries := append([]*regalloc.Entry(nil), alloc.SplitsForRoot(root)...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Interval.From() < entries[j].Interval.From() })

		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]

			if prev.Interval.To() != cur.Interval.From() {
				// Not a genuine split boundary (e.g. two disjoint live
				// ranges of the same root with a gap between them) —
				// nothing carries a value across a gap.
				continue
			}

			srcOperand := operandForEntry(prev)
			dstOperand := operandForEntry(cur)

			if operandsEqual(srcOperand, dstOperand) {
				continue
			}

			splitPos := cur.Interval.From()

			b, ok := byOrdinal[int(splitPos)/1_000_000]
			if !ok {
				continue
			}

			idx := splitInsertIndex(b, origLen[b], splitPos)
			sites[b] = append(sites[b], site{idx: idx, mv: move{dst: dstOperand, src: srcOperand}})
		}
	}

	for b, list := range sites {
		// Insert from the highest index down so an earlier insertion never
		// invalidates an index computed for a later (lower-index) one.
		sort.Slice(list, func(i, j int) bool { return list[i].idx > list[j].idx })

		for _, s := range list {
			idx := s.idx
			if idx >= len(b.Instrs) {
				idx = len(b.Instrs) - 1 // splice before the terminator
			}

			if idx < 0 {
				idx = 0
			}

			in := &Instr{Op: InstrMovRR, HasDst: true, Dst: s.mv.dst, Src1: s.mv.src}

			instrs := make([]*Instr, 0, len(b.Instrs)+1)
			instrs = append(instrs, b.Instrs[:idx]...)
			instrs = append(instrs, in)
			instrs = append(instrs, b.Instrs[idx:]...)
			b.Instrs = instrs
		}
	}
}

// splitInsertIndex finds the instruction index, among a block's original
// origCount instructions, that a split landing at position p falls before.
// A result of origCount means the split falls at or past the block's own end,
// i.e. it straddles into a successor block, handled by clamping to just
// before the terminator.
func splitInsertIndex(b *Block, origCount int, p lifetime.Position) int {
	start := lifetime.Position(b.Ordinal * 1_000_000)

	for i := 0; i < origCount; i++ {
		if start+lifetime.Position((i+1)*2) >= p {
			return i
		}
	}

	return origCount
}

func operandForEntry(e *regalloc.Entry) Operand {
	if e.Type == regalloc.AllocRegister {
		return Phys(e.Interval.Width, e.Reg)
	}

	return Mem(e.Interval.Width, AddressingMode{HasBase: true, BaseIsPhys: true, BasePhysical: RegBP, Displacement: -e.SlotOff})
}

// resolvePhis inserts, at the end of each block, the moves that implement
// every successor's Phi selecting this block's argument.
func resolvePhis(g *ir.Graph, order []*ir.Block, fn *Function, intervals *lifetime.Result, alloc *regalloc.Allocation, origLen map[*Block]int) {
	blockByName := make(map[string]*Block, len(fn.Blocks))
	for _, cb := range fn.Blocks {
		blockByName[cb.Name] = cb
	}

	for _, b := range order {
		if len(b.Phis) == 0 {
			continue
		}

		for predIdx, pred := range b.Preds {
			predPos := lifetime.Position(pred.LinearizedOrdinal*1_000_000 + origLen[blockByName[pred.Name]]*2)

			var moves []move

			for _, phi := range b.Phis {
				arg := phi.Args[predIdx]
				if arg.Pred != pred {
					continue
				}

				srcOperand := operandAt(g, fn, arg.Src, predPos, alloc)
				dstOperand := operandAt(g, fn, phi.Dest, predPos, alloc)

				if operandsEqual(srcOperand, dstOperand) {
					continue
				}

				moves = append(moves, move{dst: dstOperand, src: srcOperand})
			}

			insertScheduled(blockByName[pred.Name], moves)
		}
	}
}

func operandAt(g *ir.Graph, fn *Function, id ir.NodeID, pos lifetime.Position, alloc *regalloc.Allocation) Operand {
	n := g.Node(id)

	if n.Op == ir.OpConstInt {
		return Imm(n.Mode.Width, n.ConstValue)
	}

	root, ok := fn.ValueOf[id]
	if !ok {
		return Operand{}
	}

	e, ok := alloc.Resolve(root, pos)
	if !ok {
		return Operand{}
	}

	if e.Type == regalloc.AllocRegister {
		return Phys(n.Mode.Width, e.Reg)
	}

	return Mem(n.Mode.Width, AddressingMode{HasBase: true, BaseIsPhys: true, BasePhysical: RegBP, Displacement: -e.SlotOff})
}

func operandsEqual(a, b Operand) bool {
	return a == b
}

func insertScheduled(cb *Block, moves []move) {
	if len(moves) == 0 {
		return
	}

	scheduled := scheduleMoves(moves)

	// The block's last instruction is always its terminator (Jmp/Jcc/Ret);
	// the moves must execute before it takes effect.
	tail := cb.Instrs[len(cb.Instrs)-1]
	body := cb.Instrs[:len(cb.Instrs)-1]

	var inserted []*Instr

	for _, m := range scheduled {
		inserted = append(inserted, &Instr{Op: InstrMovRR, HasDst: true, Dst: m.dst, Src1: m.src})
	}

	cb.Instrs = append(append(body, inserted...), tail)
}

// scheduleMoves orders a set of parallel moves into a sequence, breaking
// any cycle (a rotates into b's slot, b into a's) by staging one value
// through R11, the move-resolver scratch register, which is left out of
// AllocatableRegisters so no allocated interval ever lives in it. No xchg
// is emitted, for register or memory legs alike.
func scheduleMoves(moves []move) []move {
	remaining := append([]move(nil), moves...)

	var out []move

	writesTo := func(dst Operand, except int) bool {
		for i, m := range remaining {
			if i == except {
				continue
			}

			if operandsEqual(m.src, dst) {
				return true
			}
		}

		return false
	}

	for len(remaining) > 0 {
		progressed := false

		for i := 0; i < len(remaining); i++ {
			m := remaining[i]
			if !writesTo(m.dst, i) {
				out = append(out, m)
				remaining = append(remaining[:i], remaining[i+1:]...)
				progressed = true

				break
			}
		}

		if progressed {
			continue
		}

		// Every remaining move's destination is itself read by another
		// remaining move: a pure cycle. Break it by saving the value the
		// first move is about to overwrite in the scratch register and
		// redirecting that value's readers to the scratch copy.
		m := remaining[0]
		scratch := Phys(m.dst.Width, RegR11)
		out = append(out, move{dst: scratch, src: m.dst})

		for i := range remaining {
			if operandsEqual(remaining[i].src, m.dst) {
				remaining[i].src = scratch
			}
		}

		out = append(out, move{dst: m.dst, src: m.src})
		remaining = remaining[1:]
	}

	return out
}
