// Package lifetime computes per-virtual-register live ranges and the use
// sites within them that the linear-scan allocator in
// internal/codegen/regalloc needs: where a value is next read, whether that
// read could be served directly from memory instead of a register, and
// which physical register (if any) the value is hinted toward.
package lifetime

import (
	"fmt"
	"sort"

	"github.com/sherter/minijavac/internal/codegen"
)

// Position is a dense, strictly increasing instruction position within one
// linearized function. Each instruction advances it by two, but an
// instruction's defs and its uses are both recorded at the same position
// (blockStart + 2*(i+1) for the i-th instruction of a block), so a def and
// a use on the same instruction do not get distinct positions.
type Position int

func blockStart(ordinal int) Position { return Position(ordinal * 1_000_000) }

// UseKind distinguishes a use that must be materialized into a register
// from one the emitter could satisfy with a direct memory operand, which
// the allocator uses to avoid an unnecessary reload when a value is spilled.
type UseKind int

const (
	UseRegister UseKind = iota
	UseMemoryOK
)

// UseSite is one read of a value.
type UseSite struct {
	Pos  Position
	Kind UseKind
	Hint codegen.PhysicalRegister // zero if the use carries no preference
}

// Range is one contiguous [From, To) span during which a value is live.
type Range struct {
	From, To Position
}

func (r Range) covers(p Position) bool { return p >= r.From && p < r.To }

// Interval is the full lifetime of one virtual register: at most one Range
// per block (loop-carried extension widens a block's existing range rather
// than adding a second one) and the ordered list of places it is read.
type Interval struct {
	VReg  codegen.VRegID
	Width int
	Ranges []Range
	Uses   []UseSite

	// FromHints is the set of physical registers this interval's value
	// arrived from (its def was a copy out of a constrained/physical
	// source); ToHints is the set it is headed toward (a later copy feeds
	// it into a constrained/physical destination). Both are populated once,
	// after every interval is built, by scanning copy-style instructions;
	// the allocator prefers a register in either set before falling back to
	// the freeUntilPos heuristic.
	FromHints []codegen.PhysicalRegister
	ToHints   []codegen.PhysicalRegister

	// Root is non-zero for an interval produced by regalloc splitting and
	// names the original interval's vreg; all splits of the same original
	// interval share it for the purpose of stack-slot assignment (§4.4
	// per-root-vreg slot sharing).
	Root codegen.VRegID
}

func addHint(set *[]codegen.PhysicalRegister, r codegen.PhysicalRegister) {
	for _, e := range *set {
		if e == r {
			return
		}
	}

	*set = append(*set, r)
}

func (iv *Interval) String() string {
	return fmt.Sprintf("v%d:%v", iv.VReg, iv.Ranges)
}

// Covers reports whether p falls within any of iv's ranges.
func (iv *Interval) Covers(p Position) bool {
	for _, r := range iv.Ranges {
		if r.covers(p) {
			return true
		}
	}

	return false
}

// From is the position the interval's earliest range begins.
func (iv *Interval) From() Position {
	from := iv.Ranges[0].From
	for _, r := range iv.Ranges[1:] {
		if r.From < from {
			from = r.From
		}
	}

	return from
}

// To is the position the interval's latest range ends.
func (iv *Interval) To() Position {
	to := iv.Ranges[0].To
	for _, r := range iv.Ranges[1:] {
		if r.To > to {
			to = r.To
		}
	}

	return to
}

// NextUseAfter returns the position of the first use at or after p, and
// whether one exists.
func (iv *Interval) NextUseAfter(p Position) (Position, bool) {
	for _, u := range iv.Uses {
		if u.Pos >= p {
			return u.Pos, true
		}
	}

	return 0, false
}

// FirstUseNeedingRegister returns the earliest use (at or after p) that
// cannot be served from memory, used by the allocator to decide whether a
// spill can be deferred past a purely-memory-tolerant stretch.
func (iv *Interval) FirstUseNeedingRegister(p Position) (Position, bool) {
	for _, u := range iv.Uses {
		if u.Pos >= p && u.Kind == UseRegister {
			return u.Pos, true
		}
	}

	return 0, false
}

// SplitBefore divides iv into a head ending at p and a tail starting at p,
// partitioning its ranges and uses accordingly. Both halves keep Root set
// to iv's own root (or iv.VReg if iv was not itself a split), so any number
// of splits still resolve to one spill slot.
func (iv *Interval) SplitBefore(p Position, newID codegen.VRegID) (head, tail *Interval) {
	root := iv.Root
	if root == 0 {
		root = iv.VReg
	}

	head = &Interval{VReg: iv.VReg, Width: iv.Width, Root: root, FromHints: iv.FromHints}
	tail = &Interval{VReg: newID, Width: iv.Width, Root: root, ToHints: iv.ToHints}

	for _, r := range iv.Ranges {
		switch {
		case r.To <= p:
			head.Ranges = append(head.Ranges, r)
		case r.From >= p:
			tail.Ranges = append(tail.Ranges, r)
		default:
			head.Ranges = append(head.Ranges, Range{From: r.From, To: p})
			tail.Ranges = append(tail.Ranges, Range{From: p, To: r.To})
		}
	}

	for _, u := range iv.Uses {
		if u.Pos < p {
			head.Uses = append(head.Uses, u)
		} else {
			tail.Uses = append(tail.Uses, u)
		}
	}

	return head, tail
}

// FixedInterval records where a physical register is pinned by ABI or
// instruction-encoding constraints (e.g. RAX/RDX around IDIV, argument and
// return registers around Call/Return) independent of any virtual
// register, so the allocator can treat it exactly like a busy interval when
// deciding whether a vreg may use that register.
type FixedInterval struct {
	Reg    codegen.PhysicalRegister
	Ranges []Range
}

func (f *FixedInterval) Covers(p Position) bool {
	for _, r := range f.Ranges {
		if r.covers(p) {
			return true
		}
	}

	return false
}

// Result is everything Analyze computes for one function.
type Result struct {
	Virtual map[codegen.VRegID]*Interval
	Fixed   map[codegen.PhysicalRegister]*FixedInterval
	// Order lists the virtual intervals sorted by start position, the
	// iteration order the allocator's unhandled worklist is seeded from.
	Order []*Interval
}

// Analyze computes live ranges and use sites for every virtual register in
// fn, plus fixed intervals for any physical register a hard constraint
// pins. It works backward per block (liveOut fixed point across the whole
// function first, then one reverse walk per block extending ranges and
// recording uses), and extends any value live into a loop header across the
// loop's entire body so register pressure inside the loop accounts for it.
func Analyze(fn *codegen.Function) (*Result, error) {
	liveOut := computeLiveOut(fn)

	res := &Result{
		Virtual: make(map[codegen.VRegID]*Interval),
		Fixed:   make(map[codegen.PhysicalRegister]*FixedInterval),
	}

	get := func(id codegen.VRegID) *Interval {
		iv, ok := res.Virtual[id]
		if !ok {
			v := fn.Arena.Lookup(id)
			iv = &Interval{VReg: id, Width: v.Width}
			res.Virtual[id] = iv
		}

		return iv
	}

	getFixed := func(r codegen.PhysicalRegister) *FixedInterval {
		f, ok := res.Fixed[r]
		if !ok {
			f = &FixedInterval{Reg: r}
			res.Fixed[r] = f
		}

		return f
	}

	addRange := func(iv *Interval, from, to Position) {
		iv.Ranges = append(iv.Ranges, Range{From: from, To: to})
	}

	for _, b := range fn.Blocks {
		start := blockStart(b.Ordinal)
		end := start + Position(len(b.Instrs)*2) + 2

		live := make(map[codegen.VRegID]bool)
		for id := range liveOut[b] {
			live[id] = true
			addRange(get(id), start, end)
		}

		pos := end
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			in := b.Instrs[i]
			pos -= 2

			// A destructive two-address instruction (selectArith's "op tmp,
			// rhs", selectDivMod's Cqo/IDiv) lists the same vreg in both
			// Defs and Uses: it reads and overwrites the same storage in
			// one step, so that vreg's live range must stay open across
			// this instruction rather than being closed by the def and
			// reopened by the use, which would produce two overlapping
			// ranges for one interval within this block (§8).
			selfDefUse := make(map[codegen.VRegID]bool, len(in.Defs))
			for _, d := range in.Defs {
				for _, u := range in.Uses {
					if u == d {
						selfDefUse[d] = true
						break
					}
				}
			}

			for _, d := range in.Defs {
				iv := get(d)

				// The range already open going backward belongs to this
				// same instruction's own read of d; leave it alone and let
				// the def that actually begins d's value (further back)
				// close it.
				if !selfDefUse[d] {
					// A def that is never read still needs a one-slot range
					// so the allocator sees it occupy a register at pos.
					if len(iv.Ranges) == 0 || iv.Ranges[len(iv.Ranges)-1].From > pos {
						addRange(iv, pos, pos+1)
					} else {
						iv.Ranges[len(iv.Ranges)-1].From = pos
					}

					delete(live, d)
				}

				if v := fn.Arena.Lookup(d); v.Constraint != codegen.RegInvalid {
					addRange(getFixed(v.Constraint), pos, pos+1)
				}
			}

			for _, u := range in.Uses {
				iv := get(u)
				kind := UseRegister
				if in.Op == codegen.InstrStore || in.Op == codegen.InstrLoad {
					kind = UseMemoryOK
				}

				hint := fn.Arena.Lookup(u).Hint
				iv.Uses = append(iv.Uses, UseSite{Pos: pos, Kind: kind, Hint: hint})

				if !live[u] {
					live[u] = true
					addRange(iv, start, pos+1)
				}
			}

			// A Call clobbers every caller-saved register under the System V
			// convention, independent of whatever vregs it happens to list as
			// Defs (only the constrained return-value vreg, if any, is a real
			// Def): pin a 1-position fixed-interval range at the call's
			// position for each such register, matching how a constrained
			// def above pins its own register, so the allocator evicts any
			// live value out of it across the call site.
			if in.Op == codegen.InstrCall {
				for _, r := range codegen.CallerSavedRegisters {
					addRange(getFixed(r), pos, pos+1)
				}
			}
		}

		for id := range live {
			extendLoopCarried(fn, b, id, res.Virtual, start)
		}
	}

	propagateHints(fn, res)

	for _, iv := range res.Virtual {
		sort.Slice(iv.Uses, func(i, j int) bool { return iv.Uses[i].Pos < iv.Uses[j].Pos })
		sort.Slice(iv.Ranges, func(i, j int) bool { return iv.Ranges[i].From < iv.Ranges[j].From })
	}

	for _, iv := range res.Virtual {
		res.Order = append(res.Order, iv)
	}

	sort.Slice(res.Order, func(i, j int) bool { return res.Order[i].From() < res.Order[j].From() })

	return res, nil
}

// propagateHints implements §4.3 step 3: for every copy-style instruction
// `mov dst, src`, the destination's physical candidate (its hard constraint
// or arena hint, if it has one) becomes a toHint on src's interval, and
// src's physical candidate becomes a fromHint on dst's interval. This is how
// a value copied into a Call argument register, an IDIV operand, or a
// Return slot propagates that register back to whatever produced it, and
// how a value copied out of an Arg register propagates it forward.
func propagateHints(fn *codegen.Function, res *Result) {
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			if in.Op != codegen.InstrMovRR || !in.HasDst {
				continue
			}

			if dstPhys, ok := candidatePhys(fn, in.Dst); ok && in.Src1.Kind == codegen.OperandVReg {
				if iv, ok := res.Virtual[in.Src1.VReg]; ok {
					addHint(&iv.ToHints, dstPhys)
				}
			}

			if srcPhys, ok := candidatePhys(fn, in.Src1); ok && in.Dst.Kind == codegen.OperandVReg {
				if iv, ok := res.Virtual[in.Dst.VReg]; ok {
					addHint(&iv.FromHints, srcPhys)
				}
			}
		}
	}
}

// candidatePhys returns the physical register o is fixed to or hinted
// toward, if any: the register directly for a physical operand, or a
// vreg's hard constraint (falling back to its arena hint).
func candidatePhys(fn *codegen.Function, o codegen.Operand) (codegen.PhysicalRegister, bool) {
	switch o.Kind {
	case codegen.OperandPhysical:
		return o.Physical, true
	case codegen.OperandVReg:
		v := fn.Arena.Lookup(o.VReg)
		if v.Constraint != codegen.RegInvalid {
			return v.Constraint, true
		}

		if v.Hint != codegen.RegInvalid {
			return v.Hint, true
		}
	}

	return codegen.RegInvalid, false
}

// extendLoopCarried widens id's interval to cover b's entire block range
// when b sits inside a loop, matching §4.3's loop-header whole-body
// extension: a value still live at a loop header must stay live across
// every iteration's body, not just the edge back to the header.
func extendLoopCarried(fn *codegen.Function, b *codegen.Block, id codegen.VRegID, virt map[codegen.VRegID]*Interval, start Position) {
	if b.LoopDepth == 0 {
		return
	}

	iv := virt[id]
	end := start + Position(len(b.Instrs)*2) + 2

	for i, r := range iv.Ranges {
		if r.From <= start && r.To >= end {
			return
		}

		// Widen the range that already opens at this block's start rather
		// than adding a second, overlapping one for the same block.
		if r.From == start {
			iv.Ranges[i].To = end
			return
		}
	}

	iv.Ranges = append(iv.Ranges, Range{From: start, To: end})
}

// computeLiveOut runs a standard backward liveness fixed point over fn's
// blocks, treating a successor's Phi argument coming from this block as an
// extra use at the end of the predecessor (Phi arguments are logically
// read at the point control leaves the predecessor block, not inside the
// successor).
func computeLiveOut(fn *codegen.Function) map[*codegen.Block]map[codegen.VRegID]bool {
	liveIn := make(map[*codegen.Block]map[codegen.VRegID]bool, len(fn.Blocks))
	liveOut := make(map[*codegen.Block]map[codegen.VRegID]bool, len(fn.Blocks))

	for _, b := range fn.Blocks {
		liveIn[b] = make(map[codegen.VRegID]bool)
		liveOut[b] = make(map[codegen.VRegID]bool)
	}

	changed := true
	for changed {
		changed = false

		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]

			out := make(map[codegen.VRegID]bool)
			for _, s := range b.Succs {
				for id := range liveIn[s] {
					out[id] = true
				}
			}

			in := make(map[codegen.VRegID]bool)
			for id := range out {
				in[id] = true
			}

			for i := len(b.Instrs) - 1; i >= 0; i-- {
				instr := b.Instrs[i]

				for _, d := range instr.Defs {
					delete(in, d)
				}

				for _, u := range instr.Uses {
					in[u] = true
				}
			}

			if !equalSets(in, liveIn[b]) {
				liveIn[b] = in
				changed = true
			}

			if !equalSets(out, liveOut[b]) {
				liveOut[b] = out
				changed = true
			}
		}
	}

	return liveOut
}

func equalSets(a, b map[codegen.VRegID]bool) bool {
	if len(a) != len(b) {
		return false
	}

	for k := range a {
		if !b[k] {
			return false
		}
	}

	return true
}
