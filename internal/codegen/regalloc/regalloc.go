// Package regalloc implements linear-scan register allocation (Wimmer
// style) over the lifetime intervals internal/codegen/lifetime computes:
// unhandled/active/inactive/handled worklists, freeUntilPos/nextUsePos
// heuristics for choosing a register or a victim to evict, interval
// splitting at the point a register stops being free, and spilling to a
// per-root-vreg stack slot when no split makes room.
package regalloc

import (
	"sort"

	"github.com/sherter/minijavac/internal/codegen"
	"github.com/sherter/minijavac/internal/codegen/lifetime"
	"github.com/sherter/minijavac/internal/diagnostics"
)

// AllocationType tags where one interval ended up.
type AllocationType int

const (
	AllocRegister AllocationType = iota
	AllocStack
)

// Entry is where one (possibly split) interval was placed.
type Entry struct {
	Interval *lifetime.Interval
	Type     AllocationType
	Reg      codegen.PhysicalRegister // AllocRegister
	SlotOff  int64                    // AllocStack
}

// Allocation is the full assignment for one function: every interval
// regalloc produced (including ones created by splitting) mapped to its
// placement. Splitting mints a fresh synthetic id per tail interval, so
// every original operand reference in the instruction stream is keyed by
// root vreg instead and resolved positionally via Resolve.
type Allocation struct {
	ByVReg map[codegen.VRegID]*Entry
	byRoot map[codegen.VRegID][]*Entry
}

// Resolve returns the placement covering position p for the interval
// rooted at root (root is the original, pre-split vreg id every selection
// Instr actually references). moveresolve.go calls this for every operand
// instead of indexing ByVReg directly, since a split value may be in a
// register for part of its life and on the stack for the rest.
func (a *Allocation) Resolve(root codegen.VRegID, p lifetime.Position) (*Entry, bool) {
	for _, e := range a.byRoot[root] {
		if e.Interval.Covers(p) {
			return e, true
		}
	}

	return nil, false
}

// Roots returns every root vreg id that received at least one placement, in
// ascending order (a deterministic iteration order for move insertion).
func (a *Allocation) Roots() []codegen.VRegID {
	roots := make([]codegen.VRegID, 0, len(a.byRoot))
	for r := range a.byRoot {
		roots = append(roots, r)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	return roots
}

// SplitsForRoot returns every placement entry recorded for root, in the
// order Allocate produced them (not necessarily sorted by interval start).
func (a *Allocation) SplitsForRoot(root codegen.VRegID) []*Entry {
	return a.byRoot[root]
}

type allocator struct {
	arena     *codegen.Arena
	fixed     map[codegen.PhysicalRegister]*lifetime.FixedInterval
	unhandled []*lifetime.Interval
	active    []*lifetime.Interval
	inactive  []*lifetime.Interval
	handled   []*lifetime.Interval
	result    *Allocation
	nextSplit codegen.VRegID
}

// Allocate assigns every virtual register interval in intervals a physical
// register or stack slot, honoring hard constraints and fixed intervals,
// and returns the resulting Allocation.
func Allocate(fn *codegen.Function, intervals *lifetime.Result) (alloc *Allocation, err error) {
	defer diagnostics.Recover(&err)

	a := &allocator{
		arena:     fn.Arena,
		fixed:     intervals.Fixed,
		unhandled: append([]*lifetime.Interval(nil), intervals.Order...),
		result: &Allocation{
			ByVReg: make(map[codegen.VRegID]*Entry),
			byRoot: make(map[codegen.VRegID][]*Entry),
		},
		nextSplit: codegen.VRegID(1 << 30), // split-interval ids live in a disjoint range from arena-issued ones
	}

	sort.Slice(a.unhandled, func(i, j int) bool { return a.unhandled[i].From() < a.unhandled[j].From() })

	for len(a.unhandled) > 0 {
		cur := a.unhandled[0]
		a.unhandled = a.unhandled[1:]

		pos := cur.From()

		a.expireOldIntervals(pos)
		a.assign(cur)
	}

	return a.result, nil
}

func (a *allocator) expireOldIntervals(pos lifetime.Position) {
	var stillActive []*lifetime.Interval

	for _, iv := range a.active {
		if iv.To() <= pos {
			a.handled = append(a.handled, iv)
			continue
		}

		if !iv.Covers(pos) {
			a.inactive = append(a.inactive, iv)
			continue
		}

		stillActive = append(stillActive, iv)
	}

	a.active = stillActive

	var stillInactive []*lifetime.Interval

	for _, iv := range a.inactive {
		if iv.To() <= pos {
			a.handled = append(a.handled, iv)
			continue
		}

		if iv.Covers(pos) {
			a.active = append(a.active, iv)
			continue
		}

		stillInactive = append(stillInactive, iv)
	}

	a.inactive = stillInactive
}

func (a *allocator) assign(cur *lifetime.Interval) {
	v := a.arena.Lookup(cur.VReg)

	if v.Constraint != codegen.RegInvalid {
		a.assignFixed(cur, v.Constraint)
		return
	}

	freeUntil := make(map[codegen.PhysicalRegister]lifetime.Position)

	for _, r := range codegen.AllocatableRegisters {
		freeUntil[r] = lifetime.Position(1 << 30)
	}

	for _, iv := range a.active {
		freeUntil[a.regOf(iv)] = 0
	}

	for _, iv := range a.inactive {
		if p, ok := nextOverlap(cur, iv); ok {
			if p < freeUntil[a.regOf(iv)] {
				freeUntil[a.regOf(iv)] = p
			}
		}
	}

	for reg, fi := range a.fixed {
		if p, ok := nextFixedOverlap(cur, fi); ok {
			if p < freeUntil[reg] {
				freeUntil[reg] = p
			}
		}
	}

	best, bestPos := pickHinted(cur, v.Hint, freeUntil)

	if bestPos <= cur.From() {
		a.spillOrSplit(cur, freeUntil)
		return
	}

	if bestPos < cur.To() {
		head, tail := cur.SplitBefore(bestPos, a.newSplitID())
		a.place(head, best)
		a.unhandled = append(a.unhandled, tail)
		a.resortUnhandled()

		return
	}

	a.place(cur, best)
}

func (a *allocator) assignFixed(cur *lifetime.Interval, reg codegen.PhysicalRegister) {
	for _, iv := range a.active {
		if a.regOf(iv) == reg {
			// A hard-constrained value collides with an already-placed
			// value in the same register (e.g. a live value pinned to RAX
			// across a Call that itself must return through RAX): evict
			// the incumbent to a stack slot rather than fail, since the
			// constraint is non-negotiable.
			a.spill(iv)
			a.active = removeInterval(a.active, iv)
		}
	}

	a.place(cur, reg)
}

// spillOrSplit is reached when every allocatable register is busy at cur's
// start. It picks the active interval with the furthest next use as the
// victim (classic Wimmer heuristic: free up the register that would go
// unused longest) and spills that victim, handing its register to cur,
// unless cur's own first use needing a register comes no earlier than the
// victim's next use (or there is no victim), in which case cur is spilled.
// Either interval is spilled whole; nothing is split here.
func (a *allocator) spillOrSplit(cur *lifetime.Interval, freeUntil map[codegen.PhysicalRegister]lifetime.Position) {
	var victim *lifetime.Interval

	var victimNextUse lifetime.Position = -1

	for _, iv := range a.active {
		if u, ok := iv.NextUseAfter(cur.From()); ok {
			if u > victimNextUse {
				victimNextUse = u
				victim = iv
			}
		} else {
			victim = iv
			victimNextUse = lifetime.Position(1 << 30)

			break
		}
	}

	if curNext, ok := cur.FirstUseNeedingRegister(cur.From()); ok && victim != nil && curNext >= victimNextUse {
		// cur needs a register no earlier than the victim's next use:
		// spill cur instead of evicting a value that is needed sooner.
		a.spill(cur)
		return
	}

	if victim == nil {
		a.spill(cur)
		return
	}

	reg := a.regOf(victim)
	a.spill(victim)
	a.active = removeInterval(a.active, victim)
	a.place(cur, reg)
}

func (a *allocator) spill(iv *lifetime.Interval) {
	root := iv.Root
	if root == 0 {
		root = iv.VReg
	}

	off := a.arena.SlotFor(root)
	e := &Entry{Interval: iv, Type: AllocStack, SlotOff: off}
	a.result.ByVReg[iv.VReg] = e
	a.result.byRoot[root] = append(a.result.byRoot[root], e)
}

func (a *allocator) place(iv *lifetime.Interval, reg codegen.PhysicalRegister) {
	root := iv.Root
	if root == 0 {
		root = iv.VReg
	}

	e := &Entry{Interval: iv, Type: AllocRegister, Reg: reg}
	a.result.ByVReg[iv.VReg] = e
	a.result.byRoot[root] = append(a.result.byRoot[root], e)
	a.active = append(a.active, iv)
}

func (a *allocator) regOf(iv *lifetime.Interval) codegen.PhysicalRegister {
	e := a.result.ByVReg[iv.VReg]
	if e == nil || e.Type != AllocRegister {
		diagnostics.Invariant("regalloc: active interval v%d has no register entry", iv.VReg)
	}

	return e.Reg
}

func (a *allocator) newSplitID() codegen.VRegID {
	id := a.nextSplit
	a.nextSplit++

	return id
}

func (a *allocator) resortUnhandled() {
	sort.Slice(a.unhandled, func(i, j int) bool { return a.unhandled[i].From() < a.unhandled[j].From() })
}

// pickHinted chooses a register for cur, preferring one of its interval
// hints (fromHints, then toHints — the registers its value is copied from
// or toward) that is free for cur's whole remaining life, then the static
// arena hint, before falling back to the register free the longest.
func pickHinted(cur *lifetime.Interval, hint codegen.PhysicalRegister, freeUntil map[codegen.PhysicalRegister]lifetime.Position) (codegen.PhysicalRegister, lifetime.Position) {
	for _, r := range cur.FromHints {
		if p, ok := freeUntil[r]; ok && p >= cur.To() {
			return r, p
		}
	}

	for _, r := range cur.ToHints {
		if p, ok := freeUntil[r]; ok && p >= cur.To() {
			return r, p
		}
	}

	if hint != codegen.RegInvalid {
		if p, ok := freeUntil[hint]; ok && p >= cur.To() {
			return hint, p
		}
	}

	var best codegen.PhysicalRegister

	var bestPos lifetime.Position = -1

	for _, r := range codegen.AllocatableRegisters {
		if freeUntil[r] > bestPos {
			bestPos = freeUntil[r]
			best = r
		}
	}

	return best, bestPos
}

func nextOverlap(a, b *lifetime.Interval) (lifetime.Position, bool) {
	for _, ra := range a.Ranges {
		for _, rb := range b.Ranges {
			from := ra.From
			if rb.From > from {
				from = rb.From
			}

			to := ra.To
			if rb.To < to {
				to = rb.To
			}

			if from < to {
				return from, true
			}
		}
	}

	return 0, false
}

func nextFixedOverlap(a *lifetime.Interval, f *lifetime.FixedInterval) (lifetime.Position, bool) {
	for _, ra := range a.Ranges {
		for _, rf := range f.Ranges {
			from := ra.From
			if rf.From > from {
				from = rf.From
			}

			to := ra.To
			if rf.To < to {
				to = rf.To
			}

			if from < to {
				return from, true
			}
		}
	}

	return 0, false
}

func removeInterval(list []*lifetime.Interval, victim *lifetime.Interval) []*lifetime.Interval {
	out := list[:0]

	for _, iv := range list {
		if iv != victim {
			out = append(out, iv)
		}
	}

	return out
}
