package regalloc

import (
	"testing"

	"github.com/sherter/minijavac/internal/codegen"
	"github.com/sherter/minijavac/internal/codegen/lifetime"
)

// TestAllocateAssignsEveryIntervalAPlacement uses the same destructive
// two-address shape selectArith actually emits (tmp is both Def and Use of
// the add) so a regression of the overlapping-range bug in lifetime.Analyze
// would also surface here, at the allocator's worklist level.
func TestAllocateAssignsEveryIntervalAPlacement(t *testing.T) {
	arena := codegen.NewArena()
	v0 := arena.NewVReg(64)
	v1 := arena.NewVReg(64)
	tmp := arena.NewVReg(64)

	b := &codegen.Block{Name: "entry", Ordinal: 0}
	b.Instrs = []*codegen.Instr{
		{Op: codegen.InstrMovRR, HasDst: true, Dst: codegen.Reg(v0), Src1: codegen.Imm(64, 1), Defs: []codegen.VRegID{v0.ID}},
		{Op: codegen.InstrMovRR, HasDst: true, Dst: codegen.Reg(v1), Src1: codegen.Imm(64, 2), Defs: []codegen.VRegID{v1.ID}},
		{Op: codegen.InstrMovRR, HasDst: true, Dst: codegen.Reg(tmp), Src1: codegen.Reg(v0), Defs: []codegen.VRegID{tmp.ID}},
		{Op: codegen.InstrAdd, Src1: codegen.Reg(tmp), Src2: codegen.Reg(v1), HasSrc2: true, Uses: []codegen.VRegID{tmp.ID, v1.ID}, Defs: []codegen.VRegID{tmp.ID}},
		{Op: codegen.InstrRet, Src1: codegen.Reg(tmp), Uses: []codegen.VRegID{tmp.ID}},
	}

	fn := &codegen.Function{Name: "f", Blocks: []*codegen.Block{b}, Arena: arena}

	intervals, err := lifetime.Analyze(fn)
	if err != nil {
		t.Fatalf("lifetime.Analyze: %v", err)
	}

	alloc, err := Allocate(fn, intervals)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	for _, id := range []codegen.VRegID{v0.ID, v1.ID, tmp.ID} {
		if _, ok := alloc.ByVReg[id]; !ok {
			t.Fatalf("vreg %d got no allocation entry", id)
		}
	}
}

func TestAllocateHonorsHardConstraint(t *testing.T) {
	arena := codegen.NewArena()
	dividend := arena.NewConstrainedVReg(64, codegen.RegAX)

	b := &codegen.Block{Name: "entry", Ordinal: 0}
	b.Instrs = []*codegen.Instr{
		{Op: codegen.InstrMovRR, HasDst: true, Dst: codegen.Reg(dividend), Src1: codegen.Imm(64, 10), Defs: []codegen.VRegID{dividend.ID}},
		{Op: codegen.InstrRet, Src1: codegen.Reg(dividend), Uses: []codegen.VRegID{dividend.ID}},
	}

	fn := &codegen.Function{Name: "f", Blocks: []*codegen.Block{b}, Arena: arena}

	intervals, err := lifetime.Analyze(fn)
	if err != nil {
		t.Fatalf("lifetime.Analyze: %v", err)
	}

	alloc, err := Allocate(fn, intervals)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	entry := alloc.ByVReg[dividend.ID]
	if entry == nil || entry.Type != AllocRegister || entry.Reg != codegen.RegAX {
		t.Fatalf("expected dividend pinned to RAX, got %+v", entry)
	}
}
