package lifetime

import (
	"testing"

	"github.com/sherter/minijavac/internal/codegen"
)

// simpleFunction builds "tmp := v0 + v1; return tmp" the way selectArith
// actually lowers it: a temp is first loaded with the left operand, then a
// destructive two-address add writes back into that same temp, so tmp's
// vreg id appears in both Defs and Uses of the add instruction.
func simpleFunction() *codegen.Function {
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

	return &codegen.Function{Name: "f", Blocks: []*codegen.Block{b}, Arena: arena}
}

func TestAnalyzeProducesOneIntervalPerVReg(t *testing.T) {
	fn := simpleFunction()

	res, err := Analyze(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Virtual) != 3 {
		t.Fatalf("expected 3 virtual intervals, got %d", len(res.Virtual))
	}
}

func TestIntervalCoversItsDefiningPosition(t *testing.T) {
	fn := simpleFunction()

	res, err := Analyze(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for id, iv := range res.Virtual {
		if len(iv.Ranges) == 0 {
			t.Fatalf("vreg %d has no ranges", id)
		}
	}
}

// TestTwoAddressDefUseStaysOneRangePerBlock exercises the destructive
// two-address shape directly: tmp is both Def and Use of the add
// instruction in simpleFunction. §8 requires at most one range per block
// for a virtual interval; before the fix, processing the def and the use
// at the same position reopened a second, overlapping range for tmp.
func TestTwoAddressDefUseStaysOneRangePerBlock(t *testing.T) {
	fn := simpleFunction()

	res, err := Analyze(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tmpID := fn.Blocks[0].Instrs[2].Defs[0]

	iv, ok := res.Virtual[tmpID]
	if !ok {
		t.Fatalf("tmp has no interval")
	}

	if len(iv.Ranges) != 1 {
		t.Fatalf("tmp has %d ranges within a single block, want 1: %v", len(iv.Ranges), iv.Ranges)
	}

	if !iv.Covers(iv.Ranges[0].From) || iv.Ranges[0].To <= iv.Ranges[0].From {
		t.Fatalf("tmp's range is degenerate: %v", iv.Ranges[0])
	}
}

// TestLoopCarriedValueExtendsAcrossWholeBody builds a two-block loop (header,
// body) where the header block is marked LoopDepth > 0 and a value (v0) is
// live out of the header into the body but not read inside it, then back out
// to the header again. §4.3 step 2d requires the header's live-out values to
// be extended across the entire loop body, not just up to the back edge.
func TestLoopCarriedValueExtendsAcrossWholeBody(t *testing.T) {
	arena := codegen.NewArena()
	v0 := arena.NewVReg(64) // loop-invariant value, read only in header

	header := &codegen.Block{Name: "header", Ordinal: 0, LoopDepth: 1}
	body := &codegen.Block{Name: "body", Ordinal: 1, LoopDepth: 1}
	header.Succs = []*codegen.Block{body}
	body.Succs = []*codegen.Block{header}

	header.Instrs = []*codegen.Instr{
		{Op: codegen.InstrCmp, Src1: codegen.Reg(v0), Src2: codegen.Imm(64, 0), HasSrc2: true, Uses: []codegen.VRegID{v0.ID}},
	}
	body.Instrs = []*codegen.Instr{
		{Op: codegen.InstrJmp, Target: header},
	}

	fn := &codegen.Function{Name: "f", Blocks: []*codegen.Block{header, body}, Arena: arena}

	res, err := Analyze(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	iv, ok := res.Virtual[v0.ID]
	if !ok {
		t.Fatalf("v0 has no interval")
	}

	bodyStart := blockStart(body.Ordinal)
	bodyEnd := bodyStart + Position(len(body.Instrs)*2) + 2

	if !iv.Covers(bodyStart) || !iv.Covers(bodyEnd-1) {
		t.Fatalf("v0's interval does not cover the loop body %v..%v: %v", bodyStart, bodyEnd, iv.Ranges)
	}
}

func TestOrderIsSortedByStartPosition(t *testing.T) {
	fn := simpleFunction()

	res, err := Analyze(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i < len(res.Order); i++ {
		if res.Order[i-1].From() > res.Order[i].From() {
			t.Fatalf("Order is not sorted by From(): %v then %v", res.Order[i-1], res.Order[i])
		}
	}
}
