package codegen_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sherter/minijavac/internal/codegen"
	"github.com/sherter/minijavac/internal/harness"
	"github.com/sherter/minijavac/internal/ir"
	"github.com/sherter/minijavac/internal/mangling"
)

// buildAndCompile is a small helper shared by the scenario tests below; each
// scenario still builds its own graph explicitly so the test documents the
// IR shape it exercises.
func buildAndCompile(t *testing.T, g *ir.Graph, proc codegen.ProcedureInfo) string {
	t.Helper()

	text, err := codegen.CompileToText(g, proc)
	require.NoError(t, err)
	require.NotEmpty(t, text)

	return text
}

// Scenario: a branching diamond where the argument fed into the
// then-branch carries a DI hint from its Arg projection.
func TestScenarioBranchingDiamond(t *testing.T) {
	g := ir.NewGraph("max2")
	entry := g.Blocks[0]
	thenB := g.NewBlock("then")
	elseB := g.NewBlock("else")
	join := g.NewBlock("join")

	a := g.Arg(entry, 0, 64)
	b := g.Arg(entry, 1, 64)
	cmp := g.Cmp(entry, ir.RelGreater, a.ID, b.ID)
	ir.SetExitTwo(entry, ir.RelGreater, cmp.ID, thenB, elseB)
	ir.SetExitOne(thenB, join)
	ir.SetExitOne(elseB, join)

	phi := g.AddPhi(join, 64, []ir.PhiArg{
		{Pred: thenB, Src: a.ID},
		{Pred: elseB, Src: b.ID},
	})
	g.Return(join, g.Start.ID, phi.ID, true)

	proc := codegen.ProcedureInfo{Name: "max2", ArgWidths: []int{64, 64}, ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "max2:")
	require.Contains(t, text, "ret")
}

// Scenario: a loop counting to five, with a loop-invariant constant (the
// bound, 5) that should stay live across every iteration without being
// recomputed.
func TestScenarioLoopCountToFive(t *testing.T) {
	g := ir.NewGraph("count_to_five")
	entry := g.Blocks[0]
	header := g.NewBlock("header")
	body := g.NewBlock("body")
	exit := g.NewBlock("exit")

	ir.SetExitOne(entry, header)

	zero := g.ConstIntV(entry, 64, 0)
	five := g.ConstIntV(entry, 64, 5)

	i := g.AddPhi(header, 64, nil)
	cmp := g.Cmp(header, ir.RelLess, i.ID, five.ID)
	ir.SetExitTwo(header, ir.RelLess, cmp.ID, body, exit)

	one := g.ConstIntV(body, 64, 1)
	inc := g.Add(body, 64, i.ID, one.ID)
	ir.SetExitOne(body, header)

	for _, phi := range header.Phis {
		phi.Args = []ir.PhiArg{
			{Pred: entry, Src: zero.ID},
			{Pred: body, Src: inc.ID},
		}
	}

	g.Return(exit, g.Start.ID, i.ID, true)

	proc := codegen.ProcedureInfo{Name: "count_to_five", ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "header:")
	require.Contains(t, text, "body:")
}

// Scenario: division by a constant divisor inside a loop body, exercising
// the IDIV hard-constraint lowering (dividend forced to RAX, remainder to
// RDX, CQO ahead of it).
func TestScenarioDivisionByConstantInLoop(t *testing.T) {
	g := ir.NewGraph("halve_until_zero")
	entry := g.Blocks[0]
	header := g.NewBlock("header")
	body := g.NewBlock("body")
	exit := g.NewBlock("exit")

	ir.SetExitOne(entry, header)

	zero := g.ConstIntV(entry, 64, 0)
	n := g.AddPhi(header, 64, nil)
	cmp := g.Cmp(header, ir.RelNotEqual, n.ID, zero.ID)
	ir.SetExitTwo(header, ir.RelNotEqual, cmp.ID, body, exit)

	two := g.ConstIntV(body, 64, 2)
	half := g.Div(body, 64, n.ID, two.ID)
	ir.SetExitOne(body, header)

	arg := g.Arg(entry, 0, 64)

	for _, phi := range header.Phis {
		phi.Args = []ir.PhiArg{
			{Pred: entry, Src: arg.ID},
			{Pred: body, Src: half.ID},
		}
	}

	g.Return(exit, g.Start.ID, n.ID, true)

	proc := codegen.ProcedureInfo{Name: "halve_until_zero", ArgWidths: []int{64}, ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.True(t, strings.Contains(text, "cqo") && strings.Contains(text, "idiv"))
}

// Scenario: two calls in sequence, each constraining its result to RAX and
// its arguments to the fixed System V argument registers. The argument a
// is read by both calls, so it is live across the first call, whose
// caller-saved clobbers keep the allocator from leaving it in a
// caller-saved register there; the first call's result feeds the second
// call's first argument. The test checks that both calls are emitted.
func TestScenarioHardConstrainedCollisionAcrossTwoCalls(t *testing.T) {
	g := ir.NewGraph("compute_twice")
	entry := g.Blocks[0]

	a := g.Arg(entry, 0, 64)
	first := g.Call(entry, "compute", 64, g.Start.ID, a.ID)
	second := g.Call(entry, "compute", 64, g.Start.ID, first.ID, a.ID)
	g.Return(entry, g.Start.ID, second.ID, true)

	proc := codegen.ProcedureInfo{Name: "compute_twice", ArgWidths: []int{64}, ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Equal(t, 2, strings.Count(text, "call"))
}

// Scenario: a call site with more than six integer arguments, exercising
// §4.2's stack parameter region — the seventh and eighth arguments are
// stored below a 16-byte-aligned rsp adjustment instead of going into an
// argument register.
func TestScenarioCallWithStackArguments(t *testing.T) {
	g := ir.NewGraph("sum_eight")
	entry := g.Blocks[0]

	a := g.Arg(entry, 0, 64)
	b := g.Arg(entry, 1, 64)

	args := []ir.NodeID{a.ID, b.ID}
	for i := int64(2); i < 8; i++ {
		c := g.ConstIntV(entry, 64, i)
		args = append(args, c.ID)
	}

	call := g.Call(entry, "eight_args", 64, g.Start.ID, args...)
	g.Return(entry, g.Start.ID, call.ID, true)

	proc := codegen.ProcedureInfo{Name: "sum_eight", ArgWidths: []int{64, 64}, ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "sub rsp, 16")
	require.Contains(t, text, "call eight_args")
	require.Contains(t, text, "add rsp, 16")
}

// Scenario: a three-way Phi cycle at a loop header (i, j, k each taking on
// one another's predecessor value on the back edge), which move resolution
// cannot satisfy with a sequence of plain moves alone and must break via
// scratch-register staging.
func TestScenarioPhiPermutationThreeCycle(t *testing.T) {
	g := ir.NewGraph("rotate3")
	entry := g.Blocks[0]
	header := g.NewBlock("header")
	body := g.NewBlock("body")
	exit := g.NewBlock("exit")

	ir.SetExitOne(entry, header)

	i0 := g.Arg(entry, 0, 64)
	j0 := g.Arg(entry, 1, 64)
	k0 := g.Arg(entry, 2, 64)
	zero := g.ConstIntV(entry, 64, 0)

	i := g.AddPhi(header, 64, nil)
	j := g.AddPhi(header, 64, nil)
	k := g.AddPhi(header, 64, nil)

	cmp := g.Cmp(header, ir.RelNotEqual, i.ID, zero.ID)
	ir.SetExitTwo(header, ir.RelNotEqual, cmp.ID, body, exit)

	ir.SetExitOne(body, header)

	for idx, phi := range header.Phis {
		switch idx {
		case 0:
			phi.Args = []ir.PhiArg{{Pred: entry, Src: i0.ID}, {Pred: body, Src: k.ID}}
		case 1:
			phi.Args = []ir.PhiArg{{Pred: entry, Src: j0.ID}, {Pred: body, Src: i.ID}}
		case 2:
			phi.Args = []ir.PhiArg{{Pred: entry, Src: k0.ID}, {Pred: body, Src: j.ID}}
		}
	}

	g.Return(exit, g.Start.ID, i.ID, true)

	proc := codegen.ProcedureInfo{Name: "rotate3", ArgWidths: []int{64, 64, 64}, ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "header:")
	require.Contains(t, text, "body:")
}

// Scenario: a constant outside the 32-bit signed immediate range must be
// materialized through a full 64-bit mov rather than folded into a
// sign-extending 32-bit immediate operand.
func TestScenarioLongImmediateMaterialization(t *testing.T) {
	g := ir.NewGraph("big_const")
	entry := g.Blocks[0]

	big := g.ConstIntV(entry, 64, 0x1_0000_0000)
	g.Return(entry, g.Start.ID, big.ID, true)

	proc := codegen.ProcedureInfo{Name: "big_const", ReturnWide: true, ReturnW: 64}

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "4294967296")
}

// Scenario: loading a fixture from JSON through internal/harness exercises
// the same path cmd/mjbackc uses.
func TestScenarioFixtureRoundTrip(t *testing.T) {
	const doc = `{
		"schemaVersion": "1.2.0",
		"procedures": [{
			"name": "add_args",
			"argWidths": [64, 64],
			"returnWidth": 64,
			"blocks": [{
				"name": "entry",
				"ops": [
					{"id": "a0", "kind": "arg", "index": 0, "width": 64},
					{"id": "a1", "kind": "arg", "index": 1, "width": 64},
					{"id": "s", "kind": "add", "lhs": "a0", "rhs": "a1", "width": 64}
				],
				"exit": {"kind": "return", "value": "s"}
			}]
		}]
	}`

	fixture, err := harness.Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, fixture.Procedures, 1)

	g, proc, err := harness.Build(fixture.Procedures[0], mangling.PlatformLinux)
	require.NoError(t, err)

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "add_args:")
	require.Contains(t, text, "add")
}

// TestScenarioEntrySymbolMangledPerPlatform exercises §6's name-mangling
// rule through the same harness.Build path cmd/mjbackc uses: mjMain gains a
// leading underscore on Darwin, both in ProcedureInfo.Name and in the
// emitted label.
func TestScenarioEntrySymbolMangledPerPlatform(t *testing.T) {
	const doc = `{
		"schemaVersion": "1.2.0",
		"procedures": [{
			"name": "mjMain",
			"argWidths": [],
			"returnWidth": 0,
			"blocks": [{
				"name": "entry",
				"ops": [
					{"id": "c", "kind": "const", "value": 7, "width": 64}
				],
				"exit": {"kind": "return"}
			}]
		}]
	}`

	fixture, err := harness.Load(strings.NewReader(doc))
	require.NoError(t, err)

	g, proc, err := harness.Build(fixture.Procedures[0], mangling.PlatformDarwin)
	require.NoError(t, err)
	require.Equal(t, "_mjMain", proc.Name)

	text := buildAndCompile(t, g, proc)
	require.Contains(t, text, "_mjMain:")
}
