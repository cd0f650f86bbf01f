package codegen

import (
	"testing"

	"github.com/sherter/minijavac/internal/ir"
)

func TestLinearizeOrdersDiamondWithJoinLast(t *testing.T) {
	g := ir.NewGraph("diamond")
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
	g.Return(join, g.Start.ID, a.ID, true)

	order := Linearize(g)

	if order[0] != entry {
		t.Fatalf("expected entry first, got %s", order[0].Name)
	}

	if order[len(order)-1] != join {
		t.Fatalf("expected join last, got %s", order[len(order)-1].Name)
	}

	for i, b := range order {
		if b.LinearizedOrdinal != i {
			t.Fatalf("block %s has ordinal %d, expected %d", b.Name, b.LinearizedOrdinal, i)
		}
	}
}

func TestLinearizeKeepsLoopBodyContiguous(t *testing.T) {
	g := ir.NewGraph("count_to_five")
	entry := g.Blocks[0]
	header := g.NewBlock("header")
	body := g.NewBlock("body")
	exit := g.NewBlock("exit")

	ir.SetExitOne(entry, header)

	zero := g.ConstIntV(entry, 64, 0)
	five := g.ConstIntV(entry, 64, 5)

	i := g.AddPhi(header, 64, nil) // args patched below once body's increment exists
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

	order := Linearize(g)

	headerPos, bodyPos, exitPos := -1, -1, -1

	for idx, b := range order {
		switch b {
		case header:
			headerPos = idx
		case body:
			bodyPos = idx
		case exit:
			exitPos = idx
		}
	}

	if !(headerPos < bodyPos && bodyPos < exitPos) {
		t.Fatalf("expected header < body < exit in linearized order, got %d %d %d", headerPos, bodyPos, exitPos)
	}
}
