package ir

import "testing"

func TestNewGraphHasEntryWithStart(t *testing.T) {
	g := NewGraph("proc")

	if len(g.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(g.Blocks))
	}

	if g.Blocks[0].Name != "entry" {
		t.Fatalf("expected entry block, got %q", g.Blocks[0].Name)
	}

	if g.Start.Op != OpStart {
		t.Fatalf("expected Start node, got %s", g.Start.Op)
	}
}

func TestArithmeticChainValidates(t *testing.T) {
	g := NewGraph("add_two")
	entry := g.Blocks[0]

	a := g.Arg(entry, 0, 64)
	b := g.Arg(entry, 1, 64)
	sum := g.Add(entry, 64, a.ID, b.ID)
	g.Return(entry, g.Start.ID, sum.ID, true)

	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestBranchingBlocksConnectBothSuccessors(t *testing.T) {
	g := NewGraph("max")
	entry := g.Blocks[0]
	thenB := g.NewBlock("then")
	elseB := g.NewBlock("else")
	join := g.NewBlock("join")

	a := g.Arg(entry, 0, 64)
	b := g.Arg(entry, 1, 64)
	cmp := g.Cmp(entry, RelGreater, a.ID, b.ID)
	SetExitTwo(entry, RelGreater, cmp.ID, thenB, elseB)

	SetExitOne(thenB, join)
	SetExitOne(elseB, join)

	phi := g.AddPhi(join, 64, []PhiArg{
		{Pred: thenB, Src: a.ID},
		{Pred: elseB, Src: b.ID},
	})
	g.Return(join, g.Start.ID, phi.ID, true)

	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if len(entry.Succs) != 2 {
		t.Fatalf("expected 2 successors from entry, got %d", len(entry.Succs))
	}

	if len(join.Preds) != 2 {
		t.Fatalf("expected 2 predecessors into join, got %d", len(join.Preds))
	}
}

func TestValidateCatchesPhiArgCountMismatch(t *testing.T) {
	g := NewGraph("bad")
	entry := g.Blocks[0]
	other := g.NewBlock("other")
	SetExitOne(entry, other)

	a := g.Arg(entry, 0, 64)
	// Only one predecessor (entry) but two phi args supplied.
	g.AddPhi(other, 64, []PhiArg{
		{Pred: entry, Src: a.ID},
		{Pred: entry, Src: a.ID},
	})

	if err := g.Validate(); err == nil {
		t.Fatal("expected validation error for phi arg/predecessor mismatch")
	}
}

func TestNodeLookupPanicsOnDanglingReference(t *testing.T) {
	g := NewGraph("x")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on dangling node reference")
		}
	}()

	g.Node(9999)
}

func TestRelationNegateIsInvolution(t *testing.T) {
	rels := []Relation{RelEqual, RelNotEqual, RelLess, RelLessEqual, RelGreater, RelGreaterEqual}

	for _, r := range rels {
		if r.Negate().Negate() != r {
			t.Fatalf("Negate is not an involution for %s", r)
		}
	}
}
