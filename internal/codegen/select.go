package codegen

import (
	"github.com/sherter/minijavac/internal/diagnostics"
	"github.com/sherter/minijavac/internal/ir"
)

// ProcedureInfo carries the calling-convention shape Select and the final
// emitter need but which the IR graph itself does not encode (it only
// knows about Arg projections and a Return's operand).
type ProcedureInfo struct {
	Name       string
	ArgWidths  []int
	ReturnWide bool
	ReturnW    int
}

// Select lowers g, already linearized into order, into one codegen
// Function. It is a single tagged switch over ir.Opcode rather than a
// visitor hierarchy (§9 design note): every opcode this core knows about is
// one case, and an opcode Select does not recognize aborts with
// CategoryUnsupported instead of silently falling through.
func Select(g *ir.Graph, order []*ir.Block, proc ProcedureInfo, arena *Arena) *Function {
	fn := &Function{
		Name:       proc.Name,
		NumArgs:    len(proc.ArgWidths),
		ArgWidths:  proc.ArgWidths,
		ReturnWide: proc.ReturnWide,
		ReturnW:    proc.ReturnW,
		Arena:      arena,
	}

	blockOf := make(map[*ir.Block]*Block, len(order))
	for _, b := range order {
		cb := &Block{Name: b.Name, Ordinal: b.LinearizedOrdinal, LoopDepth: b.LoopDepth}
		blockOf[b] = cb
		fn.Blocks = append(fn.Blocks, cb)
	}

	for _, b := range order {
		cb := blockOf[b]
		for _, s := range b.Succs {
			cb.Succs = append(cb.Succs, blockOf[s])
		}

		for _, p := range b.Preds {
			cb.Preds = append(cb.Preds, blockOf[p])
		}
	}

	s := &selector{g: g, arena: arena, blockOf: blockOf, value: make(map[ir.NodeID]VReg)}

	for _, b := range order {
		s.selectBlock(b, blockOf[b])
	}

	fn.ValueOf = make(map[ir.NodeID]VRegID, len(s.value))
	for id, v := range s.value {
		fn.ValueOf[id] = v.ID
	}

	return fn
}

type selector struct {
	g       *ir.Graph
	arena   *Arena
	blockOf map[*ir.Block]*Block
	value   map[ir.NodeID]VReg // materialized vreg per already-selected value node
}

func (s *selector) emit(cb *Block, in *Instr) {
	cb.Instrs = append(cb.Instrs, in)
}

// operandFor returns the vreg holding id's value, selecting id first if it
// has not been visited yet. The IR is a DAG of values within a block (no
// cross-block value references except through Phis), so a simple memo map
// keyed by NodeID is sufficient; Phis are resolved by move resolution, not
// here (§4.5).
func (s *selector) operandFor(cb *Block, id ir.NodeID) Operand {
	if v, ok := s.value[id]; ok {
		return Reg(v)
	}

	n := s.g.Node(id)
	s.selectNode(cb, n)

	v, ok := s.value[id]
	if !ok {
		diagnostics.Invariant("select: node n%d produced no value", id)
	}

	return Reg(v)
}

func (s *selector) selectBlock(b *ir.Block, cb *Block) {
	// Phis are logically defined at the block head (their value arrives via
	// whichever predecessor control came from, resolved later by move
	// resolution), so their vregs must exist before any ordinary node in
	// this same block that reads one is selected.
	for _, phi := range b.Phis {
		width := s.g.Node(phi.Dest).Mode.Width
		v := s.arena.NewVReg(width)
		s.value[phi.Dest] = v
		s.emit(cb, &Instr{Op: InstrPhiDef, HasDst: true, Dst: Reg(v), Defs: []VRegID{v.ID}})
	}

	for _, id := range b.Nodes {
		n := s.g.Node(id)
		if _, done := s.value[id]; done {
			continue
		}

		switch n.Op {
		case ir.OpStart:
			continue // no instruction; Arg/Load consume it structurally only
		case ir.OpReturn:
			continue // lowered by selectExit as the block's terminator
		}

		if n.Op == ir.OpCmp && b.Exit.Kind == ir.ExitTwo && id == b.Exit.CmpNode {
			continue // lowered directly by selectExit's fused cmp+jcc; no value is ever read
		}

		s.selectNode(cb, n)
	}

	s.selectExit(b, cb)
}

func (s *selector) selectNode(cb *Block, n *ir.Node) {
	switch n.Op {
	case ir.OpConstInt:
		v := s.arena.NewVReg(n.Mode.Width)
		s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(v), Src1: Imm(n.Mode.Width, n.ConstValue), Defs: []VRegID{v.ID}})
		s.value[n.ID] = v

	case ir.OpArg:
		if n.ProjIndex >= len(ArgumentRegisters) {
			diagnostics.Unsupported("stack-passed argument", map[string]any{"index": n.ProjIndex})
		}

		phys := ArgumentRegisters[n.ProjIndex]
		v := s.arena.NewVReg(n.Mode.Width)
		s.arena.Hint(v.ID, phys)
		s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(v), Src1: Phys(n.Mode.Width, phys), Defs: []VRegID{v.ID}})
		s.value[n.ID] = v

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpMul:
		s.selectArith(cb, n)

	case ir.OpDiv, ir.OpMod:
		s.selectDivMod(cb, n)

	case ir.OpNeg:
		src := s.operandFor(cb, n.Preds[0])
		v := s.arena.NewVReg(n.Mode.Width)
		s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(v), Src1: src, Defs: []VRegID{v.ID}})
		s.emit(cb, &Instr{Op: InstrNeg, HasDst: false, Src1: Reg(v), Uses: []VRegID{v.ID}, Defs: []VRegID{v.ID}})
		s.value[n.ID] = v

	case ir.OpCmp:
		lhs := s.operandFor(cb, n.Preds[0])
		rhs := s.operandFor(cb, n.Preds[1])
		s.emit(cb, &Instr{Op: InstrCmp, Src1: lhs, Src2: rhs, HasSrc2: true})
		// Cmp itself produces no vreg: consumers are either the owning
		// block's Two exit (fused cmp+jcc, see selectExit) or an explicit
		// boolean materialization below for a value-context comparison.
		v := s.arena.NewVReg(8)
		s.emit(cb, &Instr{Op: InstrSetcc, HasDst: true, Dst: Reg(v), Relation: n.Relation, Defs: []VRegID{v.ID}})
		wide := s.arena.NewVReg(n.Mode.Width)
		s.emit(cb, &Instr{Op: InstrMovzx, HasDst: true, Dst: Reg(wide), Src1: Reg(v), Uses: []VRegID{v.ID}, Defs: []VRegID{wide.ID}})
		s.value[n.ID] = wide

	case ir.OpAddress:
		v := s.arena.NewVReg(64)
		s.emit(cb, &Instr{Op: InstrLea, HasDst: true, Dst: Reg(v), Callee: n.Symbol, Defs: []VRegID{v.ID}})
		s.value[n.ID] = v

	case ir.OpLoad:
		addr := s.operandFor(cb, n.Preds[1])
		v := s.arena.NewVReg(n.Mode.Width)
		mem := AddressingMode{HasBase: true, Base: addr.VReg}
		s.emit(cb, &Instr{Op: InstrLoad, HasDst: true, Dst: Reg(v), Src1: Mem(n.Mode.Width, mem), Uses: []VRegID{addr.VReg}, Defs: []VRegID{v.ID}})
		s.value[n.ID] = v

	case ir.OpStore:
		addr := s.operandFor(cb, n.Preds[1])
		val := s.operandFor(cb, n.Preds[2])
		mem := AddressingMode{HasBase: true, Base: addr.VReg}
		s.emit(cb, &Instr{Op: InstrStore, Src1: Mem(val.Width, mem), Src2: val, HasSrc2: true, Uses: []VRegID{addr.VReg, val.VReg}})

	case ir.OpCall:
		s.selectCall(cb, n)

	default:
		diagnostics.Unsupported(n.Op.String(), map[string]any{"node": int(n.ID)})
	}
}

func (s *selector) selectArith(cb *Block, n *ir.Node) {
	lhs := s.operandFor(cb, n.Preds[0])
	rhs := s.operandFor(cb, n.Preds[1])

	v := s.arena.NewVReg(n.Mode.Width)
	s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(v), Src1: lhs, Defs: []VRegID{v.ID}})

	var op InstrOp

	switch n.Op {
	case ir.OpAdd:
		op = InstrAdd
	case ir.OpSub:
		op = InstrSub
	case ir.OpAnd:
		op = InstrAnd
	case ir.OpMul:
		op = InstrIMul
	}

	uses := []VRegID{v.ID}
	if rhs.Kind == OperandVReg {
		uses = append(uses, rhs.VReg)
	}

	s.emit(cb, &Instr{Op: op, HasDst: false, Src1: Reg(v), Src2: rhs, HasSrc2: true, Uses: uses, Defs: []VRegID{v.ID}})
	s.value[n.ID] = v
}

// selectDivMod lowers Div/Mod per the System V IDIV contract: the dividend
// must be in RAX, the quotient comes back in RAX and the remainder in RDX,
// and RAX must be sign-extended into RDX:RAX by CQO before IDIV executes.
// Both outputs are constrained vregs so the allocator is forced to place
// them exactly there rather than merely hinting.
func (s *selector) selectDivMod(cb *Block, n *ir.Node) {
	lhs := s.operandFor(cb, n.Preds[0])
	rhs := s.operandFor(cb, n.Preds[1])

	dividend := s.arena.NewConstrainedVReg(n.Mode.Width, RegAX)
	s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(dividend), Src1: lhs, Defs: []VRegID{dividend.ID}})

	remainder := s.arena.NewConstrainedVReg(n.Mode.Width, RegDX)
	s.emit(cb, &Instr{Op: InstrCqo, HasDst: true, Dst: Reg(remainder), Src1: Reg(dividend), Uses: []VRegID{dividend.ID}, Defs: []VRegID{remainder.ID, dividend.ID}})

	uses := []VRegID{dividend.ID, remainder.ID}
	if rhs.Kind == OperandVReg {
		uses = append(uses, rhs.VReg)
	}

	s.emit(cb, &Instr{Op: InstrIDiv, Src1: rhs, Uses: uses, Defs: []VRegID{dividend.ID, remainder.ID}})

	if n.Op == ir.OpDiv {
		s.value[n.ID] = dividend
	} else {
		s.value[n.ID] = remainder
	}
}

// selectCall lowers a Call per §4.2's five-step rule: the first six
// integer arguments go into the fixed System V argument registers, and
// every argument past that is stored into a stack parameter region
// allocated (and, after the call, deallocated) so rsp stays 16-byte
// aligned at the call itself; the result, if any, is constrained to RAX.
func (s *selector) selectCall(cb *Block, n *ir.Node) {
	args := n.Preds[1:]

	regArgs := args
	var stackArgs []ir.NodeID
	if len(args) > len(ArgumentRegisters) {
		regArgs = args[:len(ArgumentRegisters)]
		stackArgs = args[len(ArgumentRegisters):]
	}

	stackBytes := int64(len(stackArgs)) * 8
	if rem := stackBytes % StackAlignment; rem != 0 {
		stackBytes += StackAlignment - rem
	}

	if stackBytes > 0 {
		s.emit(cb, &Instr{Op: InstrSub, Src1: Phys(64, RegSP), Src2: Imm(64, stackBytes), HasSrc2: true})
	}

	var uses []VRegID

	for i, a := range regArgs {
		val := s.operandFor(cb, a)
		phys := ArgumentRegisters[i]
		dst := s.arena.NewConstrainedVReg(val.Width, phys)
		s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(dst), Src1: val, Defs: []VRegID{dst.ID}})
		uses = append(uses, dst.ID)
	}

	for i, a := range stackArgs {
		val := s.operandFor(cb, a)
		mem := AddressingMode{HasBase: true, BaseIsPhys: true, BasePhysical: RegSP, Displacement: int64(i) * 8}

		store := &Instr{Op: InstrStore, Src1: Mem(val.Width, mem), Src2: val, HasSrc2: true}
		if val.Kind == OperandVReg {
			store.Uses = []VRegID{val.VReg}
		}

		s.emit(cb, store)
	}

	s.emit(cb, &Instr{Op: InstrCall, Callee: n.Symbol, Uses: uses})

	if stackBytes > 0 {
		s.emit(cb, &Instr{Op: InstrAdd, Src1: Phys(64, RegSP), Src2: Imm(64, stackBytes), HasSrc2: true})
	}

	if n.Mode.Width > 0 {
		v := s.arena.NewConstrainedVReg(n.Mode.Width, RegAX)
		s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(v), Src1: Phys(n.Mode.Width, RegAX), Defs: []VRegID{v.ID}})
		s.value[n.ID] = v
	}
}

func (s *selector) selectExit(b *ir.Block, cb *Block) {
	switch b.Exit.Kind {
	case ir.ExitZero:
		// The block's Return node lowers to a copy of the return value (if
		// any) into a RAX-constrained vreg, followed by the Ret instruction.
		for _, id := range b.Nodes {
			n := s.g.Node(id)
			if n.Op != ir.OpReturn {
				continue
			}

			in := &Instr{Op: InstrRet}

			if len(n.Preds) > 1 {
				val := s.operandFor(cb, n.Preds[1])
				ret := s.arena.NewConstrainedVReg(val.Width, RegAX)
				s.emit(cb, &Instr{Op: InstrMovRR, HasDst: true, Dst: Reg(ret), Src1: val, Defs: []VRegID{ret.ID}})
				in.Src1 = Reg(ret)
				in.Uses = []VRegID{ret.ID}
			}

			s.emit(cb, in)
		}

	case ir.ExitOne:
		jmp := &Instr{Op: InstrJmp, Target: s.blockOf[b.Exit.Next]}
		jmp.Uses = append(jmp.Uses, s.phiSourceUses(cb, b, b.Exit.Next)...)
		s.emit(cb, jmp)

	case ir.ExitTwo:
		cmp := s.g.Node(b.Exit.CmpNode)
		lhs := s.operandFor(cb, cmp.Preds[0])
		rhs := s.operandFor(cb, cmp.Preds[1])
		s.emit(cb, &Instr{Op: InstrCmp, Src1: lhs, Src2: rhs, HasSrc2: true})

		jcc := &Instr{Op: InstrJcc, Target: s.blockOf[b.Exit.Then], Relation: b.Exit.Relation}
		jcc.Uses = append(jcc.Uses, s.phiSourceUses(cb, b, b.Exit.Then)...)
		s.emit(cb, jcc)

		jmp := &Instr{Op: InstrJmp, Target: s.blockOf[b.Exit.Else]}
		jmp.Uses = append(jmp.Uses, s.phiSourceUses(cb, b, b.Exit.Else)...)
		s.emit(cb, jmp)
	}
}

// phiSourceUses selects (if not already selected) every Phi argument succ
// reads from predecessor b, and returns the vregs holding them so the
// terminator instruction that transfers control to succ carries them as
// uses. Lifetime analysis has no separate notion of per-edge liveness: a
// Phi's source operand is "used at the end of the predecessor" (§4.3) by
// attaching it to that predecessor's own terminator, which keeps the value
// live through the end of the block regardless of which successor is taken.
func (s *selector) phiSourceUses(cb *Block, b *ir.Block, succ *ir.Block) []VRegID {
	predIdx := -1

	for i, p := range succ.Preds {
		if p == b {
			predIdx = i
			break
		}
	}

	if predIdx < 0 {
		return nil
	}

	var uses []VRegID

	for _, phi := range succ.Phis {
		arg := phi.Args[predIdx]

		operand := s.operandFor(cb, arg.Src)
		if operand.Kind == OperandVReg {
			uses = append(uses, operand.VReg)
		}
	}

	return uses
}
