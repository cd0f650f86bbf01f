package codegen

import (
	"fmt"
	"strings"

	"github.com/sherter/minijavac/internal/ir"
)

// InstrOp names a selected machine instruction, independent of its operand
// widths or addressing modes.
type InstrOp int

const (
	InstrInvalid InstrOp = iota
	InstrMovRR           // mov dst, src (register/memory/immediate to register/memory)
	InstrAdd
	InstrSub
	InstrAnd
	InstrIMul
	InstrNeg
	InstrCmp
	InstrSetcc // dst := relation flag, byte width
	InstrMovzx // widen a Setcc byte result
	InstrCqo   // sign-extend RAX into RDX:RAX ahead of IDiv
	InstrIDiv
	InstrLoad
	InstrStore
	InstrLea // materialize an address without dereferencing it
	InstrCall
	InstrJmp
	InstrJcc
	InstrRet
	InstrPush
	InstrPop
	InstrXchg // rendered by the emitter; no pass here emits it (move resolution stages cycles through R11)

	// InstrPhiDef is a zero-width pseudo-instruction marking where a
	// block-head Phi's vreg becomes live; it emits no text. The actual
	// value arrives via a move resolution inserts at the end of whichever
	// predecessor block control came from.
	InstrPhiDef
)

func (op InstrOp) String() string {
	switch op {
	case InstrMovRR:
		return "mov"
	case InstrAdd:
		return "add"
	case InstrSub:
		return "sub"
	case InstrAnd:
		return "and"
	case InstrIMul:
		return "imul"
	case InstrNeg:
		return "neg"
	case InstrCmp:
		return "cmp"
	case InstrSetcc:
		return "setcc"
	case InstrMovzx:
		return "movzx"
	case InstrCqo:
		return "cqo"
	case InstrIDiv:
		return "idiv"
	case InstrLoad:
		return "load"
	case InstrStore:
		return "store"
	case InstrLea:
		return "lea"
	case InstrCall:
		return "call"
	case InstrJmp:
		return "jmp"
	case InstrJcc:
		return "jcc"
	case InstrRet:
		return "ret"
	case InstrPush:
		return "push"
	case InstrPop:
		return "pop"
	case InstrXchg:
		return "xchg"
	case InstrPhiDef:
		return "phidef"
	default:
		return "?instr"
	}
}

// Instr is one selected machine instruction. Dst/Src1/Src2 slots are used
// according to Op; not every instruction uses all three (see how select.go
// builds each op and how x64emit.go renders it). Relation/Target/Callee
// carry the metadata a few opcodes need beyond plain operands.
type Instr struct {
	Op       InstrOp
	Dst      Operand
	Src1     Operand
	Src2     Operand
	HasDst   bool
	HasSrc2  bool
	Relation Rel
	Target   *Block  // Jmp/Jcc
	Callee   string  // Call
	Defs     []VRegID
	Uses     []VRegID
}

func (in *Instr) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())

	switch in.Op {
	case InstrJmp, InstrJcc:
		fmt.Fprintf(&b, " %s", in.Target.Name)

		if in.Op == InstrJcc {
			fmt.Fprintf(&b, " (%s)", in.Relation)
		}

		return b.String()
	case InstrCall:
		fmt.Fprintf(&b, " %s", in.Callee)
		return b.String()
	case InstrRet:
		return b.String()
	case InstrPhiDef:
		fmt.Fprintf(&b, " %s", in.Dst)
		return b.String()
	}

	b.WriteString(" ")

	if in.HasDst {
		b.WriteString(in.Dst.String())
		b.WriteString(", ")
	}

	b.WriteString(in.Src1.String())

	if in.HasSrc2 {
		b.WriteString(", ")
		b.WriteString(in.Src2.String())
	}

	return b.String()
}

// Block is the codegen-level counterpart of ir.Block: a linearized
// sequence of selected Instr values. One Block is produced per ir.Block by
// Select, in the order Linearize assigns.
type Block struct {
	Name      string
	Ordinal   int
	Instrs    []*Instr
	Preds     []*Block
	Succs     []*Block
	LoopDepth int
}

// Function is one procedure's selected-but-not-yet-allocated instruction
// stream, plus the ABI metadata the allocator and emitter both need.
type Function struct {
	Name       string
	Blocks     []*Block
	NumArgs    int
	ArgWidths  []int
	ReturnWide bool
	ReturnW    int
	Arena      *Arena

	// ValueOf maps every IR value node Select gave a vreg to (including
	// Phi destinations) back to that vreg, so a later stage — move
	// resolution lowering Phis in particular — can look up an operand's
	// placement without re-running selection.
	ValueOf map[ir.NodeID]VRegID
}

// Program is the final output of Compile: one Function's fully allocated
// and move-resolved instruction stream, ready for internal/asmtext.
type Program struct {
	Function *Function
}
