package codegen

import (
	"fmt"

	"github.com/sherter/minijavac/internal/asmtext"
	"github.com/sherter/minijavac/internal/diagnostics"
	"github.com/sherter/minijavac/internal/ir"
)

// Emit renders fn — whose operands have already been rewritten from
// virtual to physical/memory form by ResolveMoves — into e, inserting the
// System V AMD64 prologue at entry and the matching epilogue at every
// block ending in a Ret. Callee-saved registers the allocator actually used
// are pushed/popped around the frame instead of unconditionally, since a
// small procedure may need none of them.
func Emit(fn *Function, e asmtext.Emitter) (err error) {
	defer diagnostics.Recover(&err)

	used := usedCalleeSaved(fn)
	frame := fn.Arena.FrameSize()

	e.Label(fn.Name)
	emitPrologue(e, used, frame)

	for _, b := range fn.Blocks {
		if b.Ordinal > 0 {
			e.Label(b.Name)
		}

		for _, in := range b.Instrs {
			emitInstr(e, in, used, frame)
		}
	}

	return nil
}

func usedCalleeSaved(fn *Function) []PhysicalRegister {
	seen := make(map[PhysicalRegister]bool)

	var used []PhysicalRegister

	note := func(o Operand) {
		if o.Kind == OperandPhysical && o.Physical.CalleeSaved() && o.Physical != RegBP && o.Physical != RegSP {
			if !seen[o.Physical] {
				seen[o.Physical] = true
				used = append(used, o.Physical)
			}
		}
	}

	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			note(in.Dst)
			note(in.Src1)
			note(in.Src2)
		}
	}

	return used
}

func emitPrologue(e asmtext.Emitter, saved []PhysicalRegister, frame int64) {
	e.Instruction("push", "rbp")
	e.Instruction("mov", "rbp", "rsp")

	for _, r := range saved {
		e.Instruction("push", r.String())
	}

	total := frame
	if rem := (total + int64(len(saved)*8)) % StackAlignment; rem != 0 {
		total += StackAlignment - rem
	}

	if total > 0 {
		e.Instruction("sub", "rsp", fmt.Sprintf("%d", total))
	}
}

func emitEpilogue(e asmtext.Emitter, saved []PhysicalRegister, frame int64) {
	total := frame
	if rem := (total + int64(len(saved)*8)) % StackAlignment; rem != 0 {
		total += StackAlignment - rem
	}

	if total > 0 {
		e.Instruction("add", "rsp", fmt.Sprintf("%d", total))
	}

	for i := len(saved) - 1; i >= 0; i-- {
		e.Instruction("pop", saved[i].String())
	}

	e.Instruction("pop", "rbp")
}

func emitInstr(e asmtext.Emitter, in *Instr, saved []PhysicalRegister, frame int64) {
	switch in.Op {
	case InstrPhiDef:
		return // pure metadata; the real value arrives via a predecessor move

	case InstrMovRR:
		if sameLocation(in.Dst, in.Src1) {
			return // peephole: drop a no-op mov produced by coalescing
		}

		e.Instruction("mov", in.Dst.String(), in.Src1.String())

	case InstrAdd:
		e.Instruction("add", in.Src1.String(), in.Src2.String())
	case InstrSub:
		e.Instruction("sub", in.Src1.String(), in.Src2.String())
	case InstrAnd:
		e.Instruction("and", in.Src1.String(), in.Src2.String())
	case InstrIMul:
		e.Instruction("imul", in.Src1.String(), in.Src2.String())
	case InstrNeg:
		e.Instruction("neg", in.Src1.String())
	case InstrCmp:
		e.Instruction("cmp", in.Src1.String(), in.Src2.String())

	case InstrSetcc:
		e.Instruction(setccMnemonic(in.Relation), in.Dst.String())
	case InstrMovzx:
		e.Instruction("movzx", in.Dst.String(), in.Src1.String())
	case InstrCqo:
		e.Instruction("cqo")
	case InstrIDiv:
		e.Instruction("idiv", in.Src1.String())

	case InstrLoad:
		e.Instruction("mov", in.Dst.String(), in.Src1.String())
	case InstrStore:
		e.Instruction("mov", in.Src1.String(), in.Src2.String())
	case InstrLea:
		e.Instruction("lea", in.Dst.String(), fmt.Sprintf("[rip+%s]", in.Callee))

	case InstrCall:
		e.Instruction("call", in.Callee)

	case InstrJmp:
		e.Instruction("jmp", in.Target.Name)
	case InstrJcc:
		e.Instruction(jccMnemonic(in.Relation), in.Target.Name)

	case InstrRet:
		if len(in.Uses) > 0 {
			moveReturnValue(e, in.Src1)
		}

		emitEpilogue(e, saved, frame)
		e.Instruction("ret")

	case InstrXchg:
		e.Instruction("xchg", in.Dst.String(), in.Src1.String())

	default:
		diagnostics.Invariant("x64emit: no emission rule for %s", in.Op)
	}
}

func moveReturnValue(e asmtext.Emitter, v Operand) {
	dst := Phys(v.Width, ReturnRegister)
	if !sameLocation(dst, v) {
		e.Instruction("mov", dst.String(), v.String())
	}
}

func sameLocation(a, b Operand) bool {
	return a == b
}

func setccMnemonic(r Rel) string {
	switch r {
	case ir.RelEqual:
		return "sete"
	case ir.RelNotEqual:
		return "setne"
	case ir.RelLess:
		return "setl"
	case ir.RelLessEqual:
		return "setle"
	case ir.RelGreater:
		return "setg"
	case ir.RelGreaterEqual:
		return "setge"
	default:
		return "sete"
	}
}

func jccMnemonic(r Rel) string {
	switch r {
	case ir.RelEqual:
		return "je"
	case ir.RelNotEqual:
		return "jne"
	case ir.RelLess:
		return "jl"
	case ir.RelLessEqual:
		return "jle"
	case ir.RelGreater:
		return "jg"
	case ir.RelGreaterEqual:
		return "jge"
	default:
		return "je"
	}
}
