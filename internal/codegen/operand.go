package codegen

import (
	"fmt"

	"github.com/sherter/minijavac/internal/ir"
)

// VRegID names a virtual register within one procedure's arena. IDs are
// assigned sequentially by Arena.NewVReg and never reused within a
// procedure (§ arena resource policy).
type VRegID int

// VReg is a virtual register: a not-yet-placed value slot carrying its bit
// width plus the placement preferences instruction selection attached to
// it. Constraint, when non-zero, is a hard requirement (e.g. the dividend
// of an IDIV must be RAX) that the allocator must honor even at the cost of
// evicting or splitting another interval; Hint is a soft preference (e.g.
// "this value comes from an argument register") the allocator picks ahead
// of its longest-free choice when that register is free for the value's
// whole remaining life.
type VReg struct {
	ID         VRegID
	Width      int
	Constraint PhysicalRegister
	Hint       PhysicalRegister
}

func (v VReg) String() string {
	return fmt.Sprintf("v%d", v.ID)
}

// OperandKind tags which alternative of Operand is populated.
type OperandKind int

const (
	OperandImmediate OperandKind = iota
	OperandVReg
	OperandPhysical
	OperandMemory
)

// AddressingMode is a base(+index*scale)+displacement x86-64 memory
// operand. Index is optional (Scale == 0 means "no index").
type AddressingMode struct {
	Base         VRegID
	HasBase      bool
	BasePhysical PhysicalRegister
	BaseIsPhys   bool
	Index        VRegID
	HasIndex     bool
	Scale        int // 1, 2, 4 or 8; 0 when HasIndex is false
	Displacement int64
}

// Operand is the single sum type selection emits into instructions. Before
// emission it may reference a VReg; moveresolve.go's register-allocation
// rewrite pass replaces every VReg occurrence with either OperandPhysical
// or OperandMemory (a spill slot) in place.
type Operand struct {
	Kind     OperandKind
	Width    int
	Imm      int64
	VReg     VRegID
	Physical PhysicalRegister
	Mem      AddressingMode
}

// Imm builds an immediate operand.
func Imm(width int, v int64) Operand {
	return Operand{Kind: OperandImmediate, Width: width, Imm: v}
}

// Reg builds a not-yet-allocated virtual-register operand.
func Reg(v VReg) Operand {
	return Operand{Kind: OperandVReg, Width: v.Width, VReg: v.ID}
}

// Phys builds a physical-register operand directly, used for ABI-fixed
// operands (argument/return registers) that selection pins before the
// allocator ever runs.
func Phys(width int, r PhysicalRegister) Operand {
	return Operand{Kind: OperandPhysical, Width: width, Physical: r}
}

// Mem builds a memory operand.
func Mem(width int, addr AddressingMode) Operand {
	return Operand{Kind: OperandMemory, Width: width, Mem: addr}
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandImmediate:
		return fmt.Sprintf("%d", o.Imm)
	case OperandVReg:
		return fmt.Sprintf("v%d", o.VReg)
	case OperandPhysical:
		return o.Physical.Name(o.Width)
	case OperandMemory:
		return o.Mem.String()
	default:
		return "?operand"
	}
}

func (a AddressingMode) String() string {
	inner := ""
	if a.HasBase {
		if a.BaseIsPhys {
			inner = a.BasePhysical.String()
		} else {
			inner = fmt.Sprintf("v%d", a.Base)
		}
	}

	if a.HasIndex {
		inner += fmt.Sprintf("+v%d*%d", a.Index, a.Scale)
	}

	if a.Displacement != 0 || inner == "" {
		sign := "+"
		disp := a.Displacement
		if disp < 0 {
			sign = "-"
			disp = -disp
		}

		inner += fmt.Sprintf("%s%d", sign, disp)
	}

	return "[" + inner + "]"
}

// Rel is an alias of ir.Relation, used as the codegen-level instruction
// field for a comparison relation.
type Rel = ir.Relation
