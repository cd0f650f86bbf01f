package codegen

// PhysicalRegister names one of the sixteen general-purpose x86-64
// registers by its 64-bit name; narrower views are derived on demand by
// Operand formatting, never stored as a separate enumerant.
type PhysicalRegister int

const (
	RegInvalid PhysicalRegister = iota
	RegAX
	RegBX
	RegCX
	RegDX
	RegSI
	RegDI
	RegBP
	RegSP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	numPhysicalRegisters
)

func (r PhysicalRegister) String() string {
	switch r {
	case RegAX:
		return "rax"
	case RegBX:
		return "rbx"
	case RegCX:
		return "rcx"
	case RegDX:
		return "rdx"
	case RegSI:
		return "rsi"
	case RegDI:
		return "rdi"
	case RegBP:
		return "rbp"
	case RegSP:
		return "rsp"
	case RegR8:
		return "r8"
	case RegR9:
		return "r9"
	case RegR10:
		return "r10"
	case RegR11:
		return "r11"
	case RegR12:
		return "r12"
	case RegR13:
		return "r13"
	case RegR14:
		return "r14"
	case RegR15:
		return "r15"
	default:
		return "?reg"
	}
}

// width8/width32 return the sub-register name used when an Operand's Width
// is narrower than 64 bits. Only these two narrower widths are covered;
// there is no 16-bit variant.
func (r PhysicalRegister) width32() string {
	switch r {
	case RegAX:
		return "eax"
	case RegBX:
		return "ebx"
	case RegCX:
		return "ecx"
	case RegDX:
		return "edx"
	case RegSI:
		return "esi"
	case RegDI:
		return "edi"
	case RegBP:
		return "ebp"
	case RegSP:
		return "esp"
	case RegR8:
		return "r8d"
	case RegR9:
		return "r9d"
	case RegR10:
		return "r10d"
	case RegR11:
		return "r11d"
	case RegR12:
		return "r12d"
	case RegR13:
		return "r13d"
	case RegR14:
		return "r14d"
	case RegR15:
		return "r15d"
	default:
		return "?reg32"
	}
}

func (r PhysicalRegister) width8() string {
	switch r {
	case RegAX:
		return "al"
	case RegBX:
		return "bl"
	case RegCX:
		return "cl"
	case RegDX:
		return "dl"
	case RegSI:
		return "sil"
	case RegDI:
		return "dil"
	case RegBP:
		return "bpl"
	case RegSP:
		return "spl"
	case RegR8:
		return "r8b"
	case RegR9:
		return "r9b"
	case RegR10:
		return "r10b"
	case RegR11:
		return "r11b"
	case RegR12:
		return "r12b"
	case RegR13:
		return "r13b"
	case RegR14:
		return "r14b"
	case RegR15:
		return "r15b"
	default:
		return "?reg8"
	}
}

// Name renders r at the given bit width, matching an Operand's Width.
func (r PhysicalRegister) Name(width int) string {
	switch width {
	case 8:
		return r.width8()
	case 32:
		return r.width32()
	default:
		return r.String()
	}
}

// AllocatableRegisters is the ordered register pool the allocator draws
// from. RSP and RBP are excluded: RSP is the stack pointer and RBP is
// reserved as the frame pointer by the prologue/epilogue this core always
// emits (see x64emit.go). R11 is also excluded: move resolution
// (moveresolve.go) reserves it as the scratch register it stages values
// through when breaking a Phi-cycle permutation, so it must never hold a
// live interval the allocator itself assigned. The order matters only as a
// deterministic iteration order for freeUntilPos tie-breaks; it is not a
// priority.
var AllocatableRegisters = []PhysicalRegister{
	RegAX, RegCX, RegDX, RegSI, RegDI,
	RegR8, RegR9, RegR10,
	RegBX, RegR12, RegR13, RegR14, RegR15,
}

// CalleeSaved reports whether r must be preserved across a call by the
// callee itself under the System V AMD64 convention.
func (r PhysicalRegister) CalleeSaved() bool {
	switch r {
	case RegBX, RegBP, RegR12, RegR13, RegR14, RegR15, RegSP:
		return true
	default:
		return false
	}
}

// CallerSavedRegisters is every allocatable general-purpose register the
// System V AMD64 convention allows a callee to clobber (R11, also
// caller-saved, is left out because it is never allocated; see
// AllocatableRegisters); lifetime analysis pins each
// of these with a one-position FixedInterval at every Call site so the
// allocator is forced to evict any live value out of them across the call.
var CallerSavedRegisters = []PhysicalRegister{
	RegAX, RegCX, RegDX, RegSI, RegDI, RegR8, RegR9, RegR10,
}

// ArgumentRegisters is the System V AMD64 order in which the first six
// integer/pointer arguments are passed; the seventh and later go on the
// stack, caller-cleaned.
var ArgumentRegisters = []PhysicalRegister{RegDI, RegSI, RegDX, RegCX, RegR8, RegR9}

// ReturnRegister is where a scalar return value is produced.
const ReturnRegister = RegAX

// StackAlignment is the required RSP alignment at the point of a call
// instruction (§ calling convention: 16-byte aligned, no red zone reliance).
const StackAlignment = 16
