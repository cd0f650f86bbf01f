// Package asmtext is the pluggable textual-assembly collaborator the
// backend core hands its final instruction stream to. Keeping it separate
// from internal/codegen means the register-allocated instruction stream
// itself never depends on a particular assembler's syntax; a caller wanting
// AT&T syntax or a binary object-file writer implements Emitter instead of
// forking the backend.
package asmtext

import (
	"fmt"
	"strings"
)

// Emitter receives one function's worth of emission calls in program
// order and renders them into whatever textual or binary form it chooses.
type Emitter interface {
	Label(name string)
	Directive(text string)
	Comment(text string)
	Instruction(mnemonic string, operands ...string)
}

// Writer is the default Emitter: Intel-syntax text, one instruction per
// line, matching the indentation and directive style of the teacher's own
// EmitX64/EmitX64WithRegisterAllocation text output.
type Writer struct {
	b strings.Builder
}

// NewWriter returns an empty Writer ready to accept emission calls.
func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Label(name string) {
	fmt.Fprintf(&w.b, "%s:\n", name)
}

func (w *Writer) Directive(text string) {
	fmt.Fprintf(&w.b, "%s\n", text)
}

func (w *Writer) Comment(text string) {
	fmt.Fprintf(&w.b, "  ; %s\n", text)
}

func (w *Writer) Instruction(mnemonic string, operands ...string) {
	if len(operands) == 0 {
		fmt.Fprintf(&w.b, "  %s\n", mnemonic)
		return
	}

	fmt.Fprintf(&w.b, "  %s %s\n", mnemonic, strings.Join(operands, ", "))
}

// String returns everything emitted so far.
func (w *Writer) String() string {
	return w.b.String()
}
