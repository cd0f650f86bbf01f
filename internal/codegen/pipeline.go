package codegen

import (
	"fmt"

	"github.com/sherter/minijavac/internal/asmtext"
	"github.com/sherter/minijavac/internal/codegen/lifetime"
	"github.com/sherter/minijavac/internal/codegen/regalloc"
	"github.com/sherter/minijavac/internal/diagnostics"
	"github.com/sherter/minijavac/internal/ir"
)

// Compile runs one procedure's IR graph through the backend stages —
// linearization, instruction selection, lifetime analysis, linear-scan
// allocation, and move resolution — and returns the resulting Program.
// Final emission is not part of Compile; CompileToText adds it. Errors
// from validation, lifetime analysis and allocation are wrapped with the
// stage name; a Fault raised by another stage is returned as is. Each
// internal stage raises failures as a diagnostics.Fault panic rather than
// a plain error return (§ design notes: tree-matching selection and
// recursive allocation code would otherwise thread an error return
// through every call); Compile recovers such a panic and turns it back
// into a normal error (regalloc.Allocate and Emit do the same for their
// own stage), so a caller compiling many procedures can isolate one
// failing procedure without the process aborting.
func Compile(g *ir.Graph, proc ProcedureInfo) (prog *Program, err error) {
	defer diagnostics.Recover(&err)

	if verr := g.Validate(); verr != nil {
		return nil, fmt.Errorf("validate: %w", verr)
	}

	arena := NewArena()

	order := Linearize(g)

	fn := Select(g, order, proc, arena)

	intervals, lerr := lifetime.Analyze(fn)
	if lerr != nil {
		return nil, fmt.Errorf("lifetime: %w", lerr)
	}

	alloc, aerr := regalloc.Allocate(fn, intervals)
	if aerr != nil {
		return nil, fmt.Errorf("regalloc: %w", aerr)
	}

	ResolveMoves(g, order, fn, intervals, alloc)

	return &Program{Function: fn}, nil
}

// CompileToText is a convenience wrapper for callers (tests, the harness)
// that want rendered assembly rather than the structured Program; it wires
// Compile's output into a fresh asmtext.Writer.
func CompileToText(g *ir.Graph, proc ProcedureInfo) (string, error) {
	prog, err := Compile(g, proc)
	if err != nil {
		return "", err
	}

	w := asmtext.NewWriter()
	if err := Emit(prog.Function, w); err != nil {
		return "", fmt.Errorf("emit: %w", err)
	}

	return w.String(), nil
}
