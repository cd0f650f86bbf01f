// Package diagnostics provides the typed error values the backend core
// raises when it cannot proceed. A Fault is always constructed at the point
// of failure (capturing its caller via runtime.Caller) and is expected to
// propagate as a panic up to a Recover boundary (codegen.Compile, and the
// stage entry points regalloc.Allocate and codegen.Emit), which turns it
// into a returned error without unwinding the rest of the process.
package diagnostics

import (
	"fmt"
	"runtime"
)

// Category classifies why the backend gave up on a procedure.
type Category string

const (
	// CategoryInvariant marks a violation of a structural assumption the
	// backend places on its own state (a dangling node reference, an
	// interval with no assigned slot at emission time, ...). These never
	// originate from anything the input program did.
	CategoryInvariant Category = "INVARIANT"

	// CategoryUnsupported marks an IR shape the core recognizes but does
	// not (yet) lower — e.g. an opcode with no selection rule.
	CategoryUnsupported Category = "UNSUPPORTED"

	// CategoryResource marks exhaustion of a bounded internal resource:
	// too many simultaneously live values for the allocator to place, an
	// arena id counter overflow, and similar.
	CategoryResource Category = "RESOURCE"

	// CategoryUserProgram is documented for completeness only: a
	// user-program error (e.g. a MiniJava type error) is caught by the
	// frontend before an IR graph ever reaches this module, so this
	// category is never originated here.
	CategoryUserProgram Category = "USER_PROGRAM"
)

// Fault is the error value carried by a diagnostics panic.
type Fault struct {
	Category Category
	Message  string
	Detail   map[string]any
	Caller   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("[%s] %s (at %s)", f.Category, f.Message, f.Caller)
}

func newFault(category Category, message string, detail map[string]any) *Fault {
	caller := "unknown"
	if pc, _, _, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &Fault{Category: category, Message: message, Detail: detail, Caller: caller}
}

// Abort builds a Fault of the given category and panics with it. Callers
// within internal/codegen use this instead of returning an error so that
// deeply recursive selection/allocation code need not thread an error
// return through every call; a Recover boundary (codegen.Compile,
// regalloc.Allocate, codegen.Emit) converts it back into a returned error.
func Abort(category Category, message string, detail map[string]any) {
	panic(newFault(category, message, detail))
}

// Invariant aborts with CategoryInvariant.
func Invariant(format string, args ...any) {
	Abort(CategoryInvariant, fmt.Sprintf(format, args...), nil)
}

// Unsupported aborts with CategoryUnsupported, naming the offending
// construct explicitly so the message can be surfaced to a developer
// without re-deriving it from the panic value.
func Unsupported(construct string, detail map[string]any) {
	Abort(CategoryUnsupported, fmt.Sprintf("unsupported construct: %s", construct), detail)
}

// ResourceExhausted aborts with CategoryResource.
func ResourceExhausted(format string, args ...any) {
	Abort(CategoryResource, fmt.Sprintf(format, args...), nil)
}

// Recover converts a panic carrying a *Fault into a non-nil *err. Any other
// panic value is re-raised: only diagnostics-originated aborts are part of
// this module's error-handling contract. Call as:
//
//	defer diagnostics.Recover(&err)
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}

	fault, ok := r.(*Fault)
	if !ok {
		panic(r)
	}

	*err = fault
}
