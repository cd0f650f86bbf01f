package diagnostics

import (
	"strings"
	"testing"
)

func compileStep() (err error) {
	defer Recover(&err)

	Invariant("node %d is dangling", 42)

	return nil
}

func TestRecoverConvertsFaultToError(t *testing.T) {
	err := compileStep()
	if err == nil {
		t.Fatal("expected an error from a recovered Fault")
	}

	fault, ok := err.(*Fault)
	if !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}

	if fault.Category != CategoryInvariant {
		t.Fatalf("expected CategoryInvariant, got %s", fault.Category)
	}
}

func TestRecoverRePanicsOnForeignPanic(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected the foreign panic to propagate")
		}
	}()

	func() (err error) {
		defer Recover(&err)

		panic("not a Fault")
	}()
}

func TestUnsupportedCarriesConstructName(t *testing.T) {
	err := func() (err error) {
		defer Recover(&err)

		Unsupported("stack-passed argument", map[string]any{"index": 7})

		return nil
	}()

	fault, ok := err.(*Fault)
	if !ok {
		t.Fatalf("expected *Fault, got %T", err)
	}

	if fault.Category != CategoryUnsupported {
		t.Fatalf("expected CategoryUnsupported, got %s", fault.Category)
	}

	if !strings.Contains(fault.Message, "stack-passed argument") {
		t.Fatalf("expected the message to name the construct, got %q", fault.Message)
	}
}
