// Package harness loads the JSON procedure-graph fixtures cmd/mjbackc
// compiles. A fixture is a direct textual stand-in for what a real
// lexer/parser/HIR pipeline would otherwise hand the backend: one or more
// procedures, each a list of named blocks whose operations reference
// earlier results by name. It exists only so the backend core can be
// exercised end-to-end without that excluded frontend.
package harness

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sherter/minijavac/internal/codegen"
	"github.com/sherter/minijavac/internal/ir"
	"github.com/sherter/minijavac/internal/mangling"
)

// SchemaVersion is the current ir-fixture schema version. Load and Build
// do not check a fixture's declared version against it; cmd/mjbackc gates
// which versions it accepts from a file on disk with its -target-abi
// constraint.
const SchemaVersion = "1.2.0"

// Fixture is the top-level JSON document.
type Fixture struct {
	SchemaVersion string      `json:"schemaVersion"`
	Procedures    []Procedure `json:"procedures"`
}

// Procedure is one procedure's IR graph plus its calling-convention shape.
type Procedure struct {
	Name        string  `json:"name"`
	ArgWidths   []int   `json:"argWidths"`
	ReturnWidth int     `json:"returnWidth"` // 0 means void
	Blocks      []Block `json:"blocks"`
}

// Block is one named basic block.
type Block struct {
	Name string `json:"name"`
	Ops  []Op   `json:"ops"`
	Phis []Phi  `json:"phis"`
	Exit Exit   `json:"exit"`
}

// Op is one value-producing (or effectful) operation; Kind selects which
// of the remaining fields apply, mirroring ir.Opcode one-for-one.
type Op struct {
	ID     string   `json:"id"`
	Kind   string   `json:"kind"`
	Index  int      `json:"index,omitempty"`
	Width  int      `json:"width,omitempty"`
	Value  int64    `json:"value,omitempty"`
	LHS    string   `json:"lhs,omitempty"`
	RHS    string   `json:"rhs,omitempty"`
	Rel    string   `json:"rel,omitempty"`
	Addr   string   `json:"addr,omitempty"`
	Val    string   `json:"val,omitempty"`
	Mem    string   `json:"mem,omitempty"`
	Callee string   `json:"callee,omitempty"`
	Args   []string `json:"args,omitempty"`
	Symbol string   `json:"symbol,omitempty"`
}

// Phi is one block-head Phi.
type Phi struct {
	Dest  string   `json:"dest"`
	Width int      `json:"width"`
	Args  []PhiArg `json:"args"`
}

// PhiArg names the predecessor block and the value it contributes.
type PhiArg struct {
	Pred string `json:"pred"`
	Src  string `json:"src"`
}

// Exit describes how control leaves a block; Kind is one of "return",
// "jump", "branch".
type Exit struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"` // return
	Next  string `json:"next,omitempty"`  // jump
	Then  string `json:"then,omitempty"`  // branch
	Else  string `json:"else,omitempty"`  // branch
	Rel   string `json:"rel,omitempty"`   // branch
	LHS   string `json:"lhs,omitempty"`   // branch
	RHS   string `json:"rhs,omitempty"`   // branch
}

// Load reads and parses a Fixture from r.
func Load(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("harness: decode fixture: %w", err)
	}

	return &f, nil
}

// Build constructs an ir.Graph and codegen.ProcedureInfo for one Procedure
// using the internal/ir builder API, the same one package tests use to
// hand-construct fixtures. platform selects the leading-underscore
// convention applied to the mjMain entry point and to calls against the
// two fixed runtime externals (§6); a fixture's own procedure and call
// names otherwise pass through unmangled, since class/method mangling is a
// property of the (out of scope) frontend's name resolution, not of a flat
// fixture procedure name.
func Build(p Procedure, platform mangling.Platform) (*ir.Graph, codegen.ProcedureInfo, error) {
	name := p.Name
	if name == mangling.EntrySymbol {
		name = mangling.Entry(platform)
	}

	g := ir.NewGraph(name)

	blocks := make(map[string]*ir.Block, len(p.Blocks))
	blocks["entry"] = g.Blocks[0]

	for _, b := range p.Blocks {
		if b.Name == "entry" {
			continue
		}

		blocks[b.Name] = g.NewBlock(b.Name)
	}

	values := make(map[string]ir.NodeID)

	rel := func(s string) ir.Relation {
		switch s {
		case "==":
			return ir.RelEqual
		case "!=":
			return ir.RelNotEqual
		case "<":
			return ir.RelLess
		case "<=":
			return ir.RelLessEqual
		case ">":
			return ir.RelGreater
		case ">=":
			return ir.RelGreaterEqual
		default:
			return ir.RelEqual
		}
	}

	mem := func(name string) ir.NodeID {
		if name == "" {
			return g.Start.ID
		}

		return values[name]
	}

	for _, b := range p.Blocks {
		cb := blocks[b.Name]

		for _, op := range b.Ops {
			var n *ir.Node

			switch op.Kind {
			case "const":
				n = g.ConstIntV(cb, op.Width, op.Value)
			case "arg":
				n = g.Arg(cb, op.Index, op.Width)
			case "add":
				n = g.Add(cb, op.Width, values[op.LHS], values[op.RHS])
			case "sub":
				n = g.Sub(cb, op.Width, values[op.LHS], values[op.RHS])
			case "and":
				n = g.And(cb, op.Width, values[op.LHS], values[op.RHS])
			case "mul":
				n = g.Mul(cb, op.Width, values[op.LHS], values[op.RHS])
			case "div":
				n = g.Div(cb, op.Width, values[op.LHS], values[op.RHS])
			case "mod":
				n = g.Mod(cb, op.Width, values[op.LHS], values[op.RHS])
			case "neg":
				n = g.Neg(cb, op.Width, values[op.LHS])
			case "cmp":
				n = g.Cmp(cb, rel(op.Rel), values[op.LHS], values[op.RHS])
			case "load":
				n = g.Load(cb, op.Width, mem(op.Mem), values[op.Addr])
			case "store":
				n = g.Store(cb, mem(op.Mem), values[op.Addr], values[op.Val])
			case "address":
				n = g.Address(cb, op.Symbol)
			case "call":
				args := make([]ir.NodeID, len(op.Args))
				for i, a := range op.Args {
					args[i] = values[a]
				}

				callee := op.Callee
				if callee == mangling.RuntimePrintInt || callee == mangling.RuntimeCallocImpl {
					callee = mangling.Runtime(platform, callee)
				}

				n = g.Call(cb, callee, op.Width, mem(op.Mem), args...)
			default:
				return nil, codegen.ProcedureInfo{}, fmt.Errorf("harness: unknown op kind %q", op.Kind)
			}

			values[op.ID] = n.ID
		}

		for _, phi := range b.Phis {
			var args []ir.PhiArg

			for _, a := range phi.Args {
				args = append(args, ir.PhiArg{Pred: blocks[a.Pred], Src: values[a.Src]})
			}

			dest := g.AddPhi(cb, phi.Width, args)
			values[phi.Dest] = dest.ID
		}

		switch b.Exit.Kind {
		case "return":
			if b.Exit.Value == "" {
				g.Return(cb, mem(""), 0, false)
			} else {
				g.Return(cb, mem(""), values[b.Exit.Value], true)
			}
		case "jump":
			ir.SetExitOne(cb, blocks[b.Exit.Next])
		case "branch":
			cmp := g.Cmp(cb, rel(b.Exit.Rel), values[b.Exit.LHS], values[b.Exit.RHS])
			ir.SetExitTwo(cb, rel(b.Exit.Rel), cmp.ID, blocks[b.Exit.Then], blocks[b.Exit.Else])
		default:
			return nil, codegen.ProcedureInfo{}, fmt.Errorf("harness: unknown exit kind %q in block %s", b.Exit.Kind, b.Name)
		}
	}

	proc := codegen.ProcedureInfo{
		Name:       name,
		ArgWidths:  p.ArgWidths,
		ReturnWide: p.ReturnWidth > 0,
		ReturnW:    p.ReturnWidth,
	}

	return g, proc, nil
}
