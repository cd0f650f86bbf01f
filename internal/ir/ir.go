// Package ir defines the SSA-form intermediate representation consumed by
// the backend. The graph is built once by an (out of scope) frontend and is
// immutable from the point it is handed to codegen.Compile; the builder
// methods on Graph exist only so fixtures and tests can construct graphs
// without a real lexer/parser/HIR pipeline.
//
// Nodes are stored in a single tagged-union struct keyed by Opcode rather
// than as a hierarchy of per-opcode Go types: instruction selection
// dispatches on Op with one switch instead of a visitor interface per IR
// level.
package ir

import (
	"fmt"
	"strings"
)

// NodeID identifies a node within one Graph. IDs are assigned by a
// monotonic counter owned by the Graph and are never reused.
type NodeID int

// Opcode tags the kind of value or effect a Node represents.
type Opcode int

const (
	OpInvalid Opcode = iota
	OpStart          // produces the argument tuple and the initial memory value
	OpEnd            // graph sink; predecessors are Return nodes and keep-alive edges
	OpArg            // projection of the Start argument tuple at Index; folds the tuple Proj in directly
	OpPhi            // block-head value selected by predecessor
	OpConstInt       // width-bit signed immediate
	OpAdd
	OpSub
	OpAnd
	OpMul
	OpDiv // truncating signed division
	OpMod // remainder of OpDiv, same divisor
	OpNeg
	OpCmp     // produces a flags-only value; a block's Two exit reads it via Exit.CmpNode
	OpLoad    // predecessor 0 is the incoming memory value, predecessor 1 is the address
	OpStore   // predecessor 0 is the incoming memory value, predecessor 1 address, predecessor 2 value
	OpCall    // predecessor 0 is the incoming memory value, remaining are argument values
	OpReturn  // predecessor 0 is the incoming memory value, predecessor 1 (optional) is the return value
	OpAddress // materializes the address of a global function or label
)

func (op Opcode) String() string {
	switch op {
	case OpStart:
		return "Start"
	case OpEnd:
		return "End"
	case OpArg:
		return "Arg"
	case OpPhi:
		return "Phi"
	case OpConstInt:
		return "ConstInt"
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpAnd:
		return "And"
	case OpMul:
		return "Mul"
	case OpDiv:
		return "Div"
	case OpMod:
		return "Mod"
	case OpNeg:
		return "Neg"
	case OpCmp:
		return "Cmp"
	case OpLoad:
		return "Load"
	case OpStore:
		return "Store"
	case OpCall:
		return "Call"
	case OpReturn:
		return "Return"
	case OpAddress:
		return "Address"
	default:
		return "Invalid"
	}
}

// ModeKind classifies the bit-level interpretation of a value.
type ModeKind int

const (
	KindInteger ModeKind = iota
	KindMemory
	KindTuple
	KindControl
	KindBoolean
)

func (k ModeKind) String() string {
	switch k {
	case KindInteger:
		return "int"
	case KindMemory:
		return "mem"
	case KindTuple:
		return "tuple"
	case KindControl:
		return "ctrl"
	case KindBoolean:
		return "bool"
	default:
		return "?"
	}
}

// Mode is the bit width and kind of a node's value.
type Mode struct {
	Width int // 8, 16, 32 or 64 for KindInteger/KindBoolean; 64 for KindMemory pointers
	Kind  ModeKind
}

// ModeInt64 is the 64-bit integer mode used by MiniJava's single scalar type.
var ModeInt64 = Mode{Width: 64, Kind: KindInteger}

// ModeBool is the mode of a comparison/boolean result.
var ModeBool = Mode{Width: 8, Kind: KindBoolean}

// ModeMem is the mode of the implicit memory-effect chain.
var ModeMem = Mode{Width: 64, Kind: KindMemory}

// Relation names a comparison relation carried by Cmp nodes and by a
// block's Two exit arity.
type Relation int

const (
	RelEqual Relation = iota
	RelNotEqual
	RelLess
	RelLessEqual
	RelGreater
	RelGreaterEqual
)

func (r Relation) String() string {
	switch r {
	case RelEqual:
		return "=="
	case RelNotEqual:
		return "!="
	case RelLess:
		return "<"
	case RelLessEqual:
		return "<="
	case RelGreater:
		return ">"
	case RelGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// Negate returns the relation that holds exactly when r does not.
func (r Relation) Negate() Relation {
	switch r {
	case RelEqual:
		return RelNotEqual
	case RelNotEqual:
		return RelEqual
	case RelLess:
		return RelGreaterEqual
	case RelLessEqual:
		return RelGreater
	case RelGreater:
		return RelLessEqual
	case RelGreaterEqual:
		return RelLess
	default:
		return r
	}
}

// Node is one value or effect in the SSA graph. Fields not meaningful for a
// given Op are left zero; see the Opcode doc comments above for which
// predecessor/field slots a given opcode uses.
type Node struct {
	ID    NodeID
	Op    Opcode
	Mode  Mode
	Block *Block
	Preds []NodeID

	ConstValue int64    // OpConstInt
	Relation   Relation // OpCmp
	ProjIndex  int      // OpArg
	Symbol     string   // OpCall (callee name), OpAddress (label)
}

func (n *Node) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "n%d %s", n.ID, n.Op)

	switch n.Op {
	case OpConstInt:
		fmt.Fprintf(&b, " %d", n.ConstValue)
	case OpCmp:
		fmt.Fprintf(&b, " %s", n.Relation)
	case OpArg:
		fmt.Fprintf(&b, " #%d", n.ProjIndex)
	case OpCall, OpAddress:
		fmt.Fprintf(&b, " %q", n.Symbol)
	}

	if len(n.Preds) > 0 {
		b.WriteString(" (")

		for i, p := range n.Preds {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "n%d", p)
		}

		b.WriteString(")")
	}

	return b.String()
}

// ExitKind is the arity of a block's control-flow exit.
type ExitKind int

const (
	ExitZero ExitKind = iota // terminal: a Return (or unreachable) block
	ExitOne                  // unconditional jump
	ExitTwo                  // conditional on Relation: true goes to Then, false to Else
)

// Exit describes how control leaves a block.
type Exit struct {
	Kind     ExitKind
	Next     *Block // ExitOne
	Then     *Block // ExitTwo
	Else     *Block // ExitTwo
	Relation Relation
	// CmpNode is the Cmp value the relation reads, retained so instruction
	// selection can fuse "cmp; jcc" without a separate flags-producing value.
	CmpNode NodeID
}

// PhiArg is one predecessor's contribution to a Phi value, aligned
// positionally with the owning block's Preds.
type PhiArg struct {
	Pred *Block
	Src  NodeID
}

// PhiNode is metadata for a block-head Phi; Dest is also present as an
// ordinary Node of Op == OpPhi so it can be referenced like any other value.
type PhiNode struct {
	Dest NodeID
	Args []PhiArg
}

// Block is an ordered sequence of IR nodes ending in an Exit.
type Block struct {
	ID    int
	Name  string
	Preds []*Block
	Succs []*Block
	Nodes []NodeID // data/effect nodes in this block, excluding Phis
	Phis  []*PhiNode
	Exit  Exit

	// LinearizedOrdinal is -1 until Linearize assigns the block a position
	// in the total block order (see codegen.Linearize).
	LinearizedOrdinal int

	// LoopDepth is the natural-loop nesting depth Linearize computes for
	// this block (0 outside any loop); lifetime analysis uses it to decide
	// whether a value live at a loop header must be extended across the
	// header's entire body (§4.3).
	LoopDepth int
}

func (b *Block) String() string {
	return b.Name
}

// Graph is one procedure's SSA IR.
type Graph struct {
	Name   string
	Start  *Node
	End    *Node
	Blocks []*Block

	nodes  map[NodeID]*Node
	nextID NodeID
}

// NewGraph creates an empty graph with a Start node already placed in an
// entry block named "entry".
func NewGraph(name string) *Graph {
	g := &Graph{Name: name, nodes: make(map[NodeID]*Node)}
	entry := g.NewBlock("entry")
	g.Start = g.newNode(entry, OpStart, Mode{Kind: KindTuple})
	entry.Nodes = append(entry.Nodes, g.Start.ID)

	return g
}

// NewBlock appends a new, exit-less block to the graph.
func (g *Graph) NewBlock(name string) *Block {
	b := &Block{ID: len(g.Blocks), Name: name, LinearizedOrdinal: -1}
	g.Blocks = append(g.Blocks, b)

	return b
}

// Connect records a control-flow edge from pred to succ; callers must also
// set pred.Exit to reference succ via Next/Then/Else (see SetExitOne/Two).
func Connect(pred, succ *Block) {
	pred.Succs = append(pred.Succs, succ)
	succ.Preds = append(succ.Preds, pred)
}

func (g *Graph) newNode(b *Block, op Opcode, mode Mode, preds ...NodeID) *Node {
	n := &Node{ID: g.nextID, Op: op, Mode: mode, Block: b, Preds: preds}
	g.nextID++
	g.nodes[n.ID] = n

	return n
}

// Node looks up a node by id. Panics if the id is unknown: a dangling
// reference is an invariant violation in an immutable graph.
func (g *Graph) Node(id NodeID) *Node {
	n, ok := g.nodes[id]
	if !ok {
		panic(fmt.Sprintf("ir: dangling node reference n%d", id))
	}

	return n
}

func (g *Graph) emit(b *Block, n *Node) *Node {
	b.Nodes = append(b.Nodes, n.ID)
	return n
}

// ConstIntV materializes a signed integer immediate and sets its value.
func (g *Graph) ConstIntV(b *Block, width int, v int64) *Node {
	n := g.newNode(b, OpConstInt, Mode{Width: width, Kind: KindInteger})
	n.ConstValue = v

	return g.emit(b, n)
}

// Arg projects argument index out of the Start tuple.
func (g *Graph) Arg(b *Block, index, width int) *Node {
	n := g.newNode(b, OpArg, Mode{Width: width, Kind: KindInteger}, g.Start.ID)
	n.ProjIndex = index

	return g.emit(b, n)
}

func (g *Graph) binary(b *Block, op Opcode, width int, lhs, rhs NodeID) *Node {
	return g.emit(b, g.newNode(b, op, Mode{Width: width, Kind: KindInteger}, lhs, rhs))
}

// Add emits an integer addition.
func (g *Graph) Add(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpAdd, width, lhs, rhs)
}

// Sub emits an integer subtraction.
func (g *Graph) Sub(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpSub, width, lhs, rhs)
}

// And emits a bitwise and.
func (g *Graph) And(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpAnd, width, lhs, rhs)
}

// Mul emits an integer multiplication.
func (g *Graph) Mul(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpMul, width, lhs, rhs)
}

// Div emits a truncating signed integer division.
func (g *Graph) Div(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpDiv, width, lhs, rhs)
}

// Mod emits the remainder of a Div by the same divisor.
func (g *Graph) Mod(b *Block, width int, lhs, rhs NodeID) *Node {
	return g.binary(b, OpMod, width, lhs, rhs)
}

// Neg emits an integer negation.
func (g *Graph) Neg(b *Block, width int, src NodeID) *Node {
	return g.emit(b, g.newNode(b, OpNeg, Mode{Width: width, Kind: KindInteger}, src))
}

// Cmp emits a comparison; its value carries no representable result other
// than the flags a block's Two exit reads via Exit.CmpNode. A Cmp used
// outside that role is lowered to an explicit setcc/movzx boolean by the
// selector instead of a separate projection node.
func (g *Graph) Cmp(b *Block, rel Relation, lhs, rhs NodeID) *Node {
	n := g.newNode(b, OpCmp, ModeBool, lhs, rhs)
	n.Relation = rel

	return g.emit(b, n)
}

// Load reads width bits from the address produced by ptr, threading mem.
func (g *Graph) Load(b *Block, width int, mem, ptr NodeID) *Node {
	return g.emit(b, g.newNode(b, OpLoad, Mode{Width: width, Kind: KindInteger}, mem, ptr))
}

// Store writes val to the address produced by ptr, threading mem, and
// returns the new memory value.
func (g *Graph) Store(b *Block, mem, ptr, val NodeID) *Node {
	return g.emit(b, g.newNode(b, OpStore, ModeMem, mem, ptr, val))
}

// Call invokes callee with args, threading mem; width is the return value's
// width (ignored if the callee returns nothing).
func (g *Graph) Call(b *Block, callee string, width int, mem NodeID, args ...NodeID) *Node {
	preds := append([]NodeID{mem}, args...)
	n := g.newNode(b, OpCall, Mode{Width: width, Kind: KindInteger}, preds...)
	n.Symbol = callee

	return g.emit(b, n)
}

// Address materializes the address of a global function or label.
func (g *Graph) Address(b *Block, symbol string) *Node {
	n := g.newNode(b, OpAddress, ModeInt64)
	n.Symbol = symbol

	return g.emit(b, n)
}

// Return terminates b with a Zero-exit Return node. When hasVal is false the
// procedure returns no value (val is ignored).
func (g *Graph) Return(b *Block, mem NodeID, val NodeID, hasVal bool) *Node {
	var preds []NodeID
	if hasVal {
		preds = []NodeID{mem, val}
	} else {
		preds = []NodeID{mem}
	}

	n := g.emit(b, g.newNode(b, OpReturn, Mode{Kind: KindControl}, preds...))
	b.Exit = Exit{Kind: ExitZero}

	return n
}

// AddPhi adds a Phi to b's head; args must align positionally with b.Preds.
func (g *Graph) AddPhi(b *Block, width int, args []PhiArg) *Node {
	n := g.newNode(b, OpPhi, Mode{Width: width, Kind: KindInteger})
	b.Phis = append(b.Phis, &PhiNode{Dest: n.ID, Args: args})
	g.nodes[n.ID] = n

	return n
}

// SetExitOne makes b fall through unconditionally to next.
func SetExitOne(b, next *Block) {
	b.Exit = Exit{Kind: ExitOne, Next: next}
	Connect(b, next)
}

// SetExitTwo makes b branch on rel (read from cmp) to then/els.
func SetExitTwo(b *Block, rel Relation, cmp NodeID, then, els *Block) {
	b.Exit = Exit{Kind: ExitTwo, Then: then, Else: els, Relation: rel, CmpNode: cmp}
	Connect(b, then)
	Connect(b, els)
}

// Validate performs the structural sanity checks that stand in for the
// invariants an upstream type-checked frontend would already guarantee: a
// violation here is an internal bug, never a user-program error.
func (g *Graph) Validate() error {
	for _, b := range g.Blocks {
		for _, id := range b.Nodes {
			n := g.Node(id)
			for _, p := range n.Preds {
				if _, ok := g.nodes[p]; !ok {
					return fmt.Errorf("ir: block %s node n%d references dangling predecessor n%d", b.Name, id, p)
				}
			}
		}

		for _, phi := range b.Phis {
			if len(phi.Args) != len(b.Preds) {
				return fmt.Errorf("ir: block %s phi n%d has %d args for %d predecessors", b.Name, phi.Dest, len(phi.Args), len(b.Preds))
			}
		}

		switch b.Exit.Kind {
		case ExitOne:
			if b.Exit.Next == nil {
				return fmt.Errorf("ir: block %s has One exit with nil target", b.Name)
			}
		case ExitTwo:
			if b.Exit.Then == nil || b.Exit.Else == nil {
				return fmt.Errorf("ir: block %s has Two exit with nil branch", b.Name)
			}
		}
	}

	return nil
}
