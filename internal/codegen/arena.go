package codegen

// Arena owns the per-procedure monotonic id supplies (§5 resource policy:
// virtual-register ids and stack-slot offsets must reset between
// procedures). Exactly one Arena is created per Compile call and discarded
// with it; nothing in this package keeps state across procedures.
type Arena struct {
	nextVReg   VRegID
	nextSlot   int64
	slotByVReg map[VRegID]int64
	vregByID   map[VRegID]VReg
}

// NewArena returns a fresh, empty Arena.
func NewArena() *Arena {
	return &Arena{
		slotByVReg: make(map[VRegID]int64),
		vregByID:   make(map[VRegID]VReg),
	}
}

// NewVReg allocates a fresh virtual register of the given width with no
// placement preference.
func (a *Arena) NewVReg(width int) VReg {
	v := VReg{ID: a.nextVReg, Width: width}
	a.nextVReg++
	a.vregByID[v.ID] = v

	return v
}

// NewConstrainedVReg allocates a virtual register that the allocator must
// place in constraint (a hard requirement, e.g. the dividend of IDIV).
func (a *Arena) NewConstrainedVReg(width int, constraint PhysicalRegister) VReg {
	v := a.NewVReg(width)
	v.Constraint = constraint
	a.vregByID[v.ID] = v

	return v
}

// Hint records a soft placement preference for an already-allocated vreg.
func (a *Arena) Hint(id VRegID, hint PhysicalRegister) {
	v := a.vregByID[id]
	v.Hint = hint
	a.vregByID[id] = v
}

// Lookup returns the full VReg record for id.
func (a *Arena) Lookup(id VRegID) VReg {
	return a.vregByID[id]
}

// SlotFor returns the stack-slot byte offset (from the frame base, growing
// downward) assigned to a spilled root vreg, allocating a new one on first
// use. Every split interval descending from the same original vreg shares
// one slot (§4.4 per-root-vreg slot sharing): callers key this by the root
// id they tracked through splitting, not by a split's synthetic id.
func (a *Arena) SlotFor(root VRegID) int64 {
	if off, ok := a.slotByVReg[root]; ok {
		return off
	}

	a.nextSlot += 8
	a.slotByVReg[root] = a.nextSlot

	return a.nextSlot
}

// FrameSize returns the stack space to reserve for spill slots, rounded up
// to preserve 16-byte alignment at call sites.
func (a *Arena) FrameSize() int64 {
	size := a.nextSlot
	if rem := size % StackAlignment; rem != 0 {
		size += StackAlignment - rem
	}

	return size
}

// NumVRegs reports how many virtual registers have been minted so far.
func (a *Arena) NumVRegs() int {
	return int(a.nextVReg)
}
