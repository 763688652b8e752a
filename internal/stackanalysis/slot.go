// Package stackanalysis implements spec.md §4.3: it walks a parsed
// Function's basic blocks in breadth-first worklist order from the entry
// block (exception-handler blocks are queued too), simulating the abstract
// operand stack and local-variable array to assign every IR instruction's
// Src/Dst ValueIDs and to produce the stackslot set the register allocator
// (internal/regalloc) later assigns physical homes to.
//
// The simulation follows the shape of wazero's
// internal/engine/compiler/compiler_value_location.go valueLocationStack,
// generalized from its two register classes (general-purpose, vector) to
// the JVM's five value kinds (int, long, float, double, address) and from
// its single "local or stack" slot distinction to the spec's four-way
// TEMP/STACK/LOCAL/ARG taxonomy.
package stackanalysis

import "jitvm/internal/classfile"

// Role is the stackslot kind from spec.md §3: TEMP, STACK, LOCAL, or ARG.
type Role byte

const (
	// RoleTemp is a fresh pseudo-variable produced mid-block by an
	// instruction whose result does not survive to a block boundary.
	RoleTemp Role = iota
	// RoleStack is an interface slot: the operand-stack value at a given
	// depth, shared by every block that may be entered with that depth
	// occupied, so that predecessor blocks can reconcile into the same
	// physical home as their successor expects (spec.md §4.4 policy ii).
	RoleStack
	// RoleLocal is a JVM local-variable-array slot, identified by
	// (index, type) so that two incompatible types stored into the same
	// slot at different points are treated as distinct physical variables.
	RoleLocal
	// RoleArg is a method parameter, bound to its calling-convention home
	// at method entry. Every ARG slot is also a LOCAL slot at the same
	// index; RoleArg only marks the subset the prologue must bind.
	RoleArg
)

func (r Role) String() string {
	switch r {
	case RoleTemp:
		return "TEMP"
	case RoleStack:
		return "STACK"
	case RoleLocal:
		return "LOCAL"
	case RoleArg:
		return "ARG"
	default:
		return "?"
	}
}

// Slot is spec.md §3's `stackslot`: kind, type, and (once internal/regalloc
// has run) a physical home. stackanalysis only populates Role/Type/VarNum;
// InMemory/RegOff are zero until the allocator assigns them.
type Slot struct {
	ID   uint32
	Role Role
	Type classfile.Kind

	// VarNum is the stack depth for RoleStack, the local index for
	// RoleLocal/RoleArg, and the stack depth at the push for RoleTemp
	// (diagnostic only for RoleTemp — it carries no semantic weight there).
	VarNum int

	// InMemory is true once the allocator has spilled this slot to its
	// frame-relative stack location instead of (or in addition to,
	// pending reload) a register.
	InMemory bool
	// RegOff names a physical register (InMemory == false) or, when
	// InMemory is true, the slot's spill-slot index within its register
	// class. RegOff is not itself a byte offset: internal/codegen scales
	// the index by the class's word size to get the frame-pointer-relative
	// byte offset. Interpreted by internal/regalloc and internal/codegen only.
	RegOff int32
}

// Result is stackanalysis's output for one Function: every Slot it
// allocated, indexable by ValueID, plus the per-block interface shape
// already recorded on the blocks themselves (ir.BasicBlock.InTypes/
// OutTypes/InDepth/OutDepth).
type Result struct {
	// Slots is indexed by ValueID; Slots[0] is unused (ValueID zero means
	// "no value").
	Slots []*Slot
	// MaxStack is the deepest operand-stack depth observed across every
	// block, used by internal/codegen to size the interface-slot table.
	MaxStack int
}
