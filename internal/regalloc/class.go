// Package regalloc implements spec.md §4.4: a linear-scan register
// allocator over fixed register-class pools, run as a pre-pass after
// internal/stackanalysis and before internal/codegen emits any
// instruction. It is architecture-agnostic — the caller (one of
// internal/codegen's per-ISA backends) supplies the concrete register
// numbering as a Pool; regalloc only ever deals in opaque register IDs.
//
// Grounded on internal/engine/compiler/compiler_value_location.go's
// takeFreeRegister/takeStealTargetFromUsedRegister, generalized from a
// runtime-interleaved, two-class (general-purpose/vector) allocator into a
// standalone linear-scan pre-pass (Poletto & Sarkar 1999) over the JVM's
// two register-bearing classes (integer/address, floating-point).
package regalloc

import "jitvm/internal/classfile"

// Class is a register-allocatable class: every JVM value kind maps to
// exactly one, since this module's only two targets (amd64, arm64) hold
// an address or a 64-bit integer in one general-purpose register and a
// float or double in one floating-point register.
type Class byte

const (
	ClassInt Class = iota
	ClassFloat
)

// ClassOf reports which register class a value of kind k needs.
func ClassOf(k classfile.Kind) Class {
	switch k {
	case classfile.KindFloat, classfile.KindDouble:
		return ClassFloat
	default: // Int, Long, Address
		return ClassInt
	}
}
