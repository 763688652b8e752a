// Package codegen lowers a stack-analyzed, register-allocated Function
// (internal/ir + internal/stackanalysis + internal/regalloc) into machine
// code via an architecture's internal/asm assembler, per spec.md §4.5.
//
// The per-opcode switch lives here, target-independent; everything that
// differs between amd64 and arm64 — instruction mnemonics, register sets,
// the prologue/epilogue byte sequence, the call ABI — is factored behind
// the ISA interface, the same split wazero draws between
// internal/engine/compiler's target-agnostic compiler.go and its
// impl_<opcode>_<arch>.go siblings.
package codegen

import (
	"fmt"

	"jitvm/internal/asm"
	"jitvm/internal/classfile"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
	"jitvm/internal/stackanalysis"
)

// RuntimeHelper names a runtime routine the emitted code calls into for
// opcodes that are not worth inlining: object/array allocation, type
// checks, field and array bounds resolution, monitor slow paths. HotSpot's
// C1 and CACAO's ngen both call out to C runtime helpers for exactly this
// set of opcodes rather than inlining them, so this split is not a
// shortcut, it is how template/baseline JIT compilers are actually built.
type RuntimeHelper int

const (
	HelperNew RuntimeHelper = iota
	HelperNewArray
	HelperANewArray
	HelperMultiANewArray
	HelperCheckCast
	HelperInstanceOf
	HelperGetField
	HelperPutField
	HelperGetStatic
	HelperPutStatic
	HelperArrayLoad
	HelperArrayStore
	HelperArrayLength
	HelperMonitorEnter
	HelperMonitorExit
	HelperThrow
	HelperThrowDivideByZero
	HelperResolveInvoke
	HelperStackOverflowCheck
)

// CallKind distinguishes the four JVM call-site shapes (spec.md §4.5): each
// needs a different argument-passing/dispatch sequence even though they
// share the same native calling convention underneath.
type CallKind int

const (
	CallStatic CallKind = iota
	CallSpecial
	CallVirtual
	CallInterface
)

// PatchSite records a call instruction whose target was not yet resolved
// to a compiled entry point at emission time; internal/patch rewrites the
// absolute target address once the callee compiles.
type PatchSite struct {
	// CodeOffset is the byte offset, within the returned machine code, of
	// the start of the LoadAbsolute sequence that loads the call target:
	// amd64's 10-byte MOVQ imm64 (the immediate at +2) or arm64's 16-byte
	// MOVZ plus three MOVK.
	CodeOffset int64
	Method     *classfile.MethodRef
	Kind       CallKind
}

// Linker resolves call targets during emission. A method not yet compiled
// resolves through a stub trampoline (internal/stub) and is recorded as a
// PatchSite; runtime helpers are always resolved, since they are installed
// once at VM startup.
type Linker interface {
	ResolveMethod(ref *classfile.MethodRef, kind CallKind) (addr int64, resolved bool, stubAddr int64)
	RuntimeHelper(h RuntimeHelper) int64
}

// Artifact is the emitter's output for one method.
type Artifact struct {
	Code []byte
	// BlockOffsets[i] is the byte offset of Blocks[i]'s first instruction,
	// for internal/unwind's PC-to-source-line and exception-table mapping.
	BlockOffsets []int64
	PatchSites   []PatchSite
	FrameSize    int
}

// ISA abstracts everything codegen needs from one target architecture's
// internal/asm package. amd64 and arm64 each provide one implementation.
type ISA interface {
	Name() string
	NewAssembler() (asm.AssemblerBase, error)

	// FrameBase is the register holding the base of this method's stack
	// frame (locals + spill slots), analogous to wazero's stack-pointer
	// register convention.
	FrameBase() asm.Register
	// ScratchInt and ScratchFloat return a small fixed set of registers codegen may clobber
	// freely as temporaries when an operand must be reloaded from memory;
	// disjoint from every register regalloc.Pool hands to the allocator.
	ScratchInt() [2]asm.Register
	ScratchFloat() [2]asm.Register
	// ReturnReg is the register the calling convention returns a value of
	// the given class in.
	ReturnReg(c regalloc.Class) asm.Register

	WordSize(c regalloc.Class) int64 // bytes per spill slot

	Move(c regalloc.Class, size64 bool) asm.Instruction
	LoadFromFrame(c regalloc.Class, size64 bool) asm.Instruction
	StoreToFrame(c regalloc.Class, size64 bool) asm.Instruction
	LoadConstInt(v int64, dst asm.Register, size64 bool, as asm.AssemblerBase)
	LoadConstFloat(bits int64, dst asm.Register, size64 bool, as asm.AssemblerBase)

	// Arith returns the instruction implementing a binary or unary
	// arithmetic opcode, or ok=false if the opcode has no single-instruction
	// form on this target, in which case the emitter fails the compile with
	// an error (integer divide-by-zero checking, in particular, is handled
	// by the caller before Arith is reached).
	Arith(op ir.Opcode) (instr asm.Instruction, ok bool)
	// Mul implements imul/lmul. amd64's only integer multiply in this
	// package's instruction set is the implicit-AX single-operand MUL
	// (the two-operand IMUL encoding was never wired up), so multiply
	// cannot share Arith's generic two-explicit-register shape and gets
	// its own method, returning the register holding the (truncated,
	// matching JVM's wraparound semantics) result.
	Mul(as asm.AssemblerBase, a, b asm.Register, size64 bool) asm.Register
	// Negate implements ineg/lneg/fneg/dneg in place on reg — amd64's
	// integer ISA has no single NEG instruction in this package's
	// instruction set (arm64 uses NEG), so it is its own method rather than an
	// Arith entry, and float negation is a sign-bit flip, not a subtract.
	Negate(as asm.AssemblerBase, reg asm.Register, c regalloc.Class, size64 bool)
	// DivMod implements idiv/irem/ldiv/lrem: amd64's IDIV divides the
	// implicit EDX:EAX/RDX:RAX pair by a single r/m operand rather than
	// taking two explicit register operands the way Arith's other
	// entries do, so it gets its own ABI-aware lowering instead of being
	// squeezed into the generic two-operand shape.
	DivMod(as asm.AssemblerBase, dividend, divisor asm.Register, wantRemainder, size64 bool) asm.Register
	// Convert implements the i2l/i2f/i2d/l2i/l2f/l2d/f2i/f2l/f2d/d2i/d2l/d2f/
	// i2b/i2c/i2s numeric-conversion family, computing src's converted
	// value into dst. Narrowing a float or double to an integer type needs
	// more than the bare hardware conversion on some targets — see the
	// amd64 implementation's doc comment for why.
	Convert(as asm.AssemblerBase, op ir.Opcode, src, dst asm.Register)
	// Compare emits a two-register comparison (if_icmp*/if_acmp*) and
	// returns the conditional state the subsequent branch must test.
	Compare(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.ConditionalRegisterState
	// CompareZero emits a single-register comparison against the implicit
	// 0/null operand (ifeq/ifne/iflt/ifge/ifgt/ifle/ifnull/ifnonnull).
	CompareZero(as asm.AssemblerBase, op ir.Opcode, a asm.Register, c regalloc.Class) asm.ConditionalRegisterState
	// CompareToInt lowers lcmp/fcmpl/fcmpg/dcmpl/dcmpg, which compare two
	// values and push a -1/0/1 int rather than branching, materializing the
	// result into a scratch int register it returns.
	CompareToInt(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.Register
	BranchIf(as asm.AssemblerBase, cond asm.ConditionalRegisterState) asm.Node
	Jump(as asm.AssemblerBase) asm.Node

	Nop() asm.Instruction

	Prologue(as asm.AssemblerBase, frameSize int)
	Epilogue(as asm.AssemblerBase, frameSize int)

	// Call emits a call through reg (already loaded with the callee
	// address or a stub trampoline address).
	Call(as asm.AssemblerBase, reg asm.Register)
	// LoadAbsolute loads a 64-bit absolute address constant into reg, and
	// returns the Node carrying the embedded immediate. Its byte offset is
	// not yet meaningful when LoadAbsolute is called (assembly hasn't run),
	// so a caller that needs to record a PatchSite holds onto the Node and
	// resolves OffsetInBinary() after Emit finishes assembling.
	LoadAbsolute(as asm.AssemblerBase, addr int64, reg asm.Register) asm.Node

	// PatchAbsolute overwrites, in place, the address embedded by a prior
	// LoadAbsolute call whose Node resolved to codeOffset, replacing it
	// with addr. Used by internal/patch to rewrite an unresolved call's
	// target once the callee compiles (§4.6). Each backend assumes its own
	// LoadAbsolute took the fixed-length encoding path real code-heap/stub
	// pointers fall into in practice (documented per backend); it does not
	// re-derive the instruction length generically.
	PatchAbsolute(code []byte, codeOffset int64, addr int64)
}

// Emit lowers f into machine code for the given ISA, using res and frame to
// resolve every Slot's physical location.
func Emit(f *ir.Function, res *stackanalysis.Result, frame regalloc.Frame, isa ISA, link Linker) (*Artifact, error) {
	e := &emitter{f: f, res: res, frame: frame, isa: isa, link: link}
	var err error
	e.as, err = isa.NewAssembler()
	if err != nil {
		return nil, fmt.Errorf("codegen: new assembler: %w", err)
	}

	frameSize := e.frameSizeBytes()
	isa.Prologue(e.as, frameSize)

	e.blockNodes = make(map[int]asm.Node, len(f.Blocks))
	for _, b := range f.Blocks {
		if !b.Reachable {
			continue
		}
		// Every block opens with a marker node so a branch emitted before
		// its target block exists can still be resolved once emission
		// finishes — AssignJumpTarget only records metadata on the Node,
		// it does not require the target to already be placed.
		e.blockNodes[b.ID] = e.as.CompileStandAlone(isa.Nop())
		if err := e.emitBlock(b); err != nil {
			return nil, fmt.Errorf("codegen: block %d: %w", b.ID, err)
		}
	}

	for _, p := range e.pending {
		target, ok := e.blockNodes[p.targetBlock]
		if !ok {
			return nil, fmt.Errorf("codegen: branch to unreachable block %d", p.targetBlock)
		}
		p.node.AssignJumpTarget(target)
	}

	code, err := e.as.Assemble()
	if err != nil {
		return nil, fmt.Errorf("codegen: assemble: %w", err)
	}

	offsets := make([]int64, len(f.Blocks))
	for _, b := range f.Blocks {
		if n, ok := e.blockNodes[b.ID]; ok {
			offsets[b.ID] = int64(n.OffsetInBinary())
		}
	}

	patches := make([]PatchSite, len(e.pendingPatches))
	for i, p := range e.pendingPatches {
		patches[i] = PatchSite{CodeOffset: int64(p.node.OffsetInBinary()), Method: p.method, Kind: p.kind}
	}

	return &Artifact{Code: code, BlockOffsets: offsets, PatchSites: patches, FrameSize: frameSize}, nil
}
