package codegen

import (
	"fmt"

	"jitvm/internal/asm"
	"jitvm/internal/classfile"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
	"jitvm/internal/stackanalysis"
)

type pendingBranch struct {
	node        asm.Node
	targetBlock int
}

// pendingPatch records an unresolved call target's LoadAbsolute Node until
// Emit can resolve its final byte offset once assembly completes.
type pendingPatch struct {
	node   asm.Node
	method *classfile.MethodRef
	kind   CallKind
}

type emitter struct {
	f     *ir.Function
	res   *stackanalysis.Result
	frame regalloc.Frame
	isa   ISA
	link  Linker
	as    asm.AssemblerBase

	blockNodes     map[int]asm.Node
	pending        []pendingBranch
	pendingPatches []pendingPatch
}

// frameSizeBytes is the fixed-size region this method's frame reserves for
// spilled int and float/double values; register-resident Slots need no
// frame space.
func (e *emitter) frameSizeBytes() int {
	return e.frame.IntSpillSlots*int(e.isa.WordSize(regalloc.ClassInt)) +
		e.frame.FloatSpillSlots*int(e.isa.WordSize(regalloc.ClassFloat))
}

func (e *emitter) slotOffset(s *stackanalysis.Slot) int64 {
	word := e.isa.WordSize(regalloc.ClassOf(s.Type))
	return int64(s.RegOff) * word
}

func (e *emitter) slot(id ir.ValueID) *stackanalysis.Slot {
	if id == 0 {
		return nil
	}
	return e.res.Slots[uint32(id)]
}

// materialize ensures id's current value sits in a real register, reloading
// from the frame into scratch if the allocator spilled it, and returns the
// register now holding the value: id's own register, or scratch.
func (e *emitter) materialize(id ir.ValueID, scratch asm.Register) (asm.Register, error) {
	s := e.slot(id)
	if s == nil {
		return asm.NilRegister, fmt.Errorf("codegen: value %d has no slot", id)
	}
	if !s.InMemory {
		return asm.Register(byte(s.RegOff)), nil
	}
	class := regalloc.ClassOf(s.Type)
	e.as.CompileMemoryToRegister(e.isa.LoadFromFrame(class, s.Type.Size64()), e.isa.FrameBase(), e.slotOffset(s), scratch)
	return scratch, nil
}

// commit writes src (a real register holding the freshly computed value)
// into dst's permanent home: a register-to-register move if the allocator
// gave dst a register, or a store into its spill slot otherwise.
func (e *emitter) commit(dst ir.ValueID, src asm.Register) error {
	s := e.slot(dst)
	if s == nil {
		return fmt.Errorf("codegen: destination %d has no slot", dst)
	}
	class := regalloc.ClassOf(s.Type)
	if s.InMemory {
		e.as.CompileRegisterToMemory(e.isa.StoreToFrame(class, s.Type.Size64()), src, e.isa.FrameBase(), e.slotOffset(s))
		return nil
	}
	dstReg := asm.Register(byte(s.RegOff))
	if dstReg != src {
		e.as.CompileRegisterToRegister(e.isa.Move(class, s.Type.Size64()), src, dstReg)
	}
	return nil
}

func (e *emitter) emitBlock(b *ir.BasicBlock) error {
	for _, in := range b.Instructions {
		if err := e.emitInstr(in); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) emitInstr(in *ir.Instruction) error {
	if in.Op == ir.OpIinc {
		return e.emitIinc(in)
	}

	// Local loads never allocate a fresh home for their result — the
	// stack analyzer aliases Dst to the local's existing Slot (spec.md
	// §4.3) — so there is nothing to move. Stack-shuffle opcodes
	// (dup/swap/pop) record no Dst and reach emitOther. iinc is excluded
	// above: it shares Src[0] == Dst too, but unlike a plain load it
	// genuinely recomputes the value in place.
	if in.Dst != 0 && (in.AliasOf == in.Dst || in.Src[0] == ir.ValueID(in.Dst)) {
		return nil
	}

	switch in.Family() {
	case ir.FamilyLoadConstant:
		return e.emitLoadConstant(in)
	case ir.FamilyArithBinary:
		return e.emitArithBinary(in)
	case ir.FamilyArithUnary:
		return e.emitArithUnary(in)
	case ir.FamilyCompareBranch:
		return e.emitCompareBranch(in)
	case ir.FamilyLoadStore:
		return e.emitLoadStore(in)
	case ir.FamilyMethodCall:
		return e.emitCall(in)
	case ir.FamilyReturn:
		return e.emitReturn(in)
	case ir.FamilyTypeCheck:
		return e.emitTypeCheck(in)
	case ir.FamilySwitch:
		return e.emitSwitch(in)
	case ir.FamilyConvert:
		return e.emitConvert(in)
	default:
		return e.emitOther(in)
	}
}

// callHelper loads helper's address into scratch and calls through it; used
// by every opcode whose semantics this emitter does not inline.
func (e *emitter) callHelper(h RuntimeHelper) {
	scratch := e.isa.ScratchInt()[0]
	addr := e.link.RuntimeHelper(h)
	e.isa.LoadAbsolute(e.as, addr, scratch)
	e.isa.Call(e.as, scratch)
}
