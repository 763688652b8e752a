package codegen

import (
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

// emitIinc adds Imm.IincAmount to a local in place. It is the one
// FamilyLoadStore opcode whose Src and Dst name the same Slot yet still
// needs real code: every other load/store in this family either aliases
// (a plain load — skipped by emitInstr) or moves between two distinct
// Slots (a store, handled generically below by emitMove).
func (e *emitter) emitIinc(in *ir.Instruction) error {
	scratch := e.isa.ScratchInt()[0]
	reg, err := e.materialize(in.Src[0], scratch)
	if err != nil {
		return err
	}
	imm := e.isa.ScratchInt()[1]
	e.isa.LoadConstInt(int64(in.Imm.IincAmount), imm, false, e.as)
	instr, ok := e.isa.Arith(ir.OpIadd)
	if !ok {
		return errUnsupported(ir.OpIadd, e.isa.Name())
	}
	e.as.CompileRegisterToRegister(instr, imm, reg)
	return e.commit(in.Dst, reg)
}

func (e *emitter) emitLoadStore(in *ir.Instruction) error {
	switch in.Op {
	case ir.OpGetfield, ir.OpGetstatic:
		e.callHelper(helperFor(in.Op))
		return e.commit(in.Dst, e.isa.ReturnReg(regalloc.ClassOf(in.DstKind)))
	case ir.OpPutfield, ir.OpPutstatic:
		e.callHelper(helperFor(in.Op))
		return nil
	case ir.OpIaload, ir.OpLaload, ir.OpFaload, ir.OpDaload, ir.OpAaload,
		ir.OpBaload, ir.OpCaload, ir.OpSaload:
		e.callHelper(HelperArrayLoad)
		return e.commit(in.Dst, e.isa.ReturnReg(regalloc.ClassOf(in.DstKind)))
	case ir.OpIastore, ir.OpLastore, ir.OpFastore, ir.OpDastore, ir.OpAastore,
		ir.OpBastore, ir.OpCastore, ir.OpSastore:
		e.callHelper(HelperArrayStore)
		return nil
	default:
		// Plain local stores (istore/lstore/fstore/dstore/astore and their
		// _0.._3 shorthands): a straight move from the popped value's Slot
		// into the local's Slot.
		return e.emitMove(in)
	}
}

// emitMove materializes Src[0] and commits it to Dst — used by plain local
// stores, where the stack analyzer gives the local a different Slot than
// the value being stored (unlike a load, which aliases and never reaches
// codegen at all).
func (e *emitter) emitMove(in *ir.Instruction) error {
	class := regalloc.ClassOf(in.DstKind)
	scratch := e.isa.ScratchInt()[0]
	if class == regalloc.ClassFloat {
		scratch = e.isa.ScratchFloat()[0]
	}
	reg, err := e.materialize(in.Src[0], scratch)
	if err != nil {
		return err
	}
	return e.commit(in.Dst, reg)
}

func helperFor(op ir.Opcode) RuntimeHelper {
	switch op {
	case ir.OpGetfield:
		return HelperGetField
	case ir.OpPutfield:
		return HelperPutField
	case ir.OpGetstatic:
		return HelperGetStatic
	case ir.OpPutstatic:
		return HelperPutStatic
	}
	return HelperGetField
}
