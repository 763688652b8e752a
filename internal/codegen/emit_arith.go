package codegen

import (
	"fmt"

	"jitvm/internal/asm"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

func (e *emitter) emitLoadConstant(in *ir.Instruction) error {
	class := regalloc.ClassOf(in.DstKind)
	dst := e.homeOrScratch(in.Dst, class)
	switch in.Imm.Kind {
	case ir.ImmI32:
		e.isa.LoadConstInt(int64(in.Imm.I32), dst, false, e.as)
	case ir.ImmI64:
		e.isa.LoadConstInt(in.Imm.I64, dst, true, e.as)
	case ir.ImmF32:
		e.isa.LoadConstFloat(int64(int32bits(in.Imm.F32)), dst, false, e.as)
	case ir.ImmF64:
		e.isa.LoadConstFloat(int64bits(in.Imm.F64), dst, true, e.as)
	default:
		// aconst_null and resolved-reference ldc constants (class, string,
		// method handle/type) are all address-sized; null is zero, and a
		// resolved reference constant is already a live pointer the class
		// loader interned, loaded the same way as any other 64-bit
		// immediate.
		e.isa.LoadConstInt(in.Imm.I64, dst, true, e.as)
	}
	return e.storeIfScratch(in.Dst, class, dst)
}

// homeOrScratch returns the register to compute directly into: dst's own
// register if the allocator gave it one, otherwise a scratch register that
// storeIfScratch spills down to dst's frame slot afterward.
func (e *emitter) homeOrScratch(id ir.ValueID, c regalloc.Class) asm.Register {
	s := e.slot(id)
	if s != nil && !s.InMemory {
		return asm.Register(byte(s.RegOff))
	}
	if c == regalloc.ClassInt {
		return e.isa.ScratchInt()[0]
	}
	return e.isa.ScratchFloat()[0]
}

func (e *emitter) storeIfScratch(id ir.ValueID, c regalloc.Class, used asm.Register) error {
	s := e.slot(id)
	if s == nil {
		return fmt.Errorf("codegen: value %d has no slot", id)
	}
	if !s.InMemory {
		return nil
	}
	e.as.CompileRegisterToMemory(e.isa.StoreToFrame(c, s.Type.Size64()), used, e.isa.FrameBase(), e.slotOffset(s))
	return nil
}

func (e *emitter) emitArithBinary(in *ir.Instruction) error {
	class := regalloc.ClassOf(in.DstKind)
	scratch := e.isa.ScratchInt()
	if class == regalloc.ClassFloat {
		scratch = e.isa.ScratchFloat()
	}

	a, err := e.materialize(in.Src[0], scratch[0])
	if err != nil {
		return err
	}
	b, err := e.materialize(in.Src[1], scratch[1])
	if err != nil {
		return err
	}

	if isDivOrRem(in.Op) {
		// idiv/irem/ldiv/lrem must throw ArithmeticException on a zero
		// divisor; unlike amd64's #DE fault, arm64's SDIV silently yields
		// 0, so the check is always explicit rather than relying on a
		// hardware trap the unwinder would have to special-case per arch.
		cond := e.isa.CompareZero(e.as, ir.OpIfne, b, class)
		skip := e.isa.BranchIf(e.as, cond)
		e.callHelper(HelperThrowDivideByZero)
		target := e.as.CompileStandAlone(e.isa.Nop())
		skip.AssignJumpTarget(target)
	}

	if isTriStateCompare(in.Op) {
		result := e.isa.CompareToInt(e.as, in.Op, a, b, class)
		return e.commit(in.Dst, result)
	}

	if isDivOrRem(in.Op) {
		wantRem := in.Op == ir.OpIrem || in.Op == ir.OpLrem
		result := e.isa.DivMod(e.as, a, b, wantRem, in.DstKind.Size64())
		return e.commit(in.Dst, result)
	}

	if isMul(in.Op) {
		result := e.isa.Mul(e.as, a, b, in.DstKind.Size64())
		return e.commit(in.Dst, result)
	}

	instr, ok := e.isa.Arith(in.Op)
	if !ok {
		return fmt.Errorf("codegen: no lowering for binary opcode %v on %s", in.Op, e.isa.Name())
	}

	// Every binary-arithmetic ISA form computes dst = a OP b into a's
	// register; the caller then moves/spills from a per commit's usual
	// contract.
	e.as.CompileRegisterToRegister(instr, b, a)
	return e.commit(in.Dst, a)
}

func (e *emitter) emitArithUnary(in *ir.Instruction) error {
	class := regalloc.ClassOf(in.DstKind)
	scratch := e.isa.ScratchInt()[0]
	if class == regalloc.ClassFloat {
		scratch = e.isa.ScratchFloat()[0]
	}
	a, err := e.materialize(in.Src[0], scratch)
	if err != nil {
		return err
	}
	e.isa.Negate(e.as, a, class, in.DstKind.Size64())
	return e.commit(in.Dst, a)
}
