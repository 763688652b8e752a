package stackanalysis

import (
	"fmt"

	"jitvm/internal/classfile"
	"jitvm/internal/ir"
)

// simulateInstr applies one instruction's stack effect, filling in its
// Src/Dst/DstKind/AliasOf fields. The switch is organized by opcode rather
// than by ir.Family because opcodes within a family still differ in the
// concrete types they push and pop (e.g. iadd vs ladd vs lcmp).
func (a *analyzer) simulateInstr(in *ir.Instruction, stack *[]*Slot) error {
	op := in.Op
	switch op {
	case ir.OpNop:
		return nil

	case ir.OpAconstNull:
		a.push(stack, in, classfile.KindAddress)
	case ir.OpIconstM1, ir.OpIconst0, ir.OpIconst1, ir.OpIconst2, ir.OpIconst3, ir.OpIconst4, ir.OpIconst5,
		ir.OpBipush, ir.OpSipush:
		a.push(stack, in, classfile.KindInt)
	case ir.OpLconst0, ir.OpLconst1:
		a.push(stack, in, classfile.KindLong)
	case ir.OpFconst0, ir.OpFconst1, ir.OpFconst2:
		a.push(stack, in, classfile.KindFloat)
	case ir.OpDconst0, ir.OpDconst1:
		a.push(stack, in, classfile.KindDouble)
	case ir.OpLdc, ir.OpLdcW, ir.OpLdc2W:
		a.push(stack, in, ldcKind(in.Imm))

	case ir.OpIload, ir.OpIload0, ir.OpIload1, ir.OpIload2, ir.OpIload3:
		a.pushLocal(stack, in, localIdx(op, in, ir.OpIload0, ir.OpIstore0), classfile.KindInt)
	case ir.OpLload, ir.OpLload0, ir.OpLload1, ir.OpLload2, ir.OpLload3:
		a.pushLocal(stack, in, localIdx(op, in, ir.OpLload0, ir.OpLstore0), classfile.KindLong)
	case ir.OpFload, ir.OpFload0, ir.OpFload1, ir.OpFload2, ir.OpFload3:
		a.pushLocal(stack, in, localIdx(op, in, ir.OpFload0, ir.OpFstore0), classfile.KindFloat)
	case ir.OpDload, ir.OpDload0, ir.OpDload1, ir.OpDload2, ir.OpDload3:
		a.pushLocal(stack, in, localIdx(op, in, ir.OpDload0, ir.OpDstore0), classfile.KindDouble)
	case ir.OpAload, ir.OpAload0, ir.OpAload1, ir.OpAload2, ir.OpAload3:
		a.pushLocal(stack, in, localIdx(op, in, ir.OpAload0, ir.OpAstore0), classfile.KindAddress)

	case ir.OpIstore, ir.OpIstore0, ir.OpIstore1, ir.OpIstore2, ir.OpIstore3:
		return a.storeLocal(stack, in, localIdx(op, in, ir.OpIload0, ir.OpIstore0), classfile.KindInt)
	case ir.OpLstore, ir.OpLstore0, ir.OpLstore1, ir.OpLstore2, ir.OpLstore3:
		return a.storeLocal(stack, in, localIdx(op, in, ir.OpLload0, ir.OpLstore0), classfile.KindLong)
	case ir.OpFstore, ir.OpFstore0, ir.OpFstore1, ir.OpFstore2, ir.OpFstore3:
		return a.storeLocal(stack, in, localIdx(op, in, ir.OpFload0, ir.OpFstore0), classfile.KindFloat)
	case ir.OpDstore, ir.OpDstore0, ir.OpDstore1, ir.OpDstore2, ir.OpDstore3:
		return a.storeLocal(stack, in, localIdx(op, in, ir.OpDload0, ir.OpDstore0), classfile.KindDouble)
	case ir.OpAstore, ir.OpAstore0, ir.OpAstore1, ir.OpAstore2, ir.OpAstore3:
		return a.storeLocal(stack, in, localIdx(op, in, ir.OpAload0, ir.OpAstore0), classfile.KindAddress)

	case ir.OpRet:
		// no stack effect; operates purely on the local holding the
		// subroutine return address.
		return nil

	case ir.OpIinc:
		s := a.localSlotFor(in.Imm.LocalIndex, classfile.KindInt)
		in.Src[0] = ir.ValueID(s.ID)
		in.Dst = ir.ValueID(s.ID)
		in.DstKind = classfile.KindInt

	case ir.OpIaload:
		return a.arrayLoad(stack, in, classfile.KindInt)
	case ir.OpLaload:
		return a.arrayLoad(stack, in, classfile.KindLong)
	case ir.OpFaload:
		return a.arrayLoad(stack, in, classfile.KindFloat)
	case ir.OpDaload:
		return a.arrayLoad(stack, in, classfile.KindDouble)
	case ir.OpAaload:
		return a.arrayLoad(stack, in, classfile.KindAddress)
	case ir.OpBaload, ir.OpCaload, ir.OpSaload:
		return a.arrayLoad(stack, in, classfile.KindInt)

	case ir.OpIastore, ir.OpBastore, ir.OpCastore, ir.OpSastore:
		return a.arrayStore(stack, in, classfile.KindInt)
	case ir.OpLastore:
		return a.arrayStore(stack, in, classfile.KindLong)
	case ir.OpFastore:
		return a.arrayStore(stack, in, classfile.KindFloat)
	case ir.OpDastore:
		return a.arrayStore(stack, in, classfile.KindDouble)
	case ir.OpAastore:
		return a.arrayStore(stack, in, classfile.KindAddress)

	case ir.OpPop:
		_, err := a.pop(stack)
		return err
	case ir.OpPop2:
		return a.popCategory2Slots(stack)
	case ir.OpDup:
		return a.dup(stack)
	case ir.OpDupX1:
		return a.dupX1(stack)
	case ir.OpDupX2:
		return a.dupX2(stack)
	case ir.OpDup2:
		return a.dup2(stack)
	case ir.OpDup2X1:
		return a.dup2X1(stack)
	case ir.OpDup2X2:
		return a.dup2X2(stack)
	case ir.OpSwap:
		return a.swap(stack)

	case ir.OpIadd, ir.OpIsub, ir.OpImul, ir.OpIdiv, ir.OpIrem,
		ir.OpIand, ir.OpIor, ir.OpIxor:
		return a.binary(stack, in, classfile.KindInt, classfile.KindInt)
	case ir.OpLadd, ir.OpLsub, ir.OpLmul, ir.OpLdiv, ir.OpLrem,
		ir.OpLand, ir.OpLor, ir.OpLxor:
		return a.binary(stack, in, classfile.KindLong, classfile.KindLong)
	case ir.OpFadd, ir.OpFsub, ir.OpFmul, ir.OpFdiv, ir.OpFrem:
		return a.binary(stack, in, classfile.KindFloat, classfile.KindFloat)
	case ir.OpDadd, ir.OpDsub, ir.OpDmul, ir.OpDdiv, ir.OpDrem:
		return a.binary(stack, in, classfile.KindDouble, classfile.KindDouble)
	case ir.OpIshl, ir.OpIshr, ir.OpIushr:
		return a.shift(stack, in, classfile.KindInt)
	case ir.OpLshl, ir.OpLshr, ir.OpLushr:
		return a.shift(stack, in, classfile.KindLong)

	case ir.OpIneg:
		return a.unary(stack, in, classfile.KindInt)
	case ir.OpLneg:
		return a.unary(stack, in, classfile.KindLong)
	case ir.OpFneg:
		return a.unary(stack, in, classfile.KindFloat)
	case ir.OpDneg:
		return a.unary(stack, in, classfile.KindDouble)

	case ir.OpLcmp:
		return a.binary(stack, in, classfile.KindLong, classfile.KindInt)
	case ir.OpFcmpl, ir.OpFcmpg:
		return a.binary(stack, in, classfile.KindFloat, classfile.KindInt)
	case ir.OpDcmpl, ir.OpDcmpg:
		return a.binary(stack, in, classfile.KindDouble, classfile.KindInt)

	case ir.OpI2l:
		return a.convert(stack, in, classfile.KindInt, classfile.KindLong)
	case ir.OpI2f:
		return a.convert(stack, in, classfile.KindInt, classfile.KindFloat)
	case ir.OpI2d:
		return a.convert(stack, in, classfile.KindInt, classfile.KindDouble)
	case ir.OpL2i:
		return a.convert(stack, in, classfile.KindLong, classfile.KindInt)
	case ir.OpL2f:
		return a.convert(stack, in, classfile.KindLong, classfile.KindFloat)
	case ir.OpL2d:
		return a.convert(stack, in, classfile.KindLong, classfile.KindDouble)
	case ir.OpF2i:
		return a.convert(stack, in, classfile.KindFloat, classfile.KindInt)
	case ir.OpF2l:
		return a.convert(stack, in, classfile.KindFloat, classfile.KindLong)
	case ir.OpF2d:
		return a.convert(stack, in, classfile.KindFloat, classfile.KindDouble)
	case ir.OpD2i:
		return a.convert(stack, in, classfile.KindDouble, classfile.KindInt)
	case ir.OpD2l:
		return a.convert(stack, in, classfile.KindDouble, classfile.KindLong)
	case ir.OpD2f:
		return a.convert(stack, in, classfile.KindDouble, classfile.KindFloat)
	case ir.OpI2b, ir.OpI2c, ir.OpI2s:
		return a.convert(stack, in, classfile.KindInt, classfile.KindInt)

	case ir.OpIfeq, ir.OpIfne, ir.OpIflt, ir.OpIfge, ir.OpIfgt, ir.OpIfle:
		_, err := a.popInto(stack, &in.Src[0])
		return err
	case ir.OpIfIcmpeq, ir.OpIfIcmpne, ir.OpIfIcmplt, ir.OpIfIcmpge, ir.OpIfIcmpgt, ir.OpIfIcmple:
		return a.compareBranch(stack, in, classfile.KindInt)
	case ir.OpIfAcmpeq, ir.OpIfAcmpne:
		return a.compareBranch(stack, in, classfile.KindAddress)
	case ir.OpIfnull, ir.OpIfnonnull:
		_, err := a.popInto(stack, &in.Src[0])
		return err
	case ir.OpGoto, ir.OpGotoW:
		return nil
	case ir.OpJsr, ir.OpJsrW:
		a.push(stack, in, classfile.KindAddress)

	case ir.OpTableswitch, ir.OpLookupswitch:
		_, err := a.popInto(stack, &in.Src[0])
		return err

	case ir.OpGetstatic:
		a.push(stack, in, in.Imm.Field.Kind)
	case ir.OpPutstatic:
		_, err := a.popInto(stack, &in.Src[0])
		return err
	case ir.OpGetfield:
		objref, err := a.popInto(stack, &in.Src[0])
		if err != nil {
			return err
		}
		_ = objref
		a.push(stack, in, in.Imm.Field.Kind)
	case ir.OpPutfield:
		val, err := a.pop(stack)
		if err != nil {
			return err
		}
		objref, err := a.pop(stack)
		if err != nil {
			return err
		}
		in.Src[0] = ir.ValueID(objref.ID)
		in.Src[1] = ir.ValueID(val.ID)

	case ir.OpInvokevirtual, ir.OpInvokespecial, ir.OpInvokeinterface:
		return a.invoke(stack, in, true)
	case ir.OpInvokestatic:
		return a.invoke(stack, in, false)

	case ir.OpNew:
		a.push(stack, in, classfile.KindAddress)
	case ir.OpCheckcast, ir.OpInstanceof:
		ref, err := a.popInto(stack, &in.Src[0])
		if err != nil {
			return err
		}
		_ = ref
		if op == ir.OpCheckcast {
			a.push(stack, in, classfile.KindAddress)
		} else {
			a.push(stack, in, classfile.KindInt)
		}
	case ir.OpNewarray, ir.OpAnewarray:
		_, err := a.popInto(stack, &in.Src[0])
		if err != nil {
			return err
		}
		a.push(stack, in, classfile.KindAddress)
	case ir.OpMultianewarray:
		for i := 0; i < in.Imm.Dims && i < len(in.Src); i++ {
			if _, err := a.pop(stack); err != nil {
				return err
			}
		}
		for i := in.Imm.Dims - len(in.Src); i > 0; i-- {
			if _, err := a.pop(stack); err != nil {
				return err
			}
		}
		a.push(stack, in, classfile.KindAddress)

	case ir.OpArraylength:
		_, err := a.popInto(stack, &in.Src[0])
		if err != nil {
			return err
		}
		a.push(stack, in, classfile.KindInt)
	case ir.OpAthrow:
		_, err := a.popInto(stack, &in.Src[0])
		return err
	case ir.OpMonitorenter, ir.OpMonitorexit:
		_, err := a.popInto(stack, &in.Src[0])
		return err

	case ir.OpIreturn, ir.OpLreturn, ir.OpFreturn, ir.OpDreturn, ir.OpAreturn:
		_, err := a.popInto(stack, &in.Src[0])
		return err
	case ir.OpReturn:
		return nil

	default:
		return fmt.Errorf("stackanalysis: unhandled opcode 0x%02x", byte(op))
	}
	return nil
}

func ldcKind(imm ir.Immediate) classfile.Kind {
	switch imm.Kind {
	case ir.ImmI32:
		return classfile.KindInt
	case ir.ImmI64:
		return classfile.KindLong
	case ir.ImmF32:
		return classfile.KindFloat
	case ir.ImmF64:
		return classfile.KindDouble
	default:
		return classfile.KindAddress
	}
}

// localIdx resolves the local-variable index for the *_0.._3 shorthand
// opcode families, whose index is implicit in the opcode byte itself
// rather than carried in Imm. The general Op/wide form always carries
// Imm.LocalIndex explicitly, set by the parser; the shorthand forms fall
// within [loadBase, loadBase+3] or [storeBase, storeBase+3].
func localIdx(op ir.Opcode, in *ir.Instruction, loadBase, storeBase ir.Opcode) int {
	if in.Imm.Kind == ir.ImmLocalIndex {
		return in.Imm.LocalIndex
	}
	if op >= storeBase && op <= storeBase+3 {
		return int(op - storeBase)
	}
	return int(op - loadBase)
}

func (a *analyzer) pushLocal(stack *[]*Slot, in *ir.Instruction, idx int, kind classfile.Kind) {
	s := a.localSlotFor(idx, kind)
	in.Src[0] = ir.ValueID(s.ID)
	// The pushed value aliases the local's slot directly: reading a local
	// does not fork a fresh physical location, it reuses the local's own
	// home until the register allocator decides otherwise.
	in.AliasOf = ir.ValueID(s.ID)
	in.Dst = ir.ValueID(s.ID)
	in.DstKind = kind
	*stack = append(*stack, s)
}

func (a *analyzer) storeLocal(stack *[]*Slot, in *ir.Instruction, idx int, kind classfile.Kind) error {
	v, err := a.pop(stack)
	if err != nil {
		return err
	}
	s := a.localSlotFor(idx, kind)
	in.Src[0] = ir.ValueID(v.ID)
	in.Dst = ir.ValueID(s.ID)
	in.DstKind = kind
	return nil
}

func (a *analyzer) arrayLoad(stack *[]*Slot, in *ir.Instruction, elemKind classfile.Kind) error {
	idx, err := a.pop(stack)
	if err != nil {
		return err
	}
	ref, err := a.pop(stack)
	if err != nil {
		return err
	}
	in.Src[0] = ir.ValueID(ref.ID)
	in.Src[1] = ir.ValueID(idx.ID)
	a.push(stack, in, elemKind)
	return nil
}

func (a *analyzer) arrayStore(stack *[]*Slot, in *ir.Instruction, elemKind classfile.Kind) error {
	val, err := a.pop(stack)
	if err != nil {
		return err
	}
	idx, err := a.pop(stack)
	if err != nil {
		return err
	}
	ref, err := a.pop(stack)
	if err != nil {
		return err
	}
	in.Src[0] = ir.ValueID(ref.ID)
	in.Src[1] = ir.ValueID(idx.ID)
	in.Src[2] = ir.ValueID(val.ID)
	return nil
}

func (a *analyzer) binary(stack *[]*Slot, in *ir.Instruction, operandKind, resultKind classfile.Kind) error {
	b, err := a.pop(stack)
	if err != nil {
		return err
	}
	x, err := a.pop(stack)
	if err != nil {
		return err
	}
	in.Src[0] = ir.ValueID(x.ID)
	in.Src[1] = ir.ValueID(b.ID)
	a.push(stack, in, resultKind)
	_ = operandKind
	return nil
}

// shift pops the int shift amount (top) then the value being shifted,
// which may be int or long; only the value's type determines the result.
func (a *analyzer) shift(stack *[]*Slot, in *ir.Instruction, valueKind classfile.Kind) error {
	amount, err := a.pop(stack)
	if err != nil {
		return err
	}
	value, err := a.pop(stack)
	if err != nil {
		return err
	}
	in.Src[0] = ir.ValueID(value.ID)
	in.Src[1] = ir.ValueID(amount.ID)
	a.push(stack, in, valueKind)
	return nil
}

func (a *analyzer) unary(stack *[]*Slot, in *ir.Instruction, kind classfile.Kind) error {
	v, err := a.popInto(stack, &in.Src[0])
	if err != nil {
		return err
	}
	_ = v
	a.push(stack, in, kind)
	return nil
}

func (a *analyzer) convert(stack *[]*Slot, in *ir.Instruction, from, to classfile.Kind) error {
	_, err := a.popInto(stack, &in.Src[0])
	if err != nil {
		return err
	}
	a.push(stack, in, to)
	_ = from
	return nil
}

func (a *analyzer) compareBranch(stack *[]*Slot, in *ir.Instruction, kind classfile.Kind) error {
	b, err := a.pop(stack)
	if err != nil {
		return err
	}
	x, err := a.pop(stack)
	if err != nil {
		return err
	}
	in.Src[0] = ir.ValueID(x.ID)
	in.Src[1] = ir.ValueID(b.ID)
	_ = kind
	return nil
}

func (a *analyzer) invoke(stack *[]*Slot, in *ir.Instruction, hasReceiver bool) error {
	desc := in.Imm.Method.Descriptor
	n := len(desc.ParamKinds)
	if hasReceiver {
		n++
	}
	popped := make([]*Slot, n)
	for i := n - 1; i >= 0; i-- {
		s, err := a.pop(stack)
		if err != nil {
			return err
		}
		popped[i] = s
	}
	for i, s := range popped {
		if i < len(in.Src) {
			in.Src[i] = ir.ValueID(s.ID)
		}
	}
	if desc.ReturnKind != classfile.KindVoid {
		a.push(stack, in, desc.ReturnKind)
	}
	return nil
}
