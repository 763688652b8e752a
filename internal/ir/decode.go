package ir

import (
	"fmt"

	"jitvm/internal/classfile"
)

// decoder linearly scans bytecode bytes into IR instructions. It has no
// knowledge of basic blocks; that partitioning happens in parser.go once
// every instruction (and therefore every branch target and transfer point)
// is known.
type decoder struct {
	code []byte
	pool *classfile.ConstantPool
	pc   int
}

func (d *decoder) u8() byte {
	v := d.code[d.pc]
	d.pc++
	return v
}

func (d *decoder) i8() int8 { return int8(d.u8()) }

func (d *decoder) u16() uint16 {
	v := uint16(d.code[d.pc])<<8 | uint16(d.code[d.pc+1])
	d.pc += 2
	return v
}

func (d *decoder) i16() int16 { return int16(d.u16()) }

func (d *decoder) u32() uint32 {
	v := uint32(d.code[d.pc])<<24 | uint32(d.code[d.pc+1])<<16 | uint32(d.code[d.pc+2])<<8 | uint32(d.code[d.pc+3])
	d.pc += 4
	return v
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

// decodeOne decodes a single instruction starting at d.pc, advancing d.pc
// past it (including any `wide`-prefixed widened operand).
func (d *decoder) decodeOne() (*Instruction, error) {
	opPC := d.pc
	op := Opcode(d.u8())
	in := &Instruction{Op: op}

	switch op {
	case OpNop, OpAconstNull,
		OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5,
		OpLconst0, OpLconst1, OpFconst0, OpFconst1, OpFconst2, OpDconst0, OpDconst1,
		OpIload0, OpIload1, OpIload2, OpIload3,
		OpLload0, OpLload1, OpLload2, OpLload3,
		OpFload0, OpFload1, OpFload2, OpFload3,
		OpDload0, OpDload1, OpDload2, OpDload3,
		OpAload0, OpAload1, OpAload2, OpAload3,
		OpIstore0, OpIstore1, OpIstore2, OpIstore3,
		OpLstore0, OpLstore1, OpLstore2, OpLstore3,
		OpFstore0, OpFstore1, OpFstore2, OpFstore3,
		OpDstore0, OpDstore1, OpDstore2, OpDstore3,
		OpAstore0, OpAstore1, OpAstore2, OpAstore3,
		OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload,
		OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore,
		OpPop, OpPop2, OpDup, OpDupX1, OpDupX2, OpDup2, OpDup2X1, OpDup2X2, OpSwap,
		OpIadd, OpLadd, OpFadd, OpDadd, OpIsub, OpLsub, OpFsub, OpDsub,
		OpImul, OpLmul, OpFmul, OpDmul, OpIdiv, OpLdiv, OpFdiv, OpDdiv,
		OpIrem, OpLrem, OpFrem, OpDrem, OpIneg, OpLneg, OpFneg, OpDneg,
		OpIshl, OpLshl, OpIshr, OpLshr, OpIushr, OpLushr,
		OpIand, OpLand, OpIor, OpLor, OpIxor, OpLxor,
		OpI2l, OpI2f, OpI2d, OpL2i, OpL2f, OpL2d, OpF2i, OpF2l, OpF2d, OpD2i, OpD2l, OpD2f,
		OpI2b, OpI2c, OpI2s,
		OpLcmp, OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg,
		OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn, OpReturn,
		OpArraylength, OpAthrow, OpMonitorenter, OpMonitorexit:
		// no operands

	case OpBipush:
		in.Imm = Immediate{Kind: ImmI32, I32: int32(d.i8())}
	case OpSipush:
		in.Imm = Immediate{Kind: ImmI32, I32: int32(d.i16())}

	case OpLdc:
		in.Imm = constantImmediate(d.pool, int(d.u8()))
	case OpLdcW, OpLdc2W:
		in.Imm = constantImmediate(d.pool, int(d.u16()))

	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
		in.Imm = Immediate{Kind: ImmLocalIndex, LocalIndex: int(d.u8())}

	case OpIinc:
		idx := int(d.u8())
		amt := int32(d.i8())
		in.Imm = Immediate{Kind: ImmLocalIndex, LocalIndex: idx, IincAmount: amt}

	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle,
		OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple,
		OpIfAcmpeq, OpIfAcmpne, OpGoto, OpJsr, OpIfnull, OpIfnonnull:
		off := int(d.i16())
		in.branchTargetPCs = []int{opPC + off}
		in.Imm = Immediate{Kind: ImmBranch}

	case OpGotoW, OpJsrW:
		off := int(d.i32())
		in.branchTargetPCs = []int{opPC + off}
		in.Imm = Immediate{Kind: ImmBranch}

	case OpTableswitch:
		d.alignTo4()
		def := int(d.i32())
		low := d.i32()
		high := d.i32()
		n := int(high-low) + 1
		if n < 0 {
			return nil, fmt.Errorf("tableswitch: bad bounds low=%d high=%d", low, high)
		}
		targets := make([]int, 0, n+1)
		targets = append(targets, opPC+def)
		for i := 0; i < n; i++ {
			targets = append(targets, opPC+int(d.i32()))
		}
		in.branchTargetPCs = targets
		in.Imm = Immediate{Kind: ImmTableSwitch, TableLow: low}

	case OpLookupswitch:
		d.alignTo4()
		def := int(d.i32())
		npairs := int(d.i32())
		targets := make([]int, 0, npairs+1)
		keys := make([]int32, 0, npairs)
		targets = append(targets, opPC+def)
		for i := 0; i < npairs; i++ {
			key := d.i32()
			off := int(d.i32())
			keys = append(keys, key)
			targets = append(targets, opPC+off)
		}
		in.branchTargetPCs = targets
		in.Imm = Immediate{Kind: ImmLookupSwitch, LookupKeys: keys}

	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		idx := int(d.u16())
		e := d.pool.At(idx)
		in.Imm = Immediate{Kind: ImmField, Field: e.Field}

	case OpInvokevirtual, OpInvokespecial, OpInvokestatic:
		idx := int(d.u16())
		e := d.pool.At(idx)
		in.Imm = Immediate{Kind: ImmMethod, Method: e.Method}

	case OpInvokeinterface:
		idx := int(d.u16())
		e := d.pool.At(idx)
		d.u8() // count, redundant with the resolved descriptor's slot count
		d.u8() // reserved, always 0
		in.Imm = Immediate{Kind: ImmMethod, Method: e.Method}

	case OpNew, OpCheckcast, OpInstanceof, OpAnewarray:
		idx := int(d.u16())
		e := d.pool.At(idx)
		in.Imm = Immediate{Kind: ImmClass, Class: e.Class}

	case OpNewarray:
		in.Imm = Immediate{Kind: ImmNewArray, ArrayElem: ArrayElemType(d.u8())}

	case OpMultianewarray:
		idx := int(d.u16())
		e := d.pool.At(idx)
		dims := int(d.u8())
		in.Imm = Immediate{Kind: ImmMultiANewArray, Class: e.Class, Dims: dims}

	case OpWide:
		return d.decodeWide()

	default:
		return nil, fmt.Errorf("unknown opcode 0x%02x", byte(op))
	}

	return in, nil
}

// alignTo4 consumes the zero-to-three padding bytes so that the next read
// lands on a 4-byte boundary measured from the start of the method's
// bytecode, as required by tableswitch/lookupswitch.
func (d *decoder) alignTo4() {
	for d.pc%4 != 0 {
		d.pc++
	}
}

func (d *decoder) decodeWide() (*Instruction, error) {
	sub := Opcode(d.u8())
	switch sub {
	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore, OpRet:
		idx := int(d.u16())
		return &Instruction{Op: sub, Imm: Immediate{Kind: ImmLocalIndex, LocalIndex: idx}}, nil
	case OpIinc:
		idx := int(d.u16())
		amt := int32(d.i16())
		return &Instruction{Op: sub, Imm: Immediate{Kind: ImmLocalIndex, LocalIndex: idx, IincAmount: amt}}, nil
	default:
		return nil, fmt.Errorf("wide: unsupported sub-opcode 0x%02x", byte(sub))
	}
}

// constantImmediate decodes a constant-pool entry referenced by ldc/
// ldc_w/ldc2_w into an Immediate. String and Class constants both resolve
// to an address-kind ImmClass push with a non-nil Imm.Class; a String
// constant carries its text in Class.Name, so the two are not
// distinguishable from the Immediate alone.
func constantImmediate(pool *classfile.ConstantPool, index int) Immediate {
	e := pool.At(index)
	switch e.Kind {
	case classfile.ConstInt:
		return Immediate{Kind: ImmI32, I32: e.IntVal}
	case classfile.ConstLong:
		return Immediate{Kind: ImmI64, I64: e.LongVal}
	case classfile.ConstFloat:
		return Immediate{Kind: ImmF32, F32: e.FloatVal}
	case classfile.ConstDouble:
		return Immediate{Kind: ImmF64, F64: e.DoubleVal}
	case classfile.ConstClass:
		return Immediate{Kind: ImmClass, Class: e.Class}
	default: // ConstString
		return Immediate{Kind: ImmClass, Class: &classfile.ClassRef{Name: e.StrVal}}
	}
}
