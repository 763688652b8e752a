package ir

import "jitvm/internal/classfile"

// ValueID names a value flowing on the abstract operand stack or in a
// local variable slot. It is assigned once by the stack analyzer (§4.3) the
// first time a value is produced; an instruction's Src fields reference the
// ValueIDs it consumes and its Dst field names the ValueID it produces, if
// any. A ValueID of zero means "unused".
type ValueID uint32

// ImmKind tags the variant stored in an Immediate.
type ImmKind byte

const (
	ImmNone ImmKind = iota
	ImmI32
	ImmI64
	ImmF32
	ImmF64
	ImmClass
	ImmField
	ImmMethod
	ImmLocalIndex
	ImmBranch
	ImmTableSwitch
	ImmLookupSwitch
	ImmNewArray
	ImmMultiANewArray
)

// ArrayElemType is the newarray primitive-type operand (JVM "atype" byte).
type ArrayElemType byte

const (
	ArrayBoolean ArrayElemType = 4 + iota
	ArrayChar
	ArrayFloat
	ArrayDouble
	ArrayByte
	ArrayShort
	ArrayInt
	ArrayLong
)

// Immediate is the opcode-specific constant or reference payload carried by
// an Instruction, as described by spec.md §3's `instruction (IR)` record.
type Immediate struct {
	Kind ImmKind

	I32 int32
	I64 int64
	F32 float32
	F64 float64

	Class  *classfile.ClassRef
	Field  *classfile.FieldRef
	Method *classfile.MethodRef

	// LocalIndex names a local-variable-array slot for load/store/iinc/ret.
	LocalIndex int
	// IincAmount is the constant added to the local for the iinc opcode.
	IincAmount int32

	// Targets holds branch-target blocks. Conditional branches and `goto`
	// use Targets[0]; `jsr` uses Targets[0] as the subroutine entry; a
	// `tableswitch`/`lookupswitch` uses Targets[0] as the default and the
	// remainder as the ordered case targets.
	Targets []*BasicBlock
	// TableLow is the `tableswitch` low bound; case i branches to
	// Targets[1+i] for key TableLow+i.
	TableLow int32
	// LookupKeys holds the sorted match keys for `lookupswitch`, aligned
	// 1:1 with Targets[1:].
	LookupKeys []int32

	ArrayElem ArrayElemType
	// Dims is the operand count for multianewarray.
	Dims int
}

// Instruction is the closed-variant IR op described by spec.md §3 and §9:
// an opcode, up to three stack operand references, a destination
// reference, and an opcode-specific immediate. Existence is scoped to a
// single compile: the whole array lives in the per-method arena and is
// discarded once the emitter finishes.
type Instruction struct {
	Op    Opcode
	PC    int // offset of the opcode byte in the original bytecode
	Len   int // encoded length including operands
	Block *BasicBlock

	Imm Immediate

	// Src holds up to three ValueIDs consumed by this instruction (popped
	// operand stack entries or read locals), in operand order. Unused
	// entries are zero. Filled in by the stack analyzer (§4.3), not the
	// parser.
	Src [3]ValueID
	// Dst is the ValueID produced by this instruction, zero if none.
	Dst ValueID
	// DstKind is the JVM type of Dst, meaningful only if Dst != 0.
	DstKind classfile.Kind

	// AliasOf is nonzero for local loads (iload*, lload*, fload*, dload*,
	// aload*), whose Dst aliases the local's existing ValueID rather than
	// allocating a fresh TEMP slot (spec.md §4.3).
	AliasOf ValueID

	// branchTargetPCs holds raw bytecode-offset branch targets decoded by
	// the parser, consumed once by resolveTargets to populate Imm.Targets
	// with block pointers. Not used after parsing.
	branchTargetPCs []int
}

// Family classifies the instruction into the closed opcode-family set named
// by spec.md §9, used by the emitter to dispatch
// without a giant opcode switch duplicated in three places.
func (in *Instruction) Family() Family {
	switch in.Op {
	case OpBipush, OpSipush, OpLdc, OpLdcW, OpLdc2W,
		OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5,
		OpLconst0, OpLconst1, OpFconst0, OpFconst1, OpFconst2, OpDconst0, OpDconst1,
		OpAconstNull:
		return FamilyLoadConstant
	case OpIadd, OpLadd, OpFadd, OpDadd, OpIsub, OpLsub, OpFsub, OpDsub,
		OpImul, OpLmul, OpFmul, OpDmul, OpIdiv, OpLdiv, OpFdiv, OpDdiv,
		OpIrem, OpLrem, OpFrem, OpDrem, OpIshl, OpLshl, OpIshr, OpLshr,
		OpIushr, OpLushr, OpIand, OpLand, OpIor, OpLor, OpIxor, OpLxor,
		OpLcmp, OpFcmpl, OpFcmpg, OpDcmpl, OpDcmpg:
		return FamilyArithBinary
	case OpIneg, OpLneg, OpFneg, OpDneg:
		return FamilyArithUnary
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle,
		OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple,
		OpIfAcmpeq, OpIfAcmpne, OpIfnull, OpIfnonnull, OpGoto, OpGotoW:
		return FamilyCompareBranch
	case OpIload, OpLload, OpFload, OpDload, OpAload,
		OpIload0, OpIload1, OpIload2, OpIload3,
		OpLload0, OpLload1, OpLload2, OpLload3,
		OpFload0, OpFload1, OpFload2, OpFload3,
		OpDload0, OpDload1, OpDload2, OpDload3,
		OpAload0, OpAload1, OpAload2, OpAload3,
		OpIstore, OpLstore, OpFstore, OpDstore, OpAstore,
		OpIstore0, OpIstore1, OpIstore2, OpIstore3,
		OpLstore0, OpLstore1, OpLstore2, OpLstore3,
		OpFstore0, OpFstore1, OpFstore2, OpFstore3,
		OpDstore0, OpDstore1, OpDstore2, OpDstore3,
		OpAstore0, OpAstore1, OpAstore2, OpAstore3,
		OpIaload, OpLaload, OpFaload, OpDaload, OpAaload, OpBaload, OpCaload, OpSaload,
		OpIastore, OpLastore, OpFastore, OpDastore, OpAastore, OpBastore, OpCastore, OpSastore,
		OpGetfield, OpPutfield, OpGetstatic, OpPutstatic, OpIinc:
		return FamilyLoadStore
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return FamilyMethodCall
	case OpCheckcast, OpInstanceof, OpNew, OpNewarray, OpAnewarray, OpMultianewarray:
		return FamilyTypeCheck
	case OpTableswitch, OpLookupswitch:
		return FamilySwitch
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn, OpReturn:
		return FamilyReturn
	case OpI2l, OpI2f, OpI2d, OpL2i, OpL2f, OpL2d, OpF2i, OpF2l, OpF2d,
		OpD2i, OpD2l, OpD2f, OpI2b, OpI2c, OpI2s:
		return FamilyConvert
	default:
		return FamilyOther
	}
}
