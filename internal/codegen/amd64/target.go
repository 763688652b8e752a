// Package amd64 provides codegen.ISA for amd64, lowering through
// internal/asm/amd64, the teacher's own amd64 Go-assembler-style encoder.
package amd64

import (
	"encoding/binary"
	"math"

	"jitvm/internal/asm"
	asmamd64 "jitvm/internal/asm/amd64"
	"jitvm/internal/codegen"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

// ISA implements codegen.ISA for amd64. Register reservations:
//   - REG_BP is the frame base (classic frame-pointer convention).
//   - REG_SP is the real hardware stack pointer, used only at call
//     boundaries to carry the return address IDIV/IMUL use implicitly.
//   - REG_AX/REG_DX are reserved for IDIV/IDIVQ's implicit dividend/
//     remainder pair and the function return value.
//   - REG_CX is reserved as a scratch/shift-count register.
//
// None of BP, SP, AX, DX, CX appear in the Pool handed to
// internal/regalloc.Allocate for this target.
type ISA struct{}

func New() *ISA { return &ISA{} }

func (*ISA) Name() string { return "amd64" }

func (*ISA) NewAssembler() (asm.AssemblerBase, error) {
	return asmamd64.NewAssembler(asmamd64.REG_CX)
}

func (*ISA) FrameBase() asm.Register { return asmamd64.REG_BP }

func (*ISA) ScratchInt() [2]asm.Register   { return [2]asm.Register{asmamd64.REG_CX, asmamd64.REG_R11} }
func (*ISA) ScratchFloat() [2]asm.Register { return [2]asm.Register{asmamd64.REG_X14, asmamd64.REG_X15} }

func (*ISA) ReturnReg(c regalloc.Class) asm.Register {
	if c == regalloc.ClassFloat {
		return asmamd64.REG_X0
	}
	return asmamd64.REG_AX
}

func (*ISA) WordSize(regalloc.Class) int64 { return 8 }

// AllocatableIntRegisters and AllocatableFloatRegisters are the Pools
// internal/compiler hands to internal/regalloc.Allocate for this target —
// every general-purpose and XMM register not reserved above.
func AllocatableIntRegisters() []regalloc.RegID {
	return []regalloc.RegID{
		regalloc.RegID(asmamd64.REG_BX), regalloc.RegID(asmamd64.REG_SI), regalloc.RegID(asmamd64.REG_DI),
		regalloc.RegID(asmamd64.REG_R8), regalloc.RegID(asmamd64.REG_R9), regalloc.RegID(asmamd64.REG_R10),
		regalloc.RegID(asmamd64.REG_R12), regalloc.RegID(asmamd64.REG_R13), regalloc.RegID(asmamd64.REG_R14), regalloc.RegID(asmamd64.REG_R15),
	}
}

func AllocatableFloatRegisters() []regalloc.RegID {
	regs := make([]regalloc.RegID, 0, 14)
	for _, r := range []asm.Register{
		asmamd64.REG_X1, asmamd64.REG_X2, asmamd64.REG_X3, asmamd64.REG_X4, asmamd64.REG_X5, asmamd64.REG_X6,
		asmamd64.REG_X7, asmamd64.REG_X8, asmamd64.REG_X9, asmamd64.REG_X10, asmamd64.REG_X11, asmamd64.REG_X12, asmamd64.REG_X13,
	} {
		regs = append(regs, regalloc.RegID(r))
	}
	return regs
}

func (*ISA) Move(c regalloc.Class, _ bool) asm.Instruction {
	if c == regalloc.ClassFloat {
		// SSE2 MOVQ moves 64 raw bits between XMM registers; this package
		// exposes no MOVSS/MOVSD, so both float and double values are
		// carried as a full 64-bit lane and only the meaningful low bits
		// are ever interpreted by ADDSS/ADDSD et al.
		return asmamd64.MOVQ
	}
	return asmamd64.MOVQ
}

func (*ISA) LoadFromFrame(c regalloc.Class, size64 bool) asm.Instruction {
	return asmamd64.MOVQ
}

func (*ISA) StoreToFrame(c regalloc.Class, size64 bool) asm.Instruction {
	return asmamd64.MOVQ
}

func (*ISA) LoadConstInt(v int64, dst asm.Register, size64 bool, as asm.AssemblerBase) {
	instr := asmamd64.MOVL
	if size64 {
		instr = asmamd64.MOVQ
	}
	as.CompileConstToRegister(instr, v, dst)
}

func (i *ISA) LoadConstFloat(bits int64, dst asm.Register, size64 bool, as asm.AssemblerBase) {
	scratch := i.ScratchInt()[0]
	i.LoadConstInt(bits, scratch, true, as)
	as.CompileRegisterToRegister(asmamd64.MOVQ, scratch, dst)
}

func (*ISA) Arith(op ir.Opcode) (asm.Instruction, bool) {
	switch op {
	case ir.OpIadd:
		return asmamd64.ADDL, true
	case ir.OpLadd:
		return asmamd64.ADDQ, true
	case ir.OpFadd:
		return asmamd64.ADDSS, true
	case ir.OpDadd:
		return asmamd64.ADDSD, true
	case ir.OpIsub:
		return asmamd64.SUBL, true
	case ir.OpLsub:
		return asmamd64.SUBQ, true
	case ir.OpFsub:
		return asmamd64.SUBSS, true
	case ir.OpDsub:
		return asmamd64.SUBSD, true
	case ir.OpFmul:
		return asmamd64.MULSS, true
	case ir.OpDmul:
		return asmamd64.MULSD, true
	case ir.OpFdiv:
		return asmamd64.DIVSS, true
	case ir.OpDdiv:
		return asmamd64.DIVSD, true
	case ir.OpIand:
		return asmamd64.ANDL, true
	case ir.OpLand:
		return asmamd64.ANDQ, true
	case ir.OpIor:
		return asmamd64.ORL, true
	case ir.OpLor:
		return asmamd64.ORQ, true
	case ir.OpIxor:
		return asmamd64.XORL, true
	case ir.OpLxor:
		return asmamd64.XORQ, true
	case ir.OpIshl:
		return asmamd64.SHLL, true
	case ir.OpLshl:
		return asmamd64.SHLQ, true
	case ir.OpIshr:
		return asmamd64.SARL, true
	case ir.OpLshr:
		return asmamd64.SARQ, true
	case ir.OpIushr:
		return asmamd64.SHRL, true
	case ir.OpLushr:
		return asmamd64.SHRQ, true
	}
	return asmamd64.NONE, false
}

func (i *ISA) Negate(as asm.AssemblerBase, reg asm.Register, c regalloc.Class, size64 bool) {
	if c == regalloc.ClassFloat {
		// Flip the sign bit: XOR against a mask with only the top bit set.
		mask := i.ScratchFloat()[1]
		if size64 {
			i.LoadConstFloat(int64(-0x8000000000000000), mask, true, as)
			as.CompileRegisterToRegister(asmamd64.XORPD, mask, reg)
		} else {
			i.LoadConstFloat(int64(int32(-0x80000000))<<32>>32, mask, false, as)
			as.CompileRegisterToRegister(asmamd64.XORPS, mask, reg)
		}
		return
	}
	scratch := i.ScratchInt()[1]
	instr := asmamd64.MOVL
	sub := asmamd64.SUBL
	if size64 {
		instr = asmamd64.MOVQ
		sub = asmamd64.SUBQ
	}
	as.CompileConstToRegister(instr, 0, scratch)
	as.CompileRegisterToRegister(sub, reg, scratch)
	as.CompileRegisterToRegister(instr, scratch, reg)
}

func (i *ISA) DivMod(as asm.AssemblerBase, dividend, divisor asm.Register, wantRemainder, size64 bool) asm.Register {
	mov, sext, div, cmp := asmamd64.MOVL, asmamd64.CDQ, asmamd64.IDIVL, asmamd64.CMPL
	minValue := int64(-0x80000000)
	if size64 {
		mov, sext, div, cmp = asmamd64.MOVQ, asmamd64.CQO, asmamd64.IDIVQ, asmamd64.CMPQ
		minValue = int64(-0x8000000000000000)
	}
	as.CompileRegisterToRegister(mov, dividend, asmamd64.REG_AX)

	// IDIVL/IDIVQ raise #DE instead of wrapping when the true quotient
	// overflows the destination, which happens for exactly one input:
	// dividend == MIN_VALUE and divisor == -1. The dividend is already
	// sitting in AX; DX is still free at this point (sign-extension
	// hasn't run yet), so both are used as scratch to detect that case
	// and short-circuit it to MIN_VALUE/0 before the hardware divide
	// ever executes.
	as.CompileConstToRegister(mov, -1, asmamd64.REG_DX)
	as.CompileRegisterToRegister(cmp, asmamd64.REG_DX, divisor)
	notNegOne := as.CompileJump(asmamd64.JNE)

	as.CompileConstToRegister(mov, minValue, asmamd64.REG_DX)
	as.CompileRegisterToRegister(cmp, asmamd64.REG_DX, dividend)
	notMinValue := as.CompileJump(asmamd64.JNE)

	as.CompileConstToRegister(mov, 0, asmamd64.REG_DX)
	overflowCase := as.CompileJump(asmamd64.JMP)

	normalCase := as.CompileStandAlone(asmamd64.NOP)
	notNegOne.AssignJumpTarget(normalCase)
	notMinValue.AssignJumpTarget(normalCase)

	as.CompileStandAlone(sext)
	// IDIV has an implicit EDX:EAX/RDX:RAX dividend and writes quotient to
	// AX, remainder to DX; divisor is the instruction's sole explicit
	// operand, passed to CompileRegisterToNone since there is no second
	// explicit register operand to name a destination with.
	a := as.(asmamd64.Assembler)
	a.CompileRegisterToNone(div, divisor)

	end := as.CompileStandAlone(asmamd64.NOP)
	overflowCase.AssignJumpTarget(end)

	if wantRemainder {
		return asmamd64.REG_DX
	}
	return asmamd64.REG_AX
}

// Convert implements the i2l/i2f/.../i2b/i2c/i2s numeric-conversion family.
// Widening and integer-narrowing forms are a single MOV/CVT instruction;
// float/double to integer narrowing (f2i/f2l/d2i/d2l) is not, because
// CVTTSS2SL/CVTTSD2SQ et al. produce the "integer indefinite" value
// (bit-identical to MIN_VALUE) for a NaN or out-of-range operand, where §8
// requires NaN -> 0 and +Infinity/positive-overflow -> MAX_VALUE
// specifically. -Infinity and negative overflow already truncate to the
// indefinite pattern, which happens to already equal the MIN_VALUE §8
// wants there, so only the NaN and positive-overflow cases need
// correcting after the raw hardware conversion runs.
func (i *ISA) Convert(as asm.AssemblerBase, op ir.Opcode, src, dst asm.Register) {
	switch op {
	case ir.OpI2l:
		as.CompileRegisterToRegister(asmamd64.MOVLQSX, src, dst)
	case ir.OpL2i:
		as.CompileRegisterToRegister(asmamd64.MOVL, src, dst)
	case ir.OpI2b:
		as.CompileRegisterToRegister(asmamd64.MOVBLSX, src, dst)
	case ir.OpI2c:
		as.CompileRegisterToRegister(asmamd64.MOVWLZX, src, dst)
	case ir.OpI2s:
		as.CompileRegisterToRegister(asmamd64.MOVWLSX, src, dst)
	case ir.OpI2f:
		as.CompileRegisterToRegister(asmamd64.CVTSL2SS, src, dst)
	case ir.OpI2d:
		as.CompileRegisterToRegister(asmamd64.CVTSL2SD, src, dst)
	case ir.OpL2f:
		as.CompileRegisterToRegister(asmamd64.CVTSQ2SS, src, dst)
	case ir.OpL2d:
		as.CompileRegisterToRegister(asmamd64.CVTSQ2SD, src, dst)
	case ir.OpF2d:
		as.CompileRegisterToRegister(asmamd64.CVTSS2SD, src, dst)
	case ir.OpD2f:
		as.CompileRegisterToRegister(asmamd64.CVTSD2SS, src, dst)
	case ir.OpF2i:
		i.convertFloatToInt(as, asmamd64.COMISS, asmamd64.CVTTSS2SL, src, dst, false, int64(math.Float32bits(1<<31)))
	case ir.OpF2l:
		i.convertFloatToInt(as, asmamd64.COMISS, asmamd64.CVTTSS2SQ, src, dst, true, int64(math.Float32bits(1<<63)))
	case ir.OpD2i:
		i.convertFloatToInt(as, asmamd64.COMISD, asmamd64.CVTTSD2SL, src, dst, false, int64(math.Float64bits(1<<31)))
	case ir.OpD2l:
		i.convertFloatToInt(as, asmamd64.COMISD, asmamd64.CVTTSD2SQ, src, dst, true, int64(math.Float64bits(1<<63)))
	}
}

// convertFloatToInt runs cvt (a truncating float/double to int/long
// conversion) and then corrects exactly the two cases §8 disagrees with
// the hardware result on: a NaN operand (corrected to 0) and an operand
// at or beyond upperBoundBits, this conversion's positive magnitude limit
// in src's own float width (corrected to MAX_VALUE; this also catches
// +Infinity, which always compares >= any finite bound). cmp is COMISS or
// COMISD, matching src's width; dstIsLong selects int vs long-sized
// immediates and MOV widths for dst.
func (i *ISA) convertFloatToInt(as asm.AssemblerBase, cmp, cvt asm.Instruction, src, dst asm.Register, dstIsLong bool, upperBoundBits int64) {
	as.CompileRegisterToRegister(cvt, src, dst)

	as.CompileRegisterToRegister(cmp, src, src)
	ordered := as.CompileJump(asmamd64.JPC)
	zeroMov := asmamd64.MOVL
	if dstIsLong {
		zeroMov = asmamd64.MOVQ
	}
	as.CompileConstToRegister(zeroMov, 0, dst)
	done := as.CompileJump(asmamd64.JMP)

	orderedTarget := as.CompileStandAlone(asmamd64.NOP)
	ordered.AssignJumpTarget(orderedTarget)

	bound := i.ScratchFloat()[1]
	i.LoadConstFloat(upperBoundBits, bound, cmp == asmamd64.COMISD, as)
	as.CompileRegisterToRegister(cmp, bound, src)
	belowBound := as.CompileJump(asmamd64.JCS)

	maxMov, maxValue := asmamd64.MOVL, int64(0x7fffffff)
	if dstIsLong {
		maxMov, maxValue = asmamd64.MOVQ, int64(0x7fffffffffffffff)
	}
	as.CompileConstToRegister(maxMov, maxValue, dst)

	end := as.CompileStandAlone(asmamd64.NOP)
	belowBound.AssignJumpTarget(end)
	done.AssignJumpTarget(end)
}

// Mul implements imul/lmul. This package exposes only the unsigned,
// implicit-AX MUL form (no two-operand IMUL), so the multiplicand is moved
// into AX first; the low half of the result, in AX, already matches JVM's
// truncating int/long multiply semantics regardless of signedness.
func (*ISA) Mul(as asm.AssemblerBase, x, y asm.Register, size64 bool) asm.Register {
	mov, mul := asmamd64.MOVL, asmamd64.MULL
	if size64 {
		mov, mul = asmamd64.MOVQ, asmamd64.MULQ
	}
	as.CompileRegisterToRegister(mov, x, asmamd64.REG_AX)
	a := as.(asmamd64.Assembler)
	a.CompileRegisterToNone(mul, y)
	return asmamd64.REG_AX
}

func (*ISA) Compare(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.ConditionalRegisterState {
	as.CompileRegisterToRegister(asmamd64.CMPQ, b, a)
	switch op {
	case ir.OpIfIcmpeq, ir.OpIfAcmpeq:
		return asmamd64.ConditionalRegisterStateE
	case ir.OpIfIcmpne, ir.OpIfAcmpne:
		return asmamd64.ConditionalRegisterStateNE
	case ir.OpIfIcmplt:
		return asmamd64.ConditionalRegisterStateL
	case ir.OpIfIcmpge:
		return asmamd64.ConditionalRegisterStateGE
	case ir.OpIfIcmpgt:
		return asmamd64.ConditionalRegisterStateG
	case ir.OpIfIcmple:
		return asmamd64.ConditionalRegisterStateLE
	}
	return asmamd64.ConditionalRegisterStateE
}

func (*ISA) CompareZero(as asm.AssemblerBase, op ir.Opcode, a asm.Register, c regalloc.Class) asm.ConditionalRegisterState {
	// TESTQ reg,reg clears OF the same way CMP reg,0 would, so the signed
	// condition codes below read identically to comparing a against a
	// literal 0/null.
	as.CompileRegisterToRegister(asmamd64.TESTQ, a, a)
	switch op {
	case ir.OpIfeq, ir.OpIfnull:
		return asmamd64.ConditionalRegisterStateE
	case ir.OpIfne, ir.OpIfnonnull:
		return asmamd64.ConditionalRegisterStateNE
	case ir.OpIflt:
		return asmamd64.ConditionalRegisterStateL
	case ir.OpIfge:
		return asmamd64.ConditionalRegisterStateGE
	case ir.OpIfgt:
		return asmamd64.ConditionalRegisterStateG
	case ir.OpIfle:
		return asmamd64.ConditionalRegisterStateLE
	}
	return asmamd64.ConditionalRegisterStateE
}

// CompareToInt lowers lcmp/fcmpl/fcmpg/dcmpl/dcmpg to a -1/0/1 int.
//
// lcmp compares with CMPQ, which sets SF/OF/ZF, so the signed SETGT/SETLT
// forms apply directly. fcmp*/dcmp* compare with COMISS/COMISD, which set
// CF/ZF/PF (unsigned-style) instead, so the unsigned SETHI/SETCS forms are
// used there; an unordered (NaN) operand sets CF=ZF=PF=1, which already
// makes SETHI false and SETCS true, landing on fcmpl's -1 with no further
// correction. fcmpg/dcmpg want +1 instead, so SETPS's parity bit is folded
// in afterward to flip exactly that case.
func (i *ISA) CompareToInt(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.Register {
	isFloat := op == ir.OpFcmpl || op == ir.OpFcmpg || op == ir.OpDcmpl || op == ir.OpDcmpg
	cmp, gtInstr, ltInstr := asmamd64.CMPQ, asmamd64.SETGT, asmamd64.SETLT
	if isFloat {
		gtInstr, ltInstr = asmamd64.SETHI, asmamd64.SETCS
		if op == ir.OpFcmpl || op == ir.OpFcmpg {
			cmp = asmamd64.COMISS
		} else {
			cmp = asmamd64.COMISD
		}
	}
	as.CompileRegisterToRegister(cmp, b, a)

	aAsm := as.(asmamd64.Assembler)
	gt := i.ScratchInt()[0]
	lt := i.ScratchInt()[1]
	aAsm.CompileNoneToRegister(gtInstr, gt)
	aAsm.CompileNoneToRegister(ltInstr, lt)
	as.CompileRegisterToRegister(asmamd64.SUBL, lt, gt) // gt := gt - lt

	if op == ir.OpFcmpg || op == ir.OpDcmpg {
		aAsm.CompileNoneToRegister(asmamd64.SETPS, lt) // lt's earlier value is already folded into gt above
		as.CompileRegisterToRegister(asmamd64.ADDL, lt, lt)
		as.CompileRegisterToRegister(asmamd64.ADDL, lt, gt)
	}
	return gt
}

func (*ISA) BranchIf(as asm.AssemblerBase, cond asm.ConditionalRegisterState) asm.Node {
	return as.CompileJump(jccFor(cond))
}

func (*ISA) Jump(as asm.AssemblerBase) asm.Node { return as.CompileJump(asmamd64.JMP) }

func (*ISA) Nop() asm.Instruction { return asmamd64.NOP }

func jccFor(cond asm.ConditionalRegisterState) asm.Instruction {
	switch cond {
	case asmamd64.ConditionalRegisterStateE:
		return asmamd64.JEQ
	case asmamd64.ConditionalRegisterStateNE:
		return asmamd64.JNE
	case asmamd64.ConditionalRegisterStateG:
		return asmamd64.JGT
	case asmamd64.ConditionalRegisterStateGE:
		return asmamd64.JGE
	case asmamd64.ConditionalRegisterStateL:
		return asmamd64.JLT
	case asmamd64.ConditionalRegisterStateLE:
		return asmamd64.JLE
	case asmamd64.ConditionalRegisterStateA:
		return asmamd64.JHI
	case asmamd64.ConditionalRegisterStateAE:
		return asmamd64.JCC
	case asmamd64.ConditionalRegisterStateB:
		return asmamd64.JCS
	case asmamd64.ConditionalRegisterStateBE:
		return asmamd64.JLS
	}
	return asmamd64.JEQ
}

// Prologue reserves frameSize bytes plus one saved-frame-base slot, and
// saves the caller's frame-base register there. There is no PUSH/POP in
// this package's instruction subset, so the classic push-rbp sequence is
// spelled out with SUBQ/MOVQ instead.
func (*ISA) Prologue(as asm.AssemblerBase, frameSize int) {
	total := int64(frameSize) + 8
	as.CompileConstToRegister(asmamd64.SUBQ, total, asmamd64.REG_SP)
	as.CompileRegisterToMemory(asmamd64.MOVQ, asmamd64.REG_BP, asmamd64.REG_SP, int64(frameSize))
	as.CompileRegisterToRegister(asmamd64.MOVQ, asmamd64.REG_SP, asmamd64.REG_BP)
}

func (*ISA) Epilogue(as asm.AssemblerBase, frameSize int) {
	as.CompileMemoryToRegister(asmamd64.MOVQ, asmamd64.REG_BP, int64(frameSize), asmamd64.REG_BP)
	as.CompileConstToRegister(asmamd64.ADDQ, int64(frameSize)+8, asmamd64.REG_SP)
	as.CompileStandAlone(asmamd64.RET)
}

// Call manufactures a call without this package's instruction subset
// exposing a native CALL: it reads the address of the instruction right
// after the coming jump, pushes that onto the real hardware stack (the one
// resource RET, used by Epilogue, actually consumes), then jumps to reg.
func (*ISA) Call(as asm.AssemblerBase, reg asm.Register) {
	retAddr := asmamd64.REG_R10
	as.CompileReadInstructionAddress(retAddr, asmamd64.JMP)
	as.CompileConstToRegister(asmamd64.SUBQ, 8, asmamd64.REG_SP)
	as.CompileRegisterToMemory(asmamd64.MOVQ, retAddr, asmamd64.REG_SP, 0)
	as.CompileJumpToRegister(asmamd64.JMP, reg)
}

// LoadAbsolute returns the Node carrying the embedded 64-bit immediate, not
// a byte offset: OffsetInBinary is only meaningful after the whole method
// is assembled, so the caller (internal/codegen's Emit) resolves every
// pending patch site's offset from its Node in one pass once assembly
// finishes, the same way it resolves block-entry offsets for branch fixups.
func (*ISA) LoadAbsolute(as asm.AssemblerBase, addr int64, reg asm.Register) asm.Node {
	return as.CompileConstToRegister(asmamd64.MOVQ, addr, reg)
}

// PatchAbsolute overwrites a LoadAbsolute site's embedded 64-bit immediate.
// internal/asm/amd64's MOVQ-const encoder picks a shorter 32-bit-immediate
// form when the constant fits in 32 bits, and only emits the 10-byte
// REX.W+0xB8+imm64 form otherwise; this assumes every address LoadAbsolute
// is ever called with here — code-heap and stub pointers — takes the
// 10-byte form, true in practice since a 64-bit process's mmap'd addresses
// essentially never fit in 32 bits. codeOffset is the start of that 10-byte
// sequence, so the immediate begins 2 bytes in.
func (*ISA) PatchAbsolute(code []byte, codeOffset int64, addr int64) {
	binary.LittleEndian.PutUint64(code[codeOffset+2:codeOffset+10], uint64(addr))
}

var _ codegen.ISA = (*ISA)(nil)
