// Package arm64 provides codegen.ISA for arm64, lowering through
// internal/asm/arm64.
package arm64

import (
	"jitvm/internal/asm"
	asmarm64 "jitvm/internal/asm/arm64"
	"jitvm/internal/codegen"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

// ISA implements codegen.ISA for arm64.
//
// This instruction subset has no hardware-SP-relative addressing mode and
// no BL/BLR, so both the frame base and the return address are carried in
// ordinary general registers rather than architectural SP/LR:
//
//   - REG_R19, a callee-saved GPR, holds the base of this method's frame
//     (locals + spill slots), the same role FrameBase plays on amd64.
//   - REG_R30 holds the return address, manufactured with
//     CompileReadInstructionAddress the same way a native BL would set LR,
//     and consumed by the real RET instruction, which does exist here.
//   - REG_R29 is reserved as a second scratch/temporary alongside R19/R30
//     so the allocator's Pool never contends with the frame/call machinery.
//
// None of R19, R29, R30, or REGZERO appear in the Pool handed to
// internal/regalloc.Allocate for this target.
type ISA struct{}

func New() *ISA { return &ISA{} }

func (*ISA) Name() string { return "arm64" }

func (*ISA) NewAssembler() (asm.AssemblerBase, error) {
	return asmarm64.NewAssemblerImpl(asmarm64.REG_R29), nil
}

func (*ISA) FrameBase() asm.Register { return asmarm64.REG_R19 }

func (*ISA) ScratchInt() [2]asm.Register   { return [2]asm.Register{asmarm64.REG_R20, asmarm64.REG_R21} }
func (*ISA) ScratchFloat() [2]asm.Register { return [2]asm.Register{asmarm64.REG_F30, asmarm64.REG_F31} }

func (*ISA) ReturnReg(c regalloc.Class) asm.Register {
	if c == regalloc.ClassFloat {
		return asmarm64.REG_F0
	}
	return asmarm64.REG_R0
}

func (*ISA) WordSize(regalloc.Class) int64 { return 8 }

// AllocatableIntRegisters and AllocatableFloatRegisters are the Pools
// internal/compiler hands to internal/regalloc.Allocate for this target.
func AllocatableIntRegisters() []regalloc.RegID {
	regs := make([]regalloc.RegID, 0, 22)
	for r := asmarm64.REG_R0; r <= asmarm64.REG_R18; r++ {
		regs = append(regs, regalloc.RegID(r))
	}
	for _, r := range []asm.Register{asmarm64.REG_R22, asmarm64.REG_R23, asmarm64.REG_R24, asmarm64.REG_R25, asmarm64.REG_R26, asmarm64.REG_R27, asmarm64.REG_R28} {
		regs = append(regs, regalloc.RegID(r))
	}
	return regs
}

func AllocatableFloatRegisters() []regalloc.RegID {
	regs := make([]regalloc.RegID, 0, 30)
	for r := asmarm64.REG_F0; r <= asmarm64.REG_F29; r++ {
		regs = append(regs, regalloc.RegID(r))
	}
	return regs
}

func (*ISA) Move(c regalloc.Class, _ bool) asm.Instruction {
	if c == regalloc.ClassFloat {
		return asmarm64.FMOVD
	}
	return asmarm64.MOVD
}

func (*ISA) LoadFromFrame(c regalloc.Class, size64 bool) asm.Instruction {
	if c == regalloc.ClassFloat {
		if size64 {
			return asmarm64.FMOVD
		}
		return asmarm64.FMOVS
	}
	if size64 {
		return asmarm64.MOVD
	}
	return asmarm64.MOVW
}

func (i *ISA) StoreToFrame(c regalloc.Class, size64 bool) asm.Instruction {
	return i.LoadFromFrame(c, size64)
}

func (*ISA) LoadConstInt(v int64, dst asm.Register, size64 bool, as asm.AssemblerBase) {
	instr := asmarm64.MOVW
	if size64 {
		instr = asmarm64.MOVD
	}
	as.CompileConstToRegister(instr, v, dst)
}

func (i *ISA) LoadConstFloat(bits int64, dst asm.Register, size64 bool, as asm.AssemblerBase) {
	scratch := i.ScratchInt()[0]
	i.LoadConstInt(bits, scratch, true, as)
	instr := asmarm64.FMOVS
	if size64 {
		instr = asmarm64.FMOVD
	}
	as.CompileRegisterToRegister(instr, scratch, dst)
}

func (*ISA) Arith(op ir.Opcode) (asm.Instruction, bool) {
	switch op {
	case ir.OpIadd:
		return asmarm64.ADDW, true
	case ir.OpLadd:
		return asmarm64.ADD, true
	case ir.OpFadd:
		return asmarm64.FADDS, true
	case ir.OpDadd:
		return asmarm64.FADDD, true
	case ir.OpIsub:
		return asmarm64.SUBW, true
	case ir.OpLsub:
		return asmarm64.SUB, true
	case ir.OpFsub:
		return asmarm64.FSUBS, true
	case ir.OpDsub:
		return asmarm64.FSUBD, true
	case ir.OpFmul:
		return asmarm64.FMULS, true
	case ir.OpDmul:
		return asmarm64.FMULD, true
	case ir.OpFdiv:
		return asmarm64.FDIVS, true
	case ir.OpDdiv:
		return asmarm64.FDIVD, true
	case ir.OpIand:
		return asmarm64.ANDW, true
	case ir.OpLand:
		return asmarm64.AND, true
	case ir.OpIor:
		return asmarm64.ORRW, true
	case ir.OpLor:
		return asmarm64.ORR, true
	case ir.OpIxor:
		return asmarm64.EORW, true
	case ir.OpLxor:
		return asmarm64.EOR, true
	case ir.OpIshl:
		return asmarm64.LSLW, true
	case ir.OpLshl:
		return asmarm64.LSL, true
	case ir.OpIshr:
		return asmarm64.ASRW, true
	case ir.OpLshr:
		return asmarm64.ASR, true
	case ir.OpIushr:
		return asmarm64.LSRW, true
	case ir.OpLushr:
		return asmarm64.LSR, true
	}
	return asmarm64.NOP, false
}

// Negate uses the real NEG/NEGW/FNEGD/FNEGS instructions this target's
// instruction set provides, unlike amd64 which has none.
func (*ISA) Negate(as asm.AssemblerBase, reg asm.Register, c regalloc.Class, size64 bool) {
	if c == regalloc.ClassFloat {
		instr := asmarm64.FNEGS
		if size64 {
			instr = asmarm64.FNEGD
		}
		as.CompileRegisterToRegister(instr, reg, reg)
		return
	}
	instr := asmarm64.NEGW
	if size64 {
		instr = asmarm64.NEG
	}
	as.CompileRegisterToRegister(instr, reg, reg)
}

// DivMod uses SDIV to compute the quotient directly, then (for a remainder)
// MSUB to compute dividend-quotient*divisor in one instruction — arm64's
// three-operand division needs none of amd64's implicit-register dance, and
// SDIV's result for MIN_VALUE/-1 already wraps back to MIN_VALUE instead of
// trapping, so unlike the amd64 backend this needs no overflow guard to
// satisfy dividend-on-overflow semantics.
func (i *ISA) DivMod(as asm.AssemblerBase, dividend, divisor asm.Register, wantRemainder, size64 bool) asm.Register {
	a := as.(asmarm64.Assembler)
	sdiv := asmarm64.SDIVW
	msub := asmarm64.MSUBW
	if size64 {
		sdiv = asmarm64.SDIV
		msub = asmarm64.MSUB
	}
	q := i.ScratchInt()[0]
	// CompileTwoRegistersToRegister(instr, src1, src2, dst) encodes
	// dst = src2 / src1 for SDIV, so (divisor, dividend, q) yields
	// q = dividend / divisor.
	a.CompileTwoRegistersToRegister(sdiv, divisor, dividend, q)
	if !wantRemainder {
		return q
	}
	r := i.ScratchInt()[1]
	// CompileThreeRegistersToRegister(instr, src1, src2, src3, dst) encodes
	// dst = src2 - src1*src3 for MSUB, so (q, dividend, divisor, r) yields
	// r = dividend - q*divisor.
	a.CompileThreeRegistersToRegister(msub, q, dividend, divisor, r)
	return r
}

// Mul implements imul/lmul with the real two-operand MUL/MULW this target
// provides (unlike amd64, which has no two-operand integer multiply).
func (*ISA) Mul(as asm.AssemblerBase, x, y asm.Register, size64 bool) asm.Register {
	instr := asmarm64.MULW
	if size64 {
		instr = asmarm64.MUL
	}
	as.CompileRegisterToRegister(instr, y, x)
	return x
}

// Convert implements the i2l/.../i2b/i2c/i2s family. Unlike amd64,
// FCVTZS*'s truncating float/double-to-int conversions already saturate to
// MAX_VALUE/MIN_VALUE on overflow and produce 0 for NaN (ARM Architecture
// Reference Manual, "Floating-point Convert to Integer"), which is exactly
// JVM's f2i/f2l/d2i/d2l clamping behavior, so those cases need no branch at
// all here, unlike the amd64 backend.
func (*ISA) Convert(as asm.AssemblerBase, op ir.Opcode, src, dst asm.Register) {
	switch op {
	case ir.OpI2l:
		as.CompileRegisterToRegister(asmarm64.SXTW, src, dst)
	case ir.OpL2i:
		as.CompileRegisterToRegister(asmarm64.MOVWU, src, dst)
	case ir.OpI2b:
		as.CompileRegisterToRegister(asmarm64.SXTBW, src, dst)
	case ir.OpI2s:
		as.CompileRegisterToRegister(asmarm64.SXTHW, src, dst)
	case ir.OpI2c:
		// No register-to-register zero-extend-halfword form exists in this
		// package's instruction set (unlike SXTBW/SXTHW's sign-extending
		// counterparts), so char truncation is done with a shift round-trip:
		// shift the low 16 bits up to the register's top, then logically
		// shift back down, zero-filling everything above bit 15.
		if src != dst {
			as.CompileRegisterToRegister(asmarm64.MOVD, src, dst)
		}
		as.CompileConstToRegister(asmarm64.LSL, 48, dst)
		as.CompileConstToRegister(asmarm64.LSR, 48, dst)
	case ir.OpI2f:
		as.CompileRegisterToRegister(asmarm64.SCVTFWS, src, dst)
	case ir.OpI2d:
		as.CompileRegisterToRegister(asmarm64.SCVTFWD, src, dst)
	case ir.OpL2f:
		as.CompileRegisterToRegister(asmarm64.SCVTFS, src, dst)
	case ir.OpL2d:
		as.CompileRegisterToRegister(asmarm64.SCVTFD, src, dst)
	case ir.OpF2d:
		as.CompileRegisterToRegister(asmarm64.FCVTSD, src, dst)
	case ir.OpD2f:
		as.CompileRegisterToRegister(asmarm64.FCVTDS, src, dst)
	case ir.OpF2i:
		as.CompileRegisterToRegister(asmarm64.FCVTZSSW, src, dst)
	case ir.OpF2l:
		as.CompileRegisterToRegister(asmarm64.FCVTZSS, src, dst)
	case ir.OpD2i:
		as.CompileRegisterToRegister(asmarm64.FCVTZSDW, src, dst)
	case ir.OpD2l:
		as.CompileRegisterToRegister(asmarm64.FCVTZSD, src, dst)
	}
}

func condFor(op ir.Opcode) asm.ConditionalRegisterState {
	switch op {
	case ir.OpIfIcmpeq, ir.OpIfAcmpeq, ir.OpIfeq, ir.OpIfnull:
		return asmarm64.COND_EQ
	case ir.OpIfIcmpne, ir.OpIfAcmpne, ir.OpIfne, ir.OpIfnonnull:
		return asmarm64.COND_NE
	case ir.OpIfIcmplt, ir.OpIflt:
		return asmarm64.COND_LT
	case ir.OpIfIcmpge, ir.OpIfge:
		return asmarm64.COND_GE
	case ir.OpIfIcmpgt, ir.OpIfgt:
		return asmarm64.COND_GT
	case ir.OpIfIcmple, ir.OpIfle:
		return asmarm64.COND_LE
	}
	return asmarm64.COND_EQ
}

// Compare and CompareZero use CompileTwoRegistersToNone: CMP's only
// encoding in this package compares two distinct registers (it has no
// RegisterToRegister form), unlike ADD/SUB/MUL which mutate one operand
// in place. CompileTwoRegistersToNone(CMP, src1, src2) sets flags to
// src2-src1, so (b, a) yields the a-b this method's callers expect.
func (*ISA) Compare(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.ConditionalRegisterState {
	asA := as.(asmarm64.Assembler)
	asA.CompileTwoRegistersToNone(asmarm64.CMP, b, a)
	return condFor(op)
}

func (*ISA) CompareZero(as asm.AssemblerBase, op ir.Opcode, a asm.Register, c regalloc.Class) asm.ConditionalRegisterState {
	asA := as.(asmarm64.Assembler)
	asA.CompileTwoRegistersToNone(asmarm64.CMP, asmarm64.REGZERO, a)
	return condFor(op)
}

func (i *ISA) CompareToInt(as asm.AssemblerBase, op ir.Opcode, a, b asm.Register, c regalloc.Class) asm.Register {
	cmp := asmarm64.CMP
	if op == ir.OpFcmpl || op == ir.OpFcmpg {
		cmp = asmarm64.FCMPS
	} else if op == ir.OpDcmpl || op == ir.OpDcmpg {
		cmp = asmarm64.FCMPD
	}
	asA := as.(asmarm64.Assembler)
	asA.CompileTwoRegistersToNone(cmp, b, a)

	gt := i.ScratchInt()[0]
	lt := i.ScratchInt()[1]
	gtCond, ltCond := asmarm64.REG_COND_GT, asmarm64.REG_COND_LT
	if op == ir.OpFcmpg || op == ir.OpDcmpg {
		// An unordered (NaN) comparison reports "greater" for fcmpg/dcmpg:
		// HI (C set, Z clear) holds for greater and for unordered, MI (N
		// set) only for an ordered less-than. Under GT/LT, used for every
		// other op, an unordered result reads as "less" (fcmpl/dcmpl's -1).
		gtCond, ltCond = asmarm64.REG_COND_HI, asmarm64.REG_COND_MI
	}
	as.CompileRegisterToRegister(asmarm64.CSET, gtCond, gt)
	as.CompileRegisterToRegister(asmarm64.CSET, ltCond, lt)
	as.CompileRegisterToRegister(asmarm64.SUBW, lt, gt)
	return gt
}

func (*ISA) BranchIf(as asm.AssemblerBase, cond asm.ConditionalRegisterState) asm.Node {
	return as.CompileJump(bFor(cond))
}

func (*ISA) Jump(as asm.AssemblerBase) asm.Node { return as.CompileJump(asmarm64.B) }

func (*ISA) Nop() asm.Instruction { return asmarm64.NOP }

func bFor(cond asm.ConditionalRegisterState) asm.Instruction {
	switch cond {
	case asmarm64.COND_EQ:
		return asmarm64.BEQ
	case asmarm64.COND_NE:
		return asmarm64.BNE
	case asmarm64.COND_LT:
		return asmarm64.BLT
	case asmarm64.COND_GE:
		return asmarm64.BGE
	case asmarm64.COND_GT:
		return asmarm64.BGT
	case asmarm64.COND_LE:
		return asmarm64.BLE
	case asmarm64.COND_HI:
		return asmarm64.BHI
	case asmarm64.COND_HS:
		return asmarm64.BHS
	case asmarm64.COND_LO:
		return asmarm64.BLO
	case asmarm64.COND_LS:
		return asmarm64.BLS
	case asmarm64.COND_VS:
		return asmarm64.BVS
	}
	return asmarm64.BEQ
}

// Prologue saves the caller's frame base (R19) and return address (R30)
// into this method's own frame before repointing R19 at it, so a nested
// Call below doesn't clobber either on the way back out.
func (*ISA) Prologue(as asm.AssemblerBase, frameSize int) {
	as.CompileRegisterToMemory(asmarm64.MOVD, asmarm64.REG_R19, asmarm64.REG_R19, int64(frameSize))
	as.CompileRegisterToMemory(asmarm64.MOVD, asmarm64.REG_R30, asmarm64.REG_R19, int64(frameSize)+8)
	as.CompileConstToRegister(asmarm64.ADD, int64(frameSize)+16, asmarm64.REG_R19)
}

func (*ISA) Epilogue(as asm.AssemblerBase, frameSize int) {
	as.CompileConstToRegister(asmarm64.SUB, int64(frameSize)+16, asmarm64.REG_R19)
	as.CompileMemoryToRegister(asmarm64.MOVD, asmarm64.REG_R19, int64(frameSize)+8, asmarm64.REG_R30)
	as.CompileMemoryToRegister(asmarm64.MOVD, asmarm64.REG_R19, int64(frameSize), asmarm64.REG_R19)
	as.CompileStandAlone(asmarm64.RET)
}

// Call manufactures a BL: this instruction set has no BL/BLR, so the
// return address is read the same way CompileReadInstructionAddress
// supplies it for any other purpose, placed into R30, and the callee is
// reached with a plain B through reg; the callee's own RET branches to R30.
func (*ISA) Call(as asm.AssemblerBase, reg asm.Register) {
	as.CompileReadInstructionAddress(asmarm64.REG_R30, asmarm64.B)
	as.CompileJumpToRegister(asmarm64.B, reg)
}

// LoadAbsolute returns the Node carrying the embedded constant, resolved to
// a byte offset by the caller only after the method is fully assembled —
// see the amd64 backend's LoadAbsolute doc comment for why.
func (*ISA) LoadAbsolute(as asm.AssemblerBase, addr int64, reg asm.Register) asm.Node {
	return as.CompileConstToRegister(asmarm64.MOVD, addr, reg)
}

// PatchAbsolute overwrites a LoadAbsolute site's embedded constant.
// internal/asm/arm64's MOVD-const encoder chooses between a single
// bitmask-immediate instruction, a 1-3 instruction 16-bit-aligned form, and
// the fully general one-MOVZ-plus-three-MOVK form depending on the bit
// pattern of the constant; this assumes every address LoadAbsolute is ever
// called with here — code-heap and stub pointers — lands in that general
// four-instruction form, true in practice since a real mmap'd pointer's
// four 16-bit chunks are essentially never all-zero, all-0xffff, or
// otherwise patterned. codeOffset is the start of that fixed 16-byte,
// four-instruction sequence; PatchAbsolute re-derives the destination
// register from the existing first instruction's bits and re-emits all
// four instructions with the new constant, byte-for-byte matching
// internal/asm/arm64's own movz/movk encoding.
func (*ISA) PatchAbsolute(code []byte, codeOffset int64, addr int64) {
	dstRegBits := code[codeOffset] & 0x1f
	c := uint64(addr)
	chunks := [4]uint64{c & 0xffff, (c >> 16) & 0xffff, (c >> 32) & 0xffff, (c >> 48) & 0xffff}
	for i, v := range chunks {
		op := byte(0b1_11_10010) // MOVK
		if i == 0 {
			op = 0b1_10_10010 // MOVZ
		}
		off := codeOffset + int64(i)*4
		code[off+0] = (byte(v) << 5) | dstRegBits
		code[off+1] = byte(v >> 3)
		code[off+2] = 1<<7 | byte(i)<<5 | (0b000_11111 & byte(v>>11))
		code[off+3] = op
	}
}

var _ codegen.ISA = (*ISA)(nil)
