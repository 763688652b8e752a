package codegen

import (
	"fmt"

	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

func (e *emitter) emitTypeCheck(in *ir.Instruction) error {
	var h RuntimeHelper
	switch in.Op {
	case ir.OpNew:
		h = HelperNew
	case ir.OpNewarray:
		h = HelperNewArray
	case ir.OpAnewarray:
		h = HelperANewArray
	case ir.OpMultianewarray:
		h = HelperMultiANewArray
	case ir.OpCheckcast:
		h = HelperCheckCast
	case ir.OpInstanceof:
		h = HelperInstanceOf
	}
	e.callHelper(h)
	if in.Dst != 0 {
		class := regalloc.ClassOf(in.DstKind)
		return e.commit(in.Dst, e.isa.ReturnReg(class))
	}
	return nil
}

// emitOther covers FamilyOther: monitorenter/exit, athrow, arraylength,
// jsr/ret (rejected with an InternalError), and the stack-shuffle opcodes
// (dup*/swap/pop*), which record no Dst and so always land here with
// nothing to do.
func (e *emitter) emitOther(in *ir.Instruction) error {
	switch in.Op {
	case ir.OpMonitorenter:
		e.callHelper(HelperMonitorEnter)
		return nil
	case ir.OpMonitorexit:
		e.callHelper(HelperMonitorExit)
		return nil
	case ir.OpAthrow:
		e.callHelper(HelperThrow)
		return nil
	case ir.OpArraylength:
		e.callHelper(HelperArrayLength)
		if in.Dst != 0 {
			return e.commit(in.Dst, e.isa.ReturnReg(regalloc.ClassInt))
		}
		return nil
	case ir.OpJsr, ir.OpJsrW, ir.OpRet:
		return fmt.Errorf("codegen: InternalError: jsr/ret (opcode 0x%02x) reached the emitter", byte(in.Op))
	default:
		// dup/dupX1/dupX2/dup2/dup2X1/dup2X2/swap/pop/pop2: purely an
		// analysis-time stack reshuffle. None of them records a Dst, so
		// there is nothing to emit.
		return nil
	}
}
