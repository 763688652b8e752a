package codegen

import (
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

func (e *emitter) emitReturn(in *ir.Instruction) error {
	if in.Op != ir.OpReturn {
		class := regalloc.ClassOf(in.DstKind)
		scratch := e.isa.ScratchInt()[0]
		if class == regalloc.ClassFloat {
			scratch = e.isa.ScratchFloat()[0]
		}
		v, err := e.materialize(in.Src[0], scratch)
		if err != nil {
			return err
		}
		ret := e.isa.ReturnReg(class)
		if v != ret {
			e.as.CompileRegisterToRegister(e.isa.Move(class, in.DstKind.Size64()), v, ret)
		}
	}
	frameSize := e.frameSizeBytes()
	e.isa.Epilogue(e.as, frameSize)
	return nil
}
