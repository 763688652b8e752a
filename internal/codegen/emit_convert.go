package codegen

import (
	"jitvm/internal/classfile"
	"jitvm/internal/ir"
	"jitvm/internal/regalloc"
)

// convertSrcKind returns the classfile.Kind of in.Op's single operand.
// internal/stackanalysis's convert() helper (effects.go) receives this same
// Kind as its "from" parameter but discards it once the operand is popped,
// so the emitter re-derives it here directly from the opcode, which
// determines both ends of the conversion uniquely.
func convertSrcKind(op ir.Opcode) classfile.Kind {
	switch op {
	case ir.OpI2l, ir.OpI2f, ir.OpI2d, ir.OpI2b, ir.OpI2c, ir.OpI2s:
		return classfile.KindInt
	case ir.OpL2i, ir.OpL2f, ir.OpL2d:
		return classfile.KindLong
	case ir.OpF2i, ir.OpF2l, ir.OpF2d:
		return classfile.KindFloat
	case ir.OpD2i, ir.OpD2l, ir.OpD2f:
		return classfile.KindDouble
	}
	return classfile.KindVoid
}

// emitConvert lowers ir.FamilyConvert: i2l/i2f/i2d/l2i/l2f/l2d/f2i/f2l/f2d/
// d2i/d2l/d2f/i2b/i2c/i2s. Unlike emitArithBinary/Unary, the source and
// destination can live in different register classes (int<->float), so the
// operand and result are materialized/committed independently instead of
// sharing one scratch pair.
func (e *emitter) emitConvert(in *ir.Instruction) error {
	srcClass := regalloc.ClassOf(convertSrcKind(in.Op))
	dstClass := regalloc.ClassOf(in.DstKind)

	srcScratch := e.isa.ScratchInt()[0]
	if srcClass == regalloc.ClassFloat {
		srcScratch = e.isa.ScratchFloat()[0]
	}
	src, err := e.materialize(in.Src[0], srcScratch)
	if err != nil {
		return err
	}

	dst := e.homeOrScratch(in.Dst, dstClass)
	e.isa.Convert(e.as, in.Op, src, dst)
	return e.storeIfScratch(in.Dst, dstClass, dst)
}
