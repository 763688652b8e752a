package codegen

import (
	"fmt"
	"math"

	"jitvm/internal/ir"
)

func errUnsupported(op ir.Opcode, isa string) error {
	return fmt.Errorf("codegen: no lowering for opcode %v on %s", op, isa)
}

func int32bits(f float32) int32 { return int32(math.Float32bits(f)) }
func int64bits(f float64) int64 { return int64(math.Float64bits(f)) }

func isDivOrRem(op ir.Opcode) bool {
	switch op {
	case ir.OpIdiv, ir.OpLdiv, ir.OpIrem, ir.OpLrem:
		return true
	}
	return false
}

func isMul(op ir.Opcode) bool {
	switch op {
	case ir.OpImul, ir.OpLmul:
		return true
	}
	return false
}

func isTriStateCompare(op ir.Opcode) bool {
	switch op {
	case ir.OpLcmp, ir.OpFcmpl, ir.OpFcmpg, ir.OpDcmpl, ir.OpDcmpg:
		return true
	}
	return false
}
