package compiler

import (
	"fmt"

	"jitvm/internal/codegen"
	"jitvm/internal/codegen/amd64"
	"jitvm/internal/codegen/arm64"
	"jitvm/internal/regalloc"
	"jitvm/internal/vmconfig"
)

// SelectISA builds the codegen.ISA and the two register-class Pools for
// opts.Target, resolving vmconfig.ISAAuto to the host architecture. This
// is the driver's one point of contact with a concrete backend package —
// everything past this call deals only in the codegen.ISA interface.
func SelectISA(opts vmconfig.Options) (codegen.ISA, regalloc.Pool, regalloc.Pool, error) {
	switch opts.Target.Resolve() {
	case vmconfig.ISAAMD64:
		return amd64.New(),
			regalloc.Pool{Registers: amd64.AllocatableIntRegisters()},
			regalloc.Pool{Registers: amd64.AllocatableFloatRegisters()},
			nil
	case vmconfig.ISAARM64:
		return arm64.New(),
			regalloc.Pool{Registers: arm64.AllocatableIntRegisters()},
			regalloc.Pool{Registers: arm64.AllocatableFloatRegisters()},
			nil
	default:
		return nil, regalloc.Pool{}, regalloc.Pool{}, fmt.Errorf("compiler: unsupported target ISA %q", opts.Target)
	}
}
