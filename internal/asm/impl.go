package asm

import "encoding/binary"

// BaseAssemblerImpl includes code common to all architectures.
//
// Note: When possible, add code here instead of in architecture-specific files to reduce drift:
// As this is internal, exporting symbols only to reduce duplication is ok.
type BaseAssemblerImpl struct {
	// SetBranchTargetOnNextNodes holds branch kind instructions (BR, conditional BR, etc.)
	// where we want to set the next coming instruction as the destination of these BR instructions.
	SetBranchTargetOnNextNodes []Node
}

// SetJumpTargetOnNext implements AssemblerBase.SetJumpTargetOnNext
func (a *BaseAssemblerImpl) SetJumpTargetOnNext(nodes ...Node) {
	a.SetBranchTargetOnNextNodes = append(a.SetBranchTargetOnNextNodes, nodes...)
}

// BuildJumpTable implements AssemblerBase.BuildJumpTable, laying out a
// dense jump table of case-target offsets relative to the table's first
// entry. internal/codegen does not call it: tableswitch is lowered as a
// compare chain.
func (a *BaseAssemblerImpl) BuildJumpTable(table []byte, initialInstructions []Node) {
	base := initialInstructions[0].OffsetInBinary()
	for i, n := range initialInstructions {
		if n == nil {
			continue
		}
		offset := n.OffsetInBinary() - base
		binary.LittleEndian.PutUint32(table[i*4:(i+1)*4], uint32(offset))
	}
}
