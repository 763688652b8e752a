package asm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	offset NodeOffsetInBinary
}

func (f *fakeNode) String() string                         { return "fake" }
func (f *fakeNode) AssignJumpTarget(Node)                   {}
func (f *fakeNode) AssignDestinationConstant(ConstantValue) {}
func (f *fakeNode) AssignSourceConstant(ConstantValue)      {}
func (f *fakeNode) OffsetInBinary() NodeOffsetInBinary      { return f.offset }

func TestBaseAssemblerImpl_SetJumpTargetOnNext(t *testing.T) {
	var a BaseAssemblerImpl
	n1, n2 := &fakeNode{}, &fakeNode{}
	a.SetJumpTargetOnNext(n1, n2)
	require.Equal(t, []Node{n1, n2}, a.SetBranchTargetOnNextNodes)
}

func TestBaseAssemblerImpl_BuildJumpTable(t *testing.T) {
	var a BaseAssemblerImpl
	targets := []Node{
		&fakeNode{offset: 100},
		&fakeNode{offset: 108},
		&fakeNode{offset: 116},
	}
	table := make([]byte, 4*len(targets))
	a.BuildJumpTable(table, targets)

	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(table[0:4]))
	require.Equal(t, uint32(8), binary.LittleEndian.Uint32(table[4:8]))
	require.Equal(t, uint32(16), binary.LittleEndian.Uint32(table[8:12]))
}
