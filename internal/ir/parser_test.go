package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jitvm/internal/classfile"
)

func testMethod(code []byte) *classfile.Method {
	return &classfile.Method{
		Owner:        &classfile.Class{Name: "T"},
		Name:         "m",
		Access:       classfile.AccStatic,
		Descriptor:   classfile.Descriptor{ReturnKind: classfile.KindInt},
		JCode:        code,
		MaxStack:     4,
		MaxLocals:    4,
		ConstantPool: &classfile.ConstantPool{},
	}
}

func TestParse_StraightLine(t *testing.T) {
	// iconst_1; ireturn
	code := []byte{byte(OpIconst1), byte(OpIreturn)}
	f, err := Parse(testMethod(code))
	require.NoError(t, err)
	require.Len(t, f.Blocks, 1)
	require.Equal(t, 0, f.Blocks[0].StartPC)
	require.Len(t, f.Blocks[0].Instructions, 2)
}

func TestParse_ConditionalBranchSplitsBlocks(t *testing.T) {
	// pc0: iconst_0
	// pc1: ifeq +7  -> target pc8 (the shared merge point)
	// pc4: iconst_1
	// pc5: goto +3  -> target pc8 (same merge point, falls through there too)
	// pc8: ireturn
	code := []byte{
		byte(OpIconst0),
		byte(OpIfeq), 0x00, 0x07,
		byte(OpIconst1),
		byte(OpGoto), 0x00, 0x03,
		byte(OpIreturn),
	}
	f, err := Parse(testMethod(code))
	require.NoError(t, err)
	require.Len(t, f.Blocks, 3)

	b0 := f.BlockAt(0)
	require.NotNil(t, b0)
	require.Len(t, b0.Targets, 1)
	require.NotNil(t, b0.Fallthrough)

	b1 := f.BlockAt(4)
	require.NotNil(t, b1)
	require.Len(t, b1.Targets, 1)
	require.Nil(t, b1.Fallthrough)

	merge := f.BlockAt(8)
	require.NotNil(t, merge)
	require.Same(t, merge, b0.Targets[0])
	require.Same(t, merge, b1.Targets[0])
}

func TestParse_ExceptionTableInducesLeaders(t *testing.T) {
	code := []byte{
		byte(OpNop),
		byte(OpNop),
		byte(OpIconst0),
		byte(OpIreturn),
		byte(OpIconst0), // handler: push 0 and return it; the exception is left unused
		byte(OpIreturn),
	}
	m := testMethod(code)
	m.ExceptionTable = []classfile.ExceptionTableEntry{
		{StartPC: 0, EndPC: 4, HandlerPC: 4, CatchType: nil},
	}
	f, err := Parse(m)
	require.NoError(t, err)

	handler := f.BlockAt(4)
	require.NotNil(t, handler)

	guarded := f.BlockAt(0)
	require.NotNil(t, guarded)
	require.Len(t, guarded.ExceptionEdges, 1)
	require.Same(t, handler, guarded.ExceptionEdges[0].Handler)
}

func TestParse_TableswitchAlignsTo4(t *testing.T) {
	// tableswitch at pc=1 (after a nop), default/low/high/one target, all
	// aligned to the next 4-byte boundary measured from pc 0.
	code := make([]byte, 0, 32)
	code = append(code, byte(OpNop))
	code = append(code, byte(OpTableswitch))
	// opcode at pc=1; next aligned boundary is pc=4 (pad 2 bytes since pc
	// after opcode byte is 2, needs 2 bytes padding to reach 4).
	code = append(code, 0, 0) // padding
	putI32 := func(v int32) {
		code = append(code, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	putI32(10) // default offset
	putI32(0)  // low
	putI32(0)  // high (one case: low..high inclusive => 1 target)
	putI32(9)  // case 0 offset
	code = append(code, byte(OpNop), byte(OpNop), byte(OpNop), byte(OpNop), byte(OpNop), byte(OpNop))
	code = append(code, byte(OpIreturn))

	f, err := Parse(testMethod(code))
	require.NoError(t, err)
	sw := f.Instructions[1]
	require.Equal(t, OpTableswitch, sw.Op)
	require.Equal(t, 2, len(sw.Imm.Targets)) // default + one case
}

func TestParse_WidePrefixedLoad(t *testing.T) {
	code := []byte{
		byte(OpWide), byte(OpIload), 0x01, 0x00, // wide iload #256
		byte(OpIreturn),
	}
	f, err := Parse(testMethod(code))
	require.NoError(t, err)
	require.Equal(t, OpIload, f.Instructions[0].Op)
	require.Equal(t, 256, f.Instructions[0].Imm.LocalIndex)
}
