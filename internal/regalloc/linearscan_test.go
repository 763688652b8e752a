package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jitvm/internal/classfile"
	"jitvm/internal/ir"
	"jitvm/internal/stackanalysis"
)

func analyze(t *testing.T, code []byte) (*ir.Function, *stackanalysis.Result) {
	t.Helper()
	m := &classfile.Method{
		Owner:        &classfile.Class{Name: "T"},
		Name:         "m",
		Access:       classfile.AccStatic,
		Descriptor:   classfile.Descriptor{ReturnKind: classfile.KindInt},
		JCode:        code,
		MaxStack:     8,
		MaxLocals:    8,
		ConstantPool: &classfile.ConstantPool{},
	}
	f, err := ir.Parse(m)
	require.NoError(t, err)
	res, err := stackanalysis.Analyze(f)
	require.NoError(t, err)
	return f, res
}

func TestAllocate_FitsInFreeRegisters(t *testing.T) {
	// iconst_1; iconst_2; iadd; ireturn -- 3 int-class temporaries, plenty
	// of registers.
	code := []byte{
		byte(ir.OpIconst1), byte(ir.OpIconst2), byte(ir.OpIadd), byte(ir.OpIreturn),
	}
	f, res := analyze(t, code)

	pool := Pool{Registers: []RegID{0, 1, 2, 3}}
	frame := Allocate(f, res, pool, Pool{Registers: []RegID{10, 11}})
	require.Equal(t, 0, frame.IntSpillSlots)

	for _, s := range res.Slots[1:] {
		if s == nil || s.Type == classfile.KindVoid {
			continue
		}
		require.False(t, s.InMemory)
		require.NotEqual(t, int32(NoReg), s.RegOff)
	}
}

func TestAllocate_SpillsWhenPoolExhausted(t *testing.T) {
	// Five locals stored, then all five loaded before any is consumed, and
	// reduced with a left-leaning add chain so each local's live range
	// stretches from its store to a late, staggered final use — forcing
	// more than two of them to overlap against a 2-register pool.
	code := []byte{
		byte(ir.OpIconst1), byte(ir.OpIstore0),
		byte(ir.OpIconst2), byte(ir.OpIstore1),
		byte(ir.OpIconst3), byte(ir.OpIstore2),
		byte(ir.OpIconst4), byte(ir.OpIstore3),
		byte(ir.OpIconst5), byte(ir.OpIstore), 4,
		byte(ir.OpIload0), byte(ir.OpIload1), byte(ir.OpIload2), byte(ir.OpIload3), byte(ir.OpIload), 4,
		byte(ir.OpIadd), byte(ir.OpIadd), byte(ir.OpIadd), byte(ir.OpIadd),
		byte(ir.OpIreturn),
	}
	f, res := analyze(t, code)

	pool := Pool{Registers: []RegID{0, 1}}
	frame := Allocate(f, res, pool, Pool{Registers: []RegID{10, 11}})
	require.Greater(t, frame.IntSpillSlots, 0)

	regs, memCount := map[int32]bool{}, 0
	for _, s := range res.Slots[1:] {
		if s == nil {
			continue
		}
		if s.InMemory {
			memCount++
		} else if s.RegOff != int32(NoReg) {
			regs[s.RegOff] = true
		}
	}
	require.LessOrEqual(t, len(regs), 2)
	require.Greater(t, memCount, 0)
}

func TestPackRegsRoundTrip(t *testing.T) {
	packed := PackRegs(3, 7)
	require.EqualValues(t, 3, LowReg(packed))
	require.EqualValues(t, 7, HighReg(packed))
}
