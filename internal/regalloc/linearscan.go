package regalloc

import (
	"sort"

	"jitvm/internal/ir"
	"jitvm/internal/stackanalysis"
)

// Frame reports how many spill slots each class needed, so internal/
// codegen can size the method's stack frame before emitting the prologue.
type Frame struct {
	IntSpillSlots   int
	FloatSpillSlots int
}

// Allocate runs linear-scan register allocation over every stackanalysis
// Slot reachable from f's instructions, assigning each one either a
// register (Slot.InMemory == false, Slot.RegOff == register number, or a
// PackRegs-encoded pair if pool.Wide) or a spill-frame slot index
// (Slot.InMemory == true). Slots never referenced by any instruction are
// left unallocated (RegOff == int32(NoReg)) — internal/codegen must skip
// them (e.g. an unused method parameter needs no home).
func Allocate(f *ir.Function, res *stackanalysis.Result, intPool, floatPool Pool) Frame {
	for _, s := range res.Slots {
		if s == nil {
			continue
		}
		s.InMemory = false
		s.RegOff = int32(NoReg)
	}

	ivs := computeIntervals(f, res)

	var intIvs, floatIvs []*interval
	for _, iv := range ivs {
		if ClassOf(iv.slot.Type) == ClassInt {
			intIvs = append(intIvs, iv)
		} else {
			floatIvs = append(floatIvs, iv)
		}
	}

	var frame Frame
	frame.IntSpillSlots = scanClass(intIvs, intPool)
	frame.FloatSpillSlots = scanClass(floatIvs, floatPool)
	return frame
}

type activeEntry struct {
	iv      *interval
	reg, hi RegID
}

// scanClass runs the classic Poletto & Sarkar linear-scan pass for one
// register class and returns the number of distinct spill slots it used.
// Eviction policy: when no free register remains, spill whichever active
// interval — the new one or the longest-remaining active one — ends
// furthest in program order, matching linear scan's standard heuristic;
// which specific active register to steal (rather than how to choose to
// steal at all) follows compiler_value_location.go's
// takeStealTargetFromUsedRegister, which just takes any in-use register of
// the right class with no further ranking.
func scanClass(ivs []*interval, pool Pool) int {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].start != ivs[j].start {
			return ivs[i].start < ivs[j].start
		}
		return ivs[i].slot.ID < ivs[j].slot.ID
	})

	free := pool.freeList()
	var active []*activeEntry
	spillSlots := 0
	nextSpill := 0

	expire := func(pos int) {
		kept := active[:0]
		for _, e := range active {
			if e.iv.end < pos {
				free = append(free, e.reg)
				if e.hi != NoReg {
					free = append(free, e.hi)
				}
				continue
			}
			kept = append(kept, e)
		}
		active = kept
	}

	takeRegs := func(n int) ([]RegID, bool) {
		if len(free) < n {
			return nil, false
		}
		regs := append([]RegID(nil), free[len(free)-n:]...)
		free = free[:len(free)-n]
		return regs, true
	}

	assignSpill := func(iv *interval) {
		iv.slot.InMemory = true
		iv.slot.RegOff = int32(nextSpill)
		nextSpill++
		if nextSpill > spillSlots {
			spillSlots = nextSpill
		}
	}

	for _, iv := range ivs {
		expire(iv.start)
		need := 1
		if pool.Wide && iv.slot.Type.Size64() {
			need = 2
		}

		if regs, ok := takeRegs(need); ok {
			e := &activeEntry{iv: iv, reg: regs[0], hi: NoReg}
			if need == 2 {
				e.hi = regs[1]
				iv.slot.RegOff = PackRegs(e.reg, e.hi)
			} else {
				iv.slot.RegOff = int32(e.reg)
			}
			iv.slot.InMemory = false
			active = append(active, e)
			continue
		}

		// No free register of this class: evict the active interval (of
		// this class) ending furthest away, if it outlives the new one;
		// otherwise the new interval spills instead.
		victim := -1
		for i, e := range active {
			if victim == -1 || e.iv.end > active[victim].iv.end {
				victim = i
			}
		}
		if victim != -1 && active[victim].iv.end > iv.end {
			v := active[victim]
			active = append(active[:victim], active[victim+1:]...)
			assignSpill(v.iv)
			e := &activeEntry{iv: iv, reg: v.reg, hi: v.hi}
			if v.hi != NoReg {
				iv.slot.RegOff = PackRegs(v.reg, v.hi)
			} else {
				iv.slot.RegOff = int32(v.reg)
			}
			iv.slot.InMemory = false
			active = append(active, e)
			continue
		}
		assignSpill(iv)
	}

	return spillSlots
}
