package regalloc

import (
	"jitvm/internal/ir"
	"jitvm/internal/stackanalysis"
)

// interval is a slot's live range expressed as positions in f.Instructions,
// which is in bytecode PC order — a reasonable linear-scan proxy for
// emission order, since internal/codegen does not reorder blocks.
type interval struct {
	slot       *stackanalysis.Slot
	start, end int
	used       bool
}

func computeIntervals(f *ir.Function, res *stackanalysis.Result) []*interval {
	byID := make(map[uint32]*interval, len(res.Slots))
	get := func(id ir.ValueID) *interval {
		if id == 0 {
			return nil
		}
		iv, ok := byID[uint32(id)]
		if !ok {
			iv = &interval{slot: res.Slots[uint32(id)], start: -1, end: -1}
			byID[uint32(id)] = iv
		}
		return iv
	}

	touch := func(iv *interval, pos int) {
		if iv == nil {
			return
		}
		iv.used = true
		if iv.start == -1 || pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
	}

	for pos, in := range f.Instructions {
		touch(get(in.Src[0]), pos)
		touch(get(in.Src[1]), pos)
		touch(get(in.Src[2]), pos)
		touch(get(in.Dst), pos)
		touch(get(in.AliasOf), pos)
	}

	out := make([]*interval, 0, len(byID))
	for _, iv := range byID {
		if iv.slot.Role == stackanalysis.RoleArg {
			iv.start = 0 // live from method entry regardless of first use
		}
		out = append(out, iv)
	}
	return out
}
