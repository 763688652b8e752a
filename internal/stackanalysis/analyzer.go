package stackanalysis

import (
	"fmt"

	"jitvm/internal/classfile"
	"jitvm/internal/ir"
)

type localKey struct {
	idx  int
	kind classfile.Kind
}

type stackKey struct {
	depth int
	kind  classfile.Kind
}

type analyzer struct {
	f *ir.Function

	slots []*Slot

	localSlots map[localKey]*Slot
	stackSlots map[stackKey]*Slot

	maxStack int
}

// Analyze runs the stack analyzer over a parsed Function, assigning every
// instruction's Src/Dst ValueIDs and populating each block's InTypes/
// OutTypes/InDepth/OutDepth (spec.md §4.3). Blocks the parser marked
// unreachable are skipped, matching a real JIT's refusal to compile dead
// code.
func Analyze(f *ir.Function) (*Result, error) {
	a := &analyzer{
		f:          f,
		localSlots: map[localKey]*Slot{},
		stackSlots: map[stackKey]*Slot{},
		// slots[0] is the unused ValueID-zero sentinel.
		slots: make([]*Slot, 1),
	}

	if len(f.Blocks) == 0 {
		return &Result{Slots: a.slots}, nil
	}

	a.bindArgs(f.Method)

	entry := f.Blocks[0]
	entry.InDepth = 0
	entry.InTypes = nil

	queue := []*ir.BasicBlock{entry}
	queued := map[int]bool{entry.ID: true}

	for _, b := range f.Blocks {
		if !b.Reachable {
			continue
		}
		for _, e := range b.ExceptionEdges {
			if !queued[e.Handler.ID] {
				e.Handler.InDepth = 1
				e.Handler.InTypes = []classfile.Kind{classfile.KindAddress}
				queued[e.Handler.ID] = true
				queue = append(queue, e.Handler)
			}
		}
	}

	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if !b.Reachable {
			continue
		}
		if err := a.simulateBlock(b); err != nil {
			return nil, fmt.Errorf("stackanalysis: block@%d: %w", b.StartPC, err)
		}
		for _, s := range b.Successors() {
			if !queued[s.ID] {
				s.InDepth = b.OutDepth
				s.InTypes = append([]classfile.Kind(nil), b.OutTypes...)
				queued[s.ID] = true
				queue = append(queue, s)
			}
		}
	}

	return &Result{Slots: a.slots, MaxStack: a.maxStack}, nil
}

// bindArgs creates the ARG slots for the method's implicit receiver (if
// any) and declared parameters, at their calling-convention local indices.
// long/double parameters occupy two consecutive local-array indices in the
// JVM's addressing scheme even though they need only one Slot.
func (a *analyzer) bindArgs(m *classfile.Method) {
	bind := func(idx int, kind classfile.Kind) {
		s := a.newSlot(RoleArg, kind, idx)
		a.localSlots[localKey{idx: idx, kind: kind}] = s
	}
	idx := 0
	if !m.Access.IsStatic() {
		bind(idx, classfile.KindAddress)
		idx++
	}
	for _, k := range m.Descriptor.ParamKinds {
		bind(idx, k)
		if k == classfile.KindLong || k == classfile.KindDouble {
			idx += 2
		} else {
			idx++
		}
	}
}

func (a *analyzer) newSlot(role Role, kind classfile.Kind, varNum int) *Slot {
	s := &Slot{ID: uint32(len(a.slots)), Role: role, Type: kind, VarNum: varNum}
	a.slots = append(a.slots, s)
	return s
}

func (a *analyzer) localSlotFor(idx int, kind classfile.Kind) *Slot {
	key := localKey{idx: idx, kind: kind}
	if s, ok := a.localSlots[key]; ok {
		return s
	}
	s := a.newSlot(RoleLocal, kind, idx)
	a.localSlots[key] = s
	return s
}

// stackSlotFor returns the canonical interface slot for a given operand
// stack depth and type, shared by every block whose entry or exit stack has
// that (depth, type) shape. Two causally-unrelated regions of the same
// method that happen to reuse the same depth and type share a Slot too, the
// same way a real operand stack reuses the same frame memory for unrelated
// sub-expressions — correct because their lifetimes never overlap.
func (a *analyzer) stackSlotFor(depth int, kind classfile.Kind) *Slot {
	key := stackKey{depth: depth, kind: kind}
	if s, ok := a.stackSlots[key]; ok {
		return s
	}
	s := a.newSlot(RoleStack, kind, depth)
	a.stackSlots[key] = s
	return s
}

func (a *analyzer) simulateBlock(b *ir.BasicBlock) error {
	stack := make([]*Slot, 0, b.InDepth+4)
	for d, k := range b.InTypes {
		stack = append(stack, a.stackSlotFor(d, k))
	}

	for _, in := range b.Instructions {
		if err := a.simulateInstr(in, &stack); err != nil {
			return fmt.Errorf("pc=%d op=0x%02x: %w", in.PC, byte(in.Op), err)
		}
	}

	b.OutDepth = len(stack)
	b.OutTypes = make([]classfile.Kind, len(stack))
	for i, s := range stack {
		b.OutTypes[i] = s.Type
	}
	if len(stack) > a.maxStack {
		a.maxStack = len(stack)
	}
	return nil
}

func (a *analyzer) push(stack *[]*Slot, in *ir.Instruction, kind classfile.Kind) {
	s := a.newSlot(RoleTemp, kind, len(*stack))
	*stack = append(*stack, s)
	in.Dst = ir.ValueID(s.ID)
	in.DstKind = kind
}

func (a *analyzer) pop(stack *[]*Slot) (*Slot, error) {
	n := len(*stack)
	if n == 0 {
		return nil, fmt.Errorf("stack underflow")
	}
	s := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return s, nil
}

func (a *analyzer) popInto(stack *[]*Slot, dst *ir.ValueID) (*Slot, error) {
	s, err := a.pop(stack)
	if err != nil {
		return nil, err
	}
	*dst = ir.ValueID(s.ID)
	return s, nil
}
