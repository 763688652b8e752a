package stackanalysis

import "fmt"

// The dup*/swap/pop2 family manipulates the operand stack directly in
// terms of "computational category" (JVM spec §2.11.1): a category-2 value
// (long, double) counts as occupying the space of two category-1 slots for
// these opcodes, even though stackanalysis represents it as a single Slot.
// None of these opcodes allocate a fresh Slot; they only reorder existing
// ones, so no ir.Instruction Src/Dst bookkeeping is needed — the emitter
// reads the reordered stack directly off the surrounding instructions'
// operands.

func (a *analyzer) popCategory2Slots(stack *[]*Slot) error {
	top, err := a.pop(stack)
	if err != nil {
		return err
	}
	if top.Type.Size64() {
		return nil
	}
	_, err = a.pop(stack)
	return err
}

// dupInsert duplicates the top dupCount slots and reinserts the copy skip
// slots further down, leaving the original top group in place. This is the
// one shape every dup* opcode reduces to, once dupCount/skip are derived
// from which operands are category-1 vs category-2 (JVM spec §2.11.1,
// table 4.10.2.5).
func (a *analyzer) dupInsert(stack *[]*Slot, dupCount, skip int) error {
	n := len(*stack)
	if n < dupCount+skip {
		return fmt.Errorf("stack underflow")
	}
	s := *stack
	dupGroup := append([]*Slot(nil), s[n-dupCount:n]...)
	middle := append([]*Slot(nil), s[n-dupCount-skip:n-dupCount]...)
	out := make([]*Slot, 0, n+dupCount)
	out = append(out, s[:n-dupCount-skip]...)
	out = append(out, dupGroup...)
	out = append(out, middle...)
	out = append(out, dupGroup...)
	*stack = out
	return nil
}

func (a *analyzer) dup(stack *[]*Slot) error {
	return a.dupInsert(stack, 1, 0)
}

func (a *analyzer) dupX1(stack *[]*Slot) error {
	return a.dupInsert(stack, 1, 1)
}

func (a *analyzer) dupX2(stack *[]*Slot) error {
	n := len(*stack)
	if n < 2 {
		return fmt.Errorf("stack underflow")
	}
	if (*stack)[n-2].Type.Size64() {
		return a.dupInsert(stack, 1, 1) // form2: value2 is category 2
	}
	return a.dupInsert(stack, 1, 2) // form1: value2, value3 both category 1
}

func (a *analyzer) dup2(stack *[]*Slot) error {
	n := len(*stack)
	if n < 1 {
		return fmt.Errorf("stack underflow")
	}
	if (*stack)[n-1].Type.Size64() {
		return a.dupInsert(stack, 1, 0) // form2: value1 alone is category 2
	}
	return a.dupInsert(stack, 2, 0) // form1: value1, value2 both category 1
}

func (a *analyzer) dup2X1(stack *[]*Slot) error {
	n := len(*stack)
	if n < 1 {
		return fmt.Errorf("stack underflow")
	}
	if (*stack)[n-1].Type.Size64() {
		return a.dupInsert(stack, 1, 1) // form2
	}
	return a.dupInsert(stack, 2, 1) // form1
}

func (a *analyzer) dup2X2(stack *[]*Slot) error {
	n := len(*stack)
	if n < 1 {
		return fmt.Errorf("stack underflow")
	}
	if (*stack)[n-1].Type.Size64() {
		if n >= 2 && (*stack)[n-2].Type.Size64() {
			return a.dupInsert(stack, 1, 1) // form4
		}
		return a.dupInsert(stack, 1, 2) // form2
	}
	if n >= 3 && (*stack)[n-3].Type.Size64() {
		return a.dupInsert(stack, 2, 1) // form3
	}
	return a.dupInsert(stack, 2, 2) // form1
}

func (a *analyzer) swap(stack *[]*Slot) error {
	n := len(*stack)
	if n < 2 {
		return fmt.Errorf("stack underflow")
	}
	(*stack)[n-1], (*stack)[n-2] = (*stack)[n-2], (*stack)[n-1]
	return nil
}
