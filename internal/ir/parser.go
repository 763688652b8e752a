package ir

import (
	"fmt"
	"sort"

	"jitvm/internal/classfile"
)

// Parse decodes a verified method's bytecode into a flat IR instruction
// array and a basic-block partition, per spec.md §4.2. The verifier has
// already run (out of scope, §1); Parse does not re-validate operand
// ranges beyond what is needed to avoid panicking on malformed input, since
// a genuinely corrupt method should never reach the JIT.
func Parse(m *classfile.Method) (*Function, error) {
	code := m.JCode
	if len(code) == 0 {
		return nil, fmt.Errorf("ir: method %s.%s has no bytecode", classNameOf(m), m.Name)
	}

	d := &decoder{code: code, pool: m.ConstantPool}
	leaders := map[int]bool{0: true}
	var raw []*Instruction

	for d.pc < len(code) {
		start := d.pc
		in, err := d.decodeOne()
		if err != nil {
			return nil, fmt.Errorf("ir: %s.%s at pc=%d: %w", classNameOf(m), m.Name, start, err)
		}
		in.PC = start
		in.Len = d.pc - start
		raw = append(raw, in)

		// Every branch instruction — conditional or not — ends its block:
		// a conditional branch forks into a taken edge and a fallthrough
		// edge, so the fallthrough PC must start a new block too, or the
		// block would have an exit in its middle.
		if (isUnconditionalTransfer(in.Op) || isBranch(in.Op)) && d.pc < len(code) {
			leaders[d.pc] = true
		}
		if isBranch(in.Op) {
			for _, t := range in.branchTargetPCs {
				leaders[t] = true
			}
		}
	}

	for i := range m.ExceptionTable {
		e := &m.ExceptionTable[i]
		leaders[e.StartPC] = true
		leaders[e.EndPC] = true
		leaders[e.HandlerPC] = true
	}

	f := &Function{Method: m, pcToBlock: map[int]*BasicBlock{}, MaxStack: m.MaxStack, MaxLocals: m.MaxLocals}

	sortedLeaders := make([]int, 0, len(leaders))
	for pc := range leaders {
		sortedLeaders = append(sortedLeaders, pc)
	}
	sort.Ints(sortedLeaders)

	blocks := make([]*BasicBlock, 0, len(sortedLeaders))
	for i, start := range sortedLeaders {
		end := len(code)
		if i+1 < len(sortedLeaders) {
			end = sortedLeaders[i+1]
		}
		b := &BasicBlock{ID: i, StartPC: start, EndPC: end}
		blocks = append(blocks, b)
		f.pcToBlock[start] = b
	}
	f.Blocks = blocks

	bi := 0
	for _, in := range raw {
		for bi+1 < len(blocks) && blocks[bi+1].StartPC <= in.PC {
			bi++
		}
		b := blocks[bi]
		in.Block = b
		b.Instructions = append(b.Instructions, in)
		if in.Op == OpJsr || in.Op == OpJsrW {
			f.HasJsr = true
		}
	}
	f.Instructions = raw

	for bi, b := range blocks {
		last := lastInstruction(b)
		if last != nil {
			resolveTargets(f, last)
			if !isUnconditionalTransfer(last.Op) && bi+1 < len(blocks) {
				b.Fallthrough = blocks[bi+1]
			}
		} else if bi+1 < len(blocks) {
			// An empty block (two leaders at adjacent PCs, e.g. a handler
			// PC that coincides with an existing leader) simply falls
			// through.
			b.Fallthrough = blocks[bi+1]
		}
	}

	for i := range m.ExceptionTable {
		e := &m.ExceptionTable[i]
		handler := f.pcToBlock[e.HandlerPC]
		for _, b := range blocks {
			if b.StartPC >= e.StartPC && b.StartPC < e.EndPC {
				b.ExceptionEdges = append(b.ExceptionEdges, ExceptionEdge{Handler: handler, CatchType: e.CatchType})
			}
		}
	}

	markReachable(f)

	return f, nil
}

func classNameOf(m *classfile.Method) string {
	if m.Owner == nil {
		return "?"
	}
	return m.Owner.Name
}

func lastInstruction(b *BasicBlock) *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

func resolveTargets(f *Function, in *Instruction) {
	for _, pc := range in.branchTargetPCs {
		blk := f.pcToBlock[pc]
		in.Imm.Targets = append(in.Imm.Targets, blk)
	}
}

func markReachable(f *Function) {
	if len(f.Blocks) == 0 {
		return
	}
	var stack []*BasicBlock
	visit := func(b *BasicBlock) {
		if !b.Reachable {
			b.Reachable = true
			stack = append(stack, b)
		}
	}
	visit(f.Blocks[0])
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range b.Successors() {
			visit(s)
		}
		for _, e := range b.ExceptionEdges {
			visit(e.Handler)
		}
	}
}
