// Package unwind implements spec.md §4.7: the per-target exception
// dispatch trampoline and the frame-by-frame stack walker, plus the
// baseval/diffval O(1) subtype check the dispatch table's catch-type
// match relies on (GLOSSARY: "Vtable (vftbl)").
//
// The trampoline and walker here model the *algorithm* asm_handle_exception
// runs, not its raw-memory realization: this module never has an actual
// native stack to read (nothing in this repository executes the machine
// code internal/codegen emits), so "unwind one frame" is expressed as an
// Unwinder a caller supplies — the driver's real implementation would read
// the saved frame base and return address out of process memory at the
// offsets its ISA's Prologue/Epilogue establish; a test supplies a fake
// chain of Frame values instead. Grounded on
// internal/engine/compiler/engine.go's moduleEngine trap-to-Go-error
// unwinding, generalized from "return a wasmruntime.Error" to "walk
// caller frames searching each one's exception-dispatch table".
package unwind

import (
	"jitvm/internal/classfile"
	"jitvm/internal/monitor"
	"jitvm/internal/vmerrors"
	"jitvm/internal/vmlog"
)

// ExceptionRange is one compiled method's exception-dispatch table entry,
// in machine-PC-offset terms (§4.5's "MPC equivalents" of the bytecode
// exception table). CatchType nil means "catches anything" (finally
// blocks, bare catch-all).
type ExceptionRange struct {
	StartMPC, EndMPC, HandlerMPC int64
	CatchType                    *classfile.ClassRef
}

// Code is the view of a compiled method unwind needs: its own dispatch
// table, whether it is synchronized (so Dispatch knows to call
// monitor_exit while unwinding past it), and the method for diagnostics.
type Code interface {
	Method() *classfile.Method
	ExceptionRanges() []ExceptionRange
	IsSynchronized() bool
}

// Frame is one activation record as the walker sees it: enough to search
// for a handler (PC, Code) and, if this frame must be unwound, enough to
// release its monitor (MonitorTarget, nil for non-synchronized methods).
type Frame struct {
	PC            int64
	Code          Code
	MonitorTarget interface{}
}

// Unwinder produces the caller of a given frame. ok is false once the walk
// passes the outermost frame (the exception propagates out of the thread).
type Unwinder interface {
	Caller(f Frame) (Frame, bool)
}

// Dispatcher runs spec.md §4.7(a)-(d).
type Dispatcher struct {
	monitors *monitor.Table
	log      *vmlog.Logger
}

// New builds a Dispatcher. monitors may be nil if no synchronized method
// will ever be unwound through (tests exercising only non-synchronized
// frames); log nil discards diagnostics.
func New(monitors *monitor.Table, log *vmlog.Logger) *Dispatcher {
	if log == nil {
		log = vmlog.Discard()
	}
	return &Dispatcher{monitors: monitors, log: log}
}

// Dispatch searches, starting at the faulting frame, for a handler whose
// range contains the frame's PC and whose catch type matches exc's class,
// unwinding (and releasing monitors) as it goes. It returns the frame to
// resume in and the matching range's HandlerMPC, or ok=false if the walk
// ran off the top of the stack — the exception is uncaught.
func (d *Dispatcher) Dispatch(exc *vmerrors.JavaException, thread monitor.ThreadID, start Frame, walker Unwinder) (handlerFrame Frame, handlerMPC int64, ok bool) {
	frame := start
	for {
		for _, r := range frame.Code.ExceptionRanges() {
			if frame.PC < r.StartMPC || frame.PC >= r.EndMPC {
				continue
			}
			if r.CatchType != nil && !isSubtype(exc.ClassRef, r.CatchType) {
				continue
			}
			d.log.Debug("exception handler found", "method", frame.Code.Method().Name, "handlerMPC", r.HandlerMPC)
			return frame, r.HandlerMPC, true
		}

		if frame.Code.IsSynchronized() && frame.MonitorTarget != nil && d.monitors != nil {
			if err := d.monitors.Exit(frame.MonitorTarget, thread); err != nil {
				d.log.Warn("monitor_exit during unwind failed", "method", frame.Code.Method().Name, "err", err)
			}
		}

		next, more := walker.Caller(frame)
		if !more {
			d.log.Debug("exception uncaught", "class", exc.Class)
			return Frame{}, 0, false
		}
		frame = next
	}
}

// isSubtype implements the vtable baseval/diffval O(1) subtype test: sub
// is a (transitive, reflexive) subtype of super iff sub.baseval -
// super.baseval, taken as unsigned, is at most super.diffval. A nil sub
// (an exception whose class was never resolved to a ClassRef) matches
// nothing narrower than a bare catch-all.
func isSubtype(sub, super *classfile.ClassRef) bool {
	if sub == nil {
		return false
	}
	diff := uint32(sub.VTableBase - super.VTableBase)
	return diff <= uint32(super.VTableDiff)
}
